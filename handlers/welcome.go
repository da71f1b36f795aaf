package handlers

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"modbot/config"
	"modbot/lang"
	"modbot/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

func welcomeCommands() []*discordgo.ApplicationCommand {
	textChannel := []discordgo.ChannelType{discordgo.ChannelTypeGuildText}
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "welcome",
			Description:              "Configure welcome and leave messages",
			DefaultMemberPermissions: &adminPerm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name: "channel", Description: "Set the welcome channel",
					Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Channel for welcome messages", Required: true, ChannelTypes: textChannel},
					},
				},
				{
					Name: "leave-channel", Description: "Set the leave channel",
					Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Channel for leave messages", Required: true, ChannelTypes: textChannel},
					},
				},
				{
					Name: "test", Description: "Preview the welcome message with yourself",
					Type: discordgo.ApplicationCommandOptionSubCommand,
				},
			},
		},
		joinRoleCommand(),
	}
}

func RegisterWelcomeLeave(s *discordgo.Session) {
	s.AddHandler(func(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
		handleMemberJoin(s, m.Member)
	})
	s.AddHandler(func(s *discordgo.Session, m *discordgo.GuildMemberRemove) {
		handleMemberLeave(s, m.Member)
	})
}

func handleMemberJoin(s Session, m *discordgo.Member) {
	if m == nil || m.User == nil {
		return
	}
	cfg := storage.Cfg
	gs := storage.GetGuild(m.GuildID)
	gs.RLock()
	channelID := config.EffectiveWelcomeChannel(cfg, gs)
	gs.RUnlock()

	if cfg.Welcome.Enabled && channelID != "" {
		embed := buildWelcomeLeaveEmbed(s, &cfg.Welcome, m.User, m.GuildID)
		if _, err := s.ChannelMessageSendEmbed(channelID, embed); err != nil {
			slog.Warn("failed to send welcome message", tint.Err(err), "guild_id", m.GuildID, "channel_id", channelID)
		}
	}
	if !m.User.Bot {
		assignJoinRole(s, m.GuildID, m.User.ID)
	}
}

func handleMemberLeave(s Session, m *discordgo.Member) {
	if m == nil || m.User == nil {
		return
	}
	cfg := storage.Cfg
	if !cfg.Leave.Enabled {
		return
	}
	gs := storage.GetGuild(m.GuildID)
	gs.RLock()
	channelID := config.EffectiveLeaveChannel(cfg, gs)
	gs.RUnlock()
	if channelID == "" {
		return
	}

	embed := buildWelcomeLeaveEmbed(s, &cfg.Leave, m.User, m.GuildID)
	if _, err := s.ChannelMessageSendEmbed(channelID, embed); err != nil {
		slog.Warn("failed to send leave message", tint.Err(err), "guild_id", m.GuildID, "channel_id", channelID)
	}
}

// fillPlaceholders expands %joined_user%, %username%, %server% and
// %member_count%. mention controls how %joined_user% renders.
func fillPlaceholders(text string, user *discordgo.User, server string, members int, mention bool) string {
	joined := user.Username
	if mention {
		joined = user.Mention()
	}
	r := strings.NewReplacer(
		"%joined_user%", joined,
		"%username%", user.Username,
		"%server%", server,
		"%member_count%", strconv.Itoa(members),
	)
	return r.Replace(text)
}

func buildWelcomeLeaveEmbed(s Session, cfg *config.WelcomeConfig, user *discordgo.User, guildID string) *discordgo.MessageEmbed {
	server, members := "", 0
	if g, err := s.GuildWithCounts(guildID); err == nil {
		server = g.Name
		members = g.ApproximateMemberCount
		if members == 0 {
			members = g.MemberCount
		}
	}

	colour := colorMain
	if cfg.Embed.Colour != "" {
		if v, err := parseColour(cfg.Embed.Colour); err == nil {
			colour = v
		}
	}

	embed := &discordgo.MessageEmbed{
		Title:       fillPlaceholders(cfg.Embed.Title, user, server, members, false),
		Description: fillPlaceholders(cfg.Embed.Message, user, server, members, true),
		Color:       colour,
		Timestamp:   now(),
	}

	if cfg.Embed.Thumbnail != "" {
		thumbURL := cfg.Embed.Thumbnail
		if strings.EqualFold(thumbURL, "BOT") {
			thumbURL = botUser().AvatarURL("256")
		} else if strings.EqualFold(thumbURL, "USER") {
			thumbURL = user.AvatarURL("256")
		}
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: thumbURL}
	}

	if cfg.Embed.ImageEnabled && cfg.Embed.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: cfg.Embed.ImageURL}
	}

	return embed
}

func handleWelcomeCommand(s Session, i *discordgo.InteractionCreate) {
	if !isAdmin(s, i) {
		replyError(s, i, lang.T("no_permission"))
		return
	}
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]
	gs := storage.GetGuild(i.GuildID)

	switch sub.Name {
	case "channel":
		channelID := optID(subOptMap(sub.Options), "channel")
		gs.Lock()
		gs.WelcomeChannelOverride = channelID
		gs.Unlock()
		saveGuild(gs)
		respondEmbed(s, i, successEmbed("Welcome channel set", fmt.Sprintf("New members will be greeted in <#%s>.", channelID)), true)

	case "leave-channel":
		channelID := optID(subOptMap(sub.Options), "channel")
		gs.Lock()
		gs.LeaveChannelOverride = channelID
		gs.Unlock()
		saveGuild(gs)
		respondEmbed(s, i, successEmbed("Leave channel set", fmt.Sprintf("Leave messages will be sent to <#%s>.", channelID)), true)

	case "test":
		gs.RLock()
		channelID := config.EffectiveWelcomeChannel(storage.Cfg, gs)
		gs.RUnlock()
		embed := buildWelcomeLeaveEmbed(s, &storage.Cfg.Welcome, invoker(i), i.GuildID)
		if channelID == "" {
			respondEmbed(s, i, embed, true)
			return
		}
		if _, err := s.ChannelMessageSendEmbed(channelID, embed); err != nil {
			replyError(s, i, restErrorMessage(err))
			return
		}
		respondEmbed(s, i, successEmbed("Test sent", fmt.Sprintf("Preview posted in <#%s>.", channelID)), true)
	}
}
