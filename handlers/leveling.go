package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"modbot/config"
	"modbot/lang"
	"modbot/leveling"
	"modbot/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"github.com/lmittmann/tint"
)

func levelingCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "rank",
			Description: "Show a member's level and XP",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "member", Description: "Member to inspect"},
			},
		},
		{
			Name:        "leaderboard",
			Description: "Show the server's top 10 by XP",
		},
		{
			Name:                     "levelchannel",
			Description:              "Set or clear the level-up announcement channel",
			DefaultMemberPermissions: &adminPerm,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Channel for level-up messages (empty to clear)", ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText}},
			},
		},
	}
}

func handleMessageCreate(s Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	cfg := storage.Cfg
	if cfg.Leveling.Enabled {
		awardXP(s, m)
	}
	if cfg.Latex.Enabled {
		handleLatexMessage(s, m)
	}
}

func awardXP(s Session, m *discordgo.MessageCreate) {
	if xp == nil {
		return
	}
	gained := xp.Award(m.GuildID, m.Author.ID)
	if gained == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := storage.Cfg
	rec, err := storage.DB.GetXP(ctx, m.GuildID, m.Author.ID)
	if err != nil {
		slog.Warn("failed to load xp", tint.Err(err), "guild_id", m.GuildID, "user_id", m.Author.ID)
		return
	}
	oldLevel, newLevel := leveling.Apply(&rec, gained, cfg.Leveling.XPPerLevel, time.Now().UTC())
	if err := storage.DB.SaveXP(ctx, rec); err != nil {
		slog.Warn("failed to save xp", tint.Err(err), "guild_id", m.GuildID, "user_id", m.Author.ID)
		return
	}
	if newLevel <= oldLevel {
		return
	}

	slog.Debug("level up", "guild_id", m.GuildID, "user_id", m.Author.ID, "level", newLevel)
	announceLevelUp(s, m, newLevel)

	for _, roleID := range leveling.RewardsFor(oldLevel, newLevel, cfg.Leveling.RoleRewards) {
		if err := s.GuildMemberRoleAdd(m.GuildID, m.Author.ID, roleID, discordgo.WithAuditLogReason(fmt.Sprintf("Reached level %d", newLevel))); err != nil {
			slog.Warn("failed to grant level reward", tint.Err(err), "guild_id", m.GuildID, "role_id", roleID)
		}
	}
}

func announceLevelUp(s Session, m *discordgo.MessageCreate, level int) {
	gs := storage.GetGuild(m.GuildID)
	gs.RLock()
	channelID := config.EffectiveLevelChannel(storage.Cfg, gs)
	gs.RUnlock()
	if channelID == "" {
		channelID = m.ChannelID
	}

	embed := modEmbed("🎉 Level up!", lang.T("level_up", "user", m.Author.Mention(), "level", fmt.Sprint(level)))
	embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: m.Author.AvatarURL("128")}
	if _, err := s.ChannelMessageSendEmbed(channelID, embed); err != nil {
		slog.Warn("failed to announce level up", tint.Err(err), "channel_id", channelID)
	}
}

func handleRank(s Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	target := optUser(i, opts, "member")
	if target == nil {
		target = invoker(i)
	}

	ctx := context.Background()
	rec, err := storage.DB.GetXP(ctx, i.GuildID, target.ID)
	if err != nil {
		slog.Error("failed to load xp", tint.Err(err), "guild_id", i.GuildID, "user_id", target.ID)
		replyError(s, i, lang.T("generic_error"))
		return
	}
	pos, err := storage.DB.XPRank(ctx, i.GuildID, target.ID)
	if err != nil {
		slog.Warn("failed to load rank", tint.Err(err), "guild_id", i.GuildID, "user_id", target.ID)
	}

	perLevel := storage.Cfg.Leveling.XPPerLevel
	level := leveling.Level(rec.XP, perLevel)
	cur, needed := leveling.Progress(rec.XP, perLevel)

	position := "Unranked"
	if pos > 0 {
		position = "#" + humanize.Comma(int64(pos))
	}

	embed := modEmbed("📊 Rank of "+target.Username, "")
	embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: target.AvatarURL("256")}
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Level", Value: fmt.Sprint(level), Inline: true},
		{Name: "Total XP", Value: humanize.Comma(rec.XP), Inline: true},
		{Name: "Position", Value: position, Inline: true},
		{Name: "Progress", Value: fmt.Sprintf("%s %d/%d XP", leveling.ProgressBar(cur, needed, 10), cur, needed)},
		{Name: "Messages", Value: humanize.Comma(rec.Messages), Inline: true},
	}
	respondEmbed(s, i, embed, false)
}

func handleLeaderboard(s Session, i *discordgo.InteractionCreate) {
	top, err := storage.DB.TopXP(context.Background(), i.GuildID, 10)
	if err != nil {
		slog.Error("failed to load leaderboard", tint.Err(err), "guild_id", i.GuildID)
		replyError(s, i, lang.T("generic_error"))
		return
	}
	if len(top) == 0 {
		respondEmbed(s, i, modEmbed("🏆 Leaderboard", "Nobody has earned XP yet."), false)
		return
	}

	medals := []string{"🥇", "🥈", "🥉"}
	perLevel := storage.Cfg.Leveling.XPPerLevel
	var sb strings.Builder
	for n, rec := range top {
		place := fmt.Sprintf("`#%d`", n+1)
		if n < len(medals) {
			place = medals[n]
		}
		fmt.Fprintf(&sb, "%s <@%s> • Level **%d** • %s XP\n", place, rec.UserID, leveling.Level(rec.XP, perLevel), humanize.Comma(rec.XP))
	}
	respondEmbed(s, i, modEmbed("🏆 Leaderboard", sb.String()), false)
}

func handleLevelChannel(s Session, i *discordgo.InteractionCreate) {
	if !isAdmin(s, i) {
		replyError(s, i, lang.T("no_permission"))
		return
	}
	channelID := optID(optionMap(i), "channel")

	gs := storage.GetGuild(i.GuildID)
	gs.Lock()
	gs.LevelChannelOverride = channelID
	gs.Unlock()
	if err := gs.Save(); err != nil {
		slog.Error("failed to save guild state", tint.Err(err), "guild_id", i.GuildID)
	}

	if channelID == "" {
		respondEmbed(s, i, successEmbed("Level channel cleared", "Level-ups will be announced where the member is chatting."), true)
		return
	}
	respondEmbed(s, i, successEmbed("Level channel set", fmt.Sprintf("Level-ups will be announced in <#%s>.", channelID)), true)
}
