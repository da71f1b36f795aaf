package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"modbot/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
)

func infoCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "ping",
			Description: "Show the bot's gateway latency",
		},
		{
			Name:        "userinfo",
			Description: "Show information about a member",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "member", Description: "Member to inspect"},
			},
		},
		{
			Name:        "serverinfo",
			Description: "Show information about this server",
		},
		{
			Name:        "avatar",
			Description: "Show a member's avatar",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "member", Description: "Member whose avatar to show"},
			},
		},
	}
}

func handlePing(s Session, i *discordgo.InteractionCreate) {
	ms := s.HeartbeatLatency().Milliseconds()
	respondEmbed(s, i, modEmbed("🏓 Pong!", fmt.Sprintf("Gateway latency: **%d ms**", ms)), false)
}

func handleUserinfo(s Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	target := optUser(i, opts, "member")
	if target == nil {
		target = invoker(i)
	}

	member, err := s.GuildMember(i.GuildID, target.ID)
	if err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}
	if member.User != nil {
		target = member.User
	}

	created := snowflakeTime(target.ID)
	joined := "unknown"
	if !member.JoinedAt.IsZero() {
		joined = fmt.Sprintf("<t:%d:F> (%s)", member.JoinedAt.Unix(), humanize.Time(member.JoinedAt))
	}

	roles := "None"
	if len(member.Roles) > 0 {
		r := make([]string, len(member.Roles))
		for idx, rid := range member.Roles {
			r[idx] = "<@&" + rid + ">"
		}
		roles = strings.Join(r, ", ")
	}

	warnCount := 0
	if w, err := storage.DB.GetWarnings(context.Background(), i.GuildID, target.ID); err == nil {
		warnCount = len(w)
	}

	embed := modEmbed("👤 "+target.Username, "")
	embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: target.AvatarURL("256")}
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "ID", Value: target.ID, Inline: true},
		{Name: "Nickname", Value: orDash(member.Nick), Inline: true},
		{Name: "Bot", Value: yesNo(target.Bot), Inline: true},
		{Name: "Account created", Value: fmt.Sprintf("<t:%d:F> (%s)", created.Unix(), humanize.Time(created))},
		{Name: "Joined server", Value: joined},
		{Name: fmt.Sprintf("Roles (%d)", len(member.Roles)), Value: roles},
		{Name: "Warnings", Value: strconv.Itoa(warnCount), Inline: true},
	}
	if member.CommunicationDisabledUntil != nil && member.CommunicationDisabledUntil.After(time.Now()) {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Muted until", Value: fmt.Sprintf("<t:%d:R>", member.CommunicationDisabledUntil.Unix()), Inline: true,
		})
	}
	respondEmbed(s, i, embed, false)
}

func handleServerinfo(s Session, i *discordgo.InteractionCreate) {
	g, err := s.GuildWithCounts(i.GuildID)
	if err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}

	created := snowflakeTime(g.ID)
	members := g.ApproximateMemberCount
	if members == 0 {
		members = g.MemberCount
	}

	embed := modEmbed("🏠 "+g.Name, "")
	if icon := g.IconURL("256"); icon != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: icon}
	}
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "ID", Value: g.ID, Inline: true},
		{Name: "Owner", Value: "<@" + g.OwnerID + ">", Inline: true},
		{Name: "Members", Value: humanize.Comma(int64(members)), Inline: true},
		{Name: "Roles", Value: strconv.Itoa(len(g.Roles)), Inline: true},
		{Name: "Emojis", Value: strconv.Itoa(len(g.Emojis)), Inline: true},
		{Name: "Boosts", Value: fmt.Sprintf("%d (tier %d)", g.PremiumSubscriptionCount, g.PremiumTier), Inline: true},
		{Name: "Created", Value: fmt.Sprintf("<t:%d:F> (%s)", created.Unix(), humanize.Time(created))},
	}
	respondEmbed(s, i, embed, false)
}

func handleAvatar(s Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	target := optUser(i, opts, "member")
	if target == nil {
		target = invoker(i)
	}

	base := target.AvatarURL("1024")
	embed := modEmbed("🖼️ Avatar of "+target.Username, avatarLinks(target))
	embed.Image = &discordgo.MessageEmbedImage{URL: base}
	respondEmbed(s, i, embed, false)
}

// avatarLinks lists PNG, JPG and WEBP variants of a custom avatar.
func avatarLinks(u *discordgo.User) string {
	if u.Avatar == "" {
		return fmt.Sprintf("[PNG](%s)", u.AvatarURL(""))
	}
	base := discordgo.EndpointUserAvatar(u.ID, u.Avatar)
	base = strings.TrimSuffix(base, ".png")
	links := make([]string, 0, 3)
	for _, ext := range []string{"png", "jpg", "webp"} {
		links = append(links, fmt.Sprintf("[%s](%s.%s?size=1024)", strings.ToUpper(ext), base, ext))
	}
	return strings.Join(links, " | ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
