package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"modbot/lang"
	"modbot/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"github.com/lmittmann/tint"
)

var (
	banPermission      int64 = discordgo.PermissionBanMembers
	kickPermission     int64 = discordgo.PermissionKickMembers
	timeoutPermission  int64 = discordgo.PermissionModerateMembers
	messagesPermission int64 = discordgo.PermissionManageMessages
	channelsPermission int64 = discordgo.PermissionManageChannels
	adminPerm          int64 = discordgo.PermissionAdministrator
)

const maxTimeout = 28 * 24 * time.Hour

func moderationCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "ban",
			Description:              "Ban a member from the server",
			DefaultMemberPermissions: &banPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to ban", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason for ban"},
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "days", Description: "Days of messages to delete (0-7)"},
			},
		},
		{
			Name:                     "unban",
			Description:              "Unban a user from the server",
			DefaultMemberPermissions: &banPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "user-id", Description: "User ID to unban", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason for unban"},
			},
		},
		{
			Name:                     "kick",
			Description:              "Kick a member from the server",
			DefaultMemberPermissions: &kickPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to kick", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason for kick"},
			},
		},
		{
			Name:                     "mute",
			Description:              "Timeout (mute) a member",
			DefaultMemberPermissions: &timeoutPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to mute", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "duration", Description: "Duration (e.g. 10m, 1h, 1d)", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason for mute"},
			},
		},
		{
			Name:                     "unmute",
			Description:              "Remove timeout from a member",
			DefaultMemberPermissions: &timeoutPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to unmute", Required: true},
			},
		},
		{
			Name:                     "warn",
			Description:              "Issue a warning to a member",
			DefaultMemberPermissions: &timeoutPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to warn", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason for warning", Required: true},
			},
		},
		{
			Name:                     "warnings",
			Description:              "View warnings for a member",
			DefaultMemberPermissions: &timeoutPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to check", Required: true},
			},
		},
		{
			Name:                     "clearwarnings",
			Description:              "Clear all warnings for a member",
			DefaultMemberPermissions: &adminPerm,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to clear warnings for", Required: true},
			},
		},
		{
			Name:                     "clear",
			Description:              "Delete a number of messages from the channel",
			DefaultMemberPermissions: &messagesPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "count", Description: "Number of messages to delete (1-100)", Required: true},
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Only delete messages from this user"},
			},
		},
		{
			Name:                     "slowmode",
			Description:              "Set slowmode delay for the current channel",
			DefaultMemberPermissions: &channelsPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "seconds", Description: "Slowmode delay in seconds (0 to disable)", Required: true},
			},
		},
		{
			Name:                     "lock",
			Description:              "Lock the current channel (prevent @everyone from sending messages)",
			DefaultMemberPermissions: &channelsPermission,
		},
		{
			Name:                     "unlock",
			Description:              "Unlock the current channel",
			DefaultMemberPermissions: &channelsPermission,
		},
		{
			Name:                     "setup",
			Description:              "Set the moderation log channel",
			DefaultMemberPermissions: &adminPerm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "Channel for mod logs",
					Required:     true,
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
				},
			},
		},
		{
			Name:                     "cases",
			Description:              "Show the latest moderation cases of a member",
			DefaultMemberPermissions: &timeoutPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to inspect", Required: true},
			},
		},
	}
}

// auditReason formats the audit-log entry for a moderation action.
func auditReason(moderator *discordgo.User, reason string) string {
	return fmt.Sprintf("%s — %s", moderator.String(), reason)
}

func highestRole(member *discordgo.Member, roles []*discordgo.Role) int {
	positions := make(map[string]int, len(roles))
	for _, r := range roles {
		positions[r.ID] = r.Position
	}
	top := 0
	for _, id := range member.Roles {
		if p := positions[id]; p > top {
			top = p
		}
	}
	return top
}

// checkTarget returns an error message when the invoker may not act on
// target, or "" when the action can go ahead. Targets that are no longer
// members pass the hierarchy check.
func checkTarget(s Session, i *discordgo.InteractionCreate, target *discordgo.User, verb string) string {
	if target.ID == invoker(i).ID {
		return fmt.Sprintf("You can't %s yourself.", verb)
	}
	if target.ID == botUser().ID {
		return fmt.Sprintf("I can't %s myself.", verb)
	}

	member, err := s.GuildMember(i.GuildID, target.ID)
	if err != nil {
		return ""
	}
	me, err := s.GuildMember(i.GuildID, botUser().ID)
	if err != nil {
		slog.Warn("cannot fetch bot member", tint.Err(err), "guild_id", i.GuildID)
		return ""
	}
	roles, err := s.GuildRoles(i.GuildID)
	if err != nil {
		slog.Warn("cannot fetch roles", tint.Err(err), "guild_id", i.GuildID)
		return ""
	}
	if highestRole(member, roles) >= highestRole(me, roles) {
		return fmt.Sprintf("I can't %s **%s**: their highest role is not below mine.", verb, target.Username)
	}
	return ""
}

func handleBan(s Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	target := optUser(i, opts, "user")
	reason := optStr(opts, "reason", "No reason provided")
	days := int(optInt(opts, "days", 0))
	if days < 0 {
		days = 0
	}
	if days > 7 {
		days = 7
	}

	if msg := checkTarget(s, i, target, "ban"); msg != "" {
		replyError(s, i, msg)
		return
	}

	dmUser(s, target.ID, fmt.Sprintf("🔨 You have been banned from **%s**.\nReason: %s", guildName(s, i.GuildID), reason))

	mod := invoker(i)
	if err := s.GuildBanCreateWithReason(i.GuildID, target.ID, auditReason(mod, reason), days); err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}

	embed := modEmbed("🔨 Member banned", fmt.Sprintf("**%s** has been banned.", target.Username))
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Reason", Value: reason},
		{Name: "Moderator", Value: mod.Mention(), Inline: true},
	}
	respondEmbed(s, i, embed, false)
	recordCase(s, i.GuildID, "Ban", target, mod, reason, "")
}

func handleUnban(s Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	userID := optStr(opts, "user-id", "")
	reason := optStr(opts, "reason", "No reason provided")

	if _, err := strconv.ParseUint(userID, 10, 64); err != nil {
		replyError(s, i, "Invalid ID.")
		return
	}

	mod := invoker(i)
	if err := s.GuildBanDelete(i.GuildID, userID, discordgo.WithAuditLogReason(auditReason(mod, reason))); err != nil {
		replyError(s, i, "User not found or not banned.")
		return
	}

	target, err := s.User(userID)
	if err != nil {
		target = &discordgo.User{ID: userID, Username: userID}
	}
	respondEmbed(s, i, successEmbed("Member unbanned", fmt.Sprintf("**%s** (`%s`) has been unbanned.\nReason: %s", target.Username, userID, reason)), false)
	recordCase(s, i.GuildID, "Unban", target, mod, reason, "")
}

func handleKick(s Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	target := optUser(i, opts, "user")
	reason := optStr(opts, "reason", "No reason provided")

	if msg := checkTarget(s, i, target, "kick"); msg != "" {
		replyError(s, i, msg)
		return
	}

	dmUser(s, target.ID, fmt.Sprintf("👢 You have been kicked from **%s**.\nReason: %s", guildName(s, i.GuildID), reason))

	mod := invoker(i)
	if err := s.GuildMemberDeleteWithReason(i.GuildID, target.ID, auditReason(mod, reason)); err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}

	embed := modEmbed("👢 Member kicked", fmt.Sprintf("**%s** has been kicked.", target.Username))
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Reason", Value: reason},
		{Name: "Moderator", Value: mod.Mention(), Inline: true},
	}
	respondEmbed(s, i, embed, false)
	recordCase(s, i.GuildID, "Kick", target, mod, reason, "")
}

func handleMute(s Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	target := optUser(i, opts, "user")
	durStr := optStr(opts, "duration", "")
	reason := optStr(opts, "reason", "No reason provided")

	dur, err := parseDuration(durStr)
	if err != nil {
		replyError(s, i, "Invalid duration. Use formats like `10m`, `2h`, `1d` or a number of minutes.")
		return
	}
	if dur < time.Minute || dur > maxTimeout {
		replyError(s, i, "Duration must be between 1 minute and 28 days.")
		return
	}
	if msg := checkTarget(s, i, target, "mute"); msg != "" {
		replyError(s, i, msg)
		return
	}

	mod := invoker(i)
	until := time.Now().Add(dur)
	if err := s.GuildMemberTimeout(i.GuildID, target.ID, &until, discordgo.WithAuditLogReason(auditReason(mod, reason))); err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}

	embed := modEmbed("🔇 Member muted", fmt.Sprintf("**%s** has been muted until <t:%d:R>.", target.Username, until.Unix()))
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Duration", Value: durStr, Inline: true},
		{Name: "Moderator", Value: mod.Mention(), Inline: true},
		{Name: "Reason", Value: reason},
	}
	respondEmbed(s, i, embed, false)
	recordCase(s, i.GuildID, "Mute", target, mod, reason, durStr)
}

func handleUnmute(s Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	target := optUser(i, opts, "user")

	member, err := s.GuildMember(i.GuildID, target.ID)
	if err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}
	if member.CommunicationDisabledUntil == nil || !member.CommunicationDisabledUntil.After(time.Now()) {
		replyError(s, i, fmt.Sprintf("**%s** is not muted.", target.Username))
		return
	}

	mod := invoker(i)
	if err := s.GuildMemberTimeout(i.GuildID, target.ID, nil, discordgo.WithAuditLogReason(auditReason(mod, "Unmute"))); err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}

	respondEmbed(s, i, successEmbed("Member unmuted", fmt.Sprintf("🔊 **%s** has been unmuted.", target.Username)), false)
	recordCase(s, i.GuildID, "Unmute", target, mod, "", "")
}

func handleWarn(s Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	target := optUser(i, opts, "user")
	reason := optStr(opts, "reason", "No reason provided")

	if target.ID == invoker(i).ID {
		replyError(s, i, "You can't warn yourself.")
		return
	}
	if target.Bot {
		replyError(s, i, "Bots can't be warned.")
		return
	}

	mod := invoker(i)
	ctx := context.Background()
	err := storage.DB.AddWarning(ctx, storage.Warning{
		GuildID:   i.GuildID,
		UserID:    target.ID,
		ModID:     mod.ID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		slog.Error("failed to store warning", tint.Err(err), "guild_id", i.GuildID, "user_id", target.ID)
		replyError(s, i, lang.T("generic_error"))
		return
	}

	total := 0
	if warns, err := storage.DB.GetWarnings(ctx, i.GuildID, target.ID); err == nil {
		total = len(warns)
	}

	dmUser(s, target.ID, fmt.Sprintf("⚠️ You have been warned in **%s**.\nReason: %s\nYou now have %d warning(s).",
		guildName(s, i.GuildID), reason, total))

	embed := modEmbed("⚠️ Member warned", fmt.Sprintf("**%s** has been warned.", target.Username))
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Reason", Value: reason},
		{Name: "Total warnings", Value: strconv.Itoa(total), Inline: true},
		{Name: "Moderator", Value: mod.Mention(), Inline: true},
	}
	respondEmbed(s, i, embed, false)
	recordCase(s, i.GuildID, "Warn", target, mod, reason, "")
}

func handleWarnings(s Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	target := optUser(i, opts, "user")

	warns, err := storage.DB.GetWarnings(context.Background(), i.GuildID, target.ID)
	if err != nil {
		slog.Error("failed to load warnings", tint.Err(err), "guild_id", i.GuildID, "user_id", target.ID)
		replyError(s, i, lang.T("generic_error"))
		return
	}
	if len(warns) == 0 {
		respondEmbed(s, i, successEmbed("No warnings", fmt.Sprintf("**%s** has no warnings.", target.Username)), true)
		return
	}

	var sb strings.Builder
	for n, w := range warns {
		fmt.Fprintf(&sb, "`#%d` %s (by <@%s>, %s)\n", n+1, w.Reason, w.ModID, humanize.Time(w.Timestamp))
	}
	embed := modEmbed(fmt.Sprintf("📋 Warnings for %s", target.Username), sb.String())
	embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%d total", len(warns))}
	respondEmbed(s, i, embed, true)
}

func handleClearWarnings(s Session, i *discordgo.InteractionCreate) {
	if !isAdmin(s, i) {
		replyError(s, i, lang.T("no_permission"))
		return
	}
	opts := optionMap(i)
	target := optUser(i, opts, "user")

	n, err := storage.DB.ClearWarnings(context.Background(), i.GuildID, target.ID)
	if err != nil {
		slog.Error("failed to clear warnings", tint.Err(err), "guild_id", i.GuildID, "user_id", target.ID)
		replyError(s, i, lang.T("generic_error"))
		return
	}

	respondEmbed(s, i, successEmbed("Warnings cleared", fmt.Sprintf("🗑️ Removed %d warning(s) from **%s**.", n, target.Username)), false)
	logAction(s, i.GuildID, "clearwarnings", "Warnings cleared",
		fmt.Sprintf("%s cleared %d warning(s) of %s", invoker(i).Mention(), n, target.Mention()))
}

func handleClear(s Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	count := int(optInt(opts, "count", 0))
	if count < 1 || count > 100 {
		replyError(s, i, "Count must be between 1 and 100.")
		return
	}

	deferEphemeral(s, i)

	msgs, err := s.ChannelMessages(i.ChannelID, count, "", "", "")
	if err != nil {
		followupEmbed(s, i, errorEmbed(lang.T("error_title"), restErrorMessage(err)))
		return
	}

	filter := optID(opts, "user")
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if filter != "" && (m.Author == nil || m.Author.ID != filter) {
			continue
		}
		ids = append(ids, m.ID)
	}

	if len(ids) == 0 {
		followup(s, i, "No messages found matching criteria.")
		return
	}

	if len(ids) == 1 {
		err = s.ChannelMessageDelete(i.ChannelID, ids[0])
	} else {
		err = s.ChannelMessagesBulkDelete(i.ChannelID, ids)
	}
	if err != nil {
		followupEmbed(s, i, errorEmbed(lang.T("error_title"), restErrorMessage(err)))
		return
	}

	followupEmbed(s, i, successEmbed("Messages deleted", fmt.Sprintf("🗑️ Deleted **%d** messages.", len(ids))))
	logAction(s, i.GuildID, "clear", "Messages cleared",
		fmt.Sprintf("%s deleted %d message(s) in <#%s>", invoker(i).Mention(), len(ids), i.ChannelID))
}

func handleSlowmode(s Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	secs := int(optInt(opts, "seconds", 0))
	if secs < 0 || secs > 21600 {
		replyError(s, i, "Slowmode must be between 0 and 21600 seconds.")
		return
	}

	if _, err := s.ChannelEdit(i.ChannelID, &discordgo.ChannelEdit{RateLimitPerUser: &secs}); err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}

	if secs == 0 {
		respondEmbed(s, i, successEmbed("Slowmode", "⏱️ Slowmode **disabled**."), false)
		return
	}
	respondEmbed(s, i, successEmbed("Slowmode", fmt.Sprintf("⏱️ Slowmode set to **%d seconds**.", secs)), false)
}

func setChannelLock(s Session, i *discordgo.InteractionCreate, locked bool) {
	allow, deny := int64(discordgo.PermissionSendMessages), int64(0)
	title, desc := "Channel unlocked", "🔓 Channel **unlocked**."
	if locked {
		allow, deny = 0, discordgo.PermissionSendMessages
		title, desc = "Channel locked", "🔒 Channel **locked**."
	}

	err := s.ChannelPermissionSet(i.ChannelID, i.GuildID, discordgo.PermissionOverwriteTypeRole, allow, deny)
	if err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}
	respondEmbed(s, i, successEmbed(title, desc), false)
	logAction(s, i.GuildID, strings.ToLower(strings.TrimPrefix(title, "Channel ")), title,
		fmt.Sprintf("<#%s> by %s", i.ChannelID, invoker(i).Mention()))
}

func handleLock(s Session, i *discordgo.InteractionCreate) {
	setChannelLock(s, i, true)
}

func handleUnlock(s Session, i *discordgo.InteractionCreate) {
	setChannelLock(s, i, false)
}

func handleSetupLog(s Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	channelID := optID(opts, "channel")

	gs := storage.GetGuild(i.GuildID)
	gs.Lock()
	gs.LogChannelOverride = channelID
	gs.Unlock()
	if err := gs.Save(); err != nil {
		slog.Error("failed to save guild state", tint.Err(err), "guild_id", i.GuildID)
	}

	respondEmbed(s, i, successEmbed("Log channel set", fmt.Sprintf("📝 Moderation logs will be sent to <#%s>.", channelID)), false)
	logAction(s, i.GuildID, "setup", "Log channel configured", fmt.Sprintf("Set by %s", invoker(i).Mention()))
}

func handleCases(s Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	target := optUser(i, opts, "user")

	cases, err := storage.DB.GetModCases(context.Background(), i.GuildID, target.ID, 10)
	if err != nil {
		slog.Error("failed to load mod cases", tint.Err(err), "guild_id", i.GuildID, "user_id", target.ID)
		replyError(s, i, lang.T("generic_error"))
		return
	}
	if len(cases) == 0 {
		respondEmbed(s, i, successEmbed("No cases", fmt.Sprintf("**%s** has a clean record.", target.Username)), true)
		return
	}

	var sb strings.Builder
	for _, c := range cases {
		fmt.Fprintf(&sb, "**%s** by <@%s> <t:%d:R>", c.Action, c.ModID, c.Timestamp.Unix())
		if c.Duration != "" {
			fmt.Fprintf(&sb, " (%s)", c.Duration)
		}
		if c.Reason != "" {
			fmt.Fprintf(&sb, "\n> %s", c.Reason)
		}
		sb.WriteString("\n")
	}
	respondEmbed(s, i, modEmbed(fmt.Sprintf("📁 Cases for %s", target.Username), sb.String()), true)
}

// parseDuration accepts Go durations, a "d" suffix for days and bare minutes.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Minute, nil
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func snowflakeTime(id string) time.Time {
	n, _ := strconv.ParseInt(id, 10, 64)
	ms := (n >> 22) + 1420070400000
	return time.Unix(ms/1000, (ms%1000)*1e6)
}

func guildName(s Session, guildID string) string {
	g, err := s.GuildWithCounts(guildID)
	if err != nil || g.Name == "" {
		return "the server"
	}
	return g.Name
}
