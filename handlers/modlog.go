package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"modbot/config"
	"modbot/events"
	"modbot/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	colorMain    = 0x590CEA
	colorSuccess = 0x57F287
	colorError   = 0xED4245
	colorMusic   = 0x1DB954
)

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func successEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Title: "✅ " + title, Description: description, Color: colorSuccess, Timestamp: now()}
}

func errorEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Title: "⛔ " + title, Description: description, Color: colorError, Timestamp: now()}
}

func modEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Title: title, Description: description, Color: colorMain, Timestamp: now()}
}

type logField struct {
	name, value string
	inline      bool
}

// logAction posts an embed to the guild's log channel and publishes the
// action. Failures are logged only.
func logAction(s Session, guildID, kind, title, description string, fields ...logField) {
	ev := events.Event{Kind: kind, GuildID: guildID, Title: title, Description: description, Timestamp: time.Now().UTC()}
	for _, f := range fields {
		ev.Fields = append(ev.Fields, events.Field{Name: f.name, Value: f.value})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := Events.Publish(ctx, ev); err != nil {
		slog.Warn("event publish failed", tint.Err(err), "guild_id", guildID, "kind", kind)
	}
	cancel()

	gs := storage.GetGuild(guildID)
	gs.RLock()
	logCh := config.EffectiveLogChannel(storage.Cfg, gs)
	gs.RUnlock()
	if logCh == "" {
		return
	}
	sendLog(s, logCh, title, description, fields...)
}

func sendLog(s Session, channelID, title, description string, fields ...logField) {
	embed := modEmbed(title, description)
	for _, f := range fields {
		value := f.value
		if value == "" {
			value = "-"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.name, Value: value, Inline: f.inline})
	}
	if _, err := s.ChannelMessageSendEmbed(channelID, embed); err != nil {
		slog.Warn("failed to send log", tint.Err(err), "channel_id", channelID)
	}
}

// recordCase stores a moderation case and logs it.
func recordCase(s Session, guildID, action string, target, moderator *discordgo.User, reason, duration string) {
	if storage.DB != nil {
		err := storage.DB.AddModCase(context.Background(), storage.ModCase{
			GuildID:   guildID,
			UserID:    target.ID,
			ModID:     moderator.ID,
			Action:    action,
			Reason:    reason,
			Duration:  duration,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			slog.Warn("failed to store mod case", tint.Err(err), "guild_id", guildID, "action", action)
		}
	}

	fields := []logField{
		{name: "User", value: fmt.Sprintf("%s (`%s`)", target.String(), target.ID), inline: true},
		{name: "Moderator", value: fmt.Sprintf("%s (`%s`)", moderator.String(), moderator.ID), inline: true},
	}
	if reason != "" {
		fields = append(fields, logField{name: "Reason", value: reason})
	}
	if duration != "" {
		fields = append(fields, logField{name: "Duration", value: duration, inline: true})
	}
	logAction(s, guildID, strings.ToLower(action), "Moderation: "+action,
		fmt.Sprintf("%s by %s", target.Mention(), moderator.Mention()), fields...)
}

// dmUser sends a direct message; members with closed DMs are skipped.
func dmUser(s Session, userID, content string) bool {
	ch, err := s.UserChannelCreate(userID)
	if err != nil {
		slog.Debug("cannot open DM", tint.Err(err), "user_id", userID)
		return false
	}
	if _, err := s.ChannelMessageSend(ch.ID, content); err != nil {
		slog.Debug("DM failed", tint.Err(err), "user_id", userID)
		return false
	}
	return true
}
