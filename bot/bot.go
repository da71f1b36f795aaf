package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"modbot/config"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildBans |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent |
	discordgo.IntentsGuildVoiceStates

type Bot struct {
	Session *discordgo.Session
	Config  *config.Config
	ready   chan struct{}
}

func New(cfg *config.Config) (*Bot, error) {
	if cfg.Discord.Token == "" {
		return nil, fmt.Errorf("discord token is empty")
	}
	s, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = intents
	s.StateEnabled = true

	b := &Bot{
		Session: s,
		Config:  cfg,
		ready:   make(chan struct{}),
	}
	s.AddHandler(b.onReady)
	s.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		slog.Info("guild available", "guild_id", g.ID, "name", g.Name, "members", g.MemberCount)
	})
	return b, nil
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	slog.Info("bot is online", "user", r.User.Username, "user_id", r.User.ID, "guilds", len(r.Guilds))
	select {
	case <-b.ready:
	default:
		close(b.ready)
	}
}

func (b *Bot) Start() error {
	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	return nil
}

// WaitReady blocks until the first Ready event or ctx is done.
func (b *Bot) WaitReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bot) Stop() {
	if err := b.Session.Close(); err != nil {
		slog.Warn("failed to close session", tint.Err(err))
	}
}

// RegisterCommands replaces the application's commands with cmds, scoped to
// discord.guild_id when it is set.
func (b *Bot) RegisterCommands(cmds []*discordgo.ApplicationCommand) ([]*discordgo.ApplicationCommand, error) {
	<-b.ready
	appID := b.Session.State.User.ID
	guildID := b.Config.Discord.GuildID

	slog.Info("registering commands", "count", len(cmds), "app_id", appID, "guild_id", guildID)
	registered, err := b.Session.ApplicationCommandBulkOverwrite(appID, guildID, cmds)
	if err != nil {
		return nil, fmt.Errorf("bulk overwrite commands: %w", err)
	}
	slog.Info("registered slash commands", "count", len(registered))
	return registered, nil
}

func (b *Bot) CleanupCommands() {
	<-b.ready
	appID := b.Session.State.User.ID
	if _, err := b.Session.ApplicationCommandBulkOverwrite(appID, b.Config.Discord.GuildID, []*discordgo.ApplicationCommand{}); err != nil {
		slog.Error("failed to clean up commands", tint.Err(err))
		return
	}
	slog.Info("cleaned up slash commands")
}

type statusSetter interface {
	UpdateCustomStatus(state string) error
}

// RotateStatus cycles the custom status through msgs every interval until ctx
// is done. It returns immediately when msgs is empty.
func RotateStatus(ctx context.Context, s statusSetter, msgs []string, interval time.Duration) {
	if len(msgs) == 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 0; ; n++ {
		if err := s.UpdateCustomStatus(msgs[n%len(msgs)]); err != nil {
			slog.Warn("failed to update status", tint.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
