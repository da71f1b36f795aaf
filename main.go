package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"modbot/bot"
	"modbot/config"
	"modbot/events"
	"modbot/handlers"
	"modbot/lang"
	"modbot/music"
	"modbot/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", tint.Err(err))
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.StringP("config", "c", "config.json", "path to the JSON config file")
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before the config")
	logLevel := flag.String("log-level", "", "override logging.level (debug, info, warn, error)")
	cleanup := flag.Bool("cleanup", false, "remove slash commands on shutdown")
	flag.Parse()

	slog.SetDefault(slog.New(bot.NewLogHandler(os.Stderr, slog.LevelInfo, false)))

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load env file", tint.Err(err), "path", *envFile)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if tok := os.Getenv("BOT_TOKEN"); tok != "" {
		cfg.Discord.Token = tok
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	handler := bot.NewLogHandler(os.Stderr, bot.ParseLevel(cfg.Logging.Level), cfg.Logging.NoColor)
	slog.SetDefault(slog.New(handler))
	bot.InstallDiscordgoLogger(handler)

	if err := lang.Load(cfg.Lang.Path); err != nil {
		slog.Warn("failed to load translations, using built-in text", tint.Err(err), "path", cfg.Lang.Path)
		_ = lang.Load("")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	storage.InitDB(dbCtx, &cfg.Database)
	cancel()
	defer storage.DB.Close()

	pub, err := events.New(cfg.Events.Enabled, cfg.Events.AMQPURL, cfg.Events.Exchange)
	if err != nil {
		slog.Error("event publishing disabled", tint.Err(err))
		pub = events.Noop{}
	}
	defer pub.Close()

	handlers.Setup(cfg, pub)

	b, err := bot.New(cfg)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	handlers.Register(b.Session)
	b.Session.AddHandler(func(s *discordgo.Session, e *discordgo.VoiceStateUpdate) {
		if s.State != nil && s.State.User != nil && e.UserID == s.State.User.ID {
			music.UpdateVoiceState(e.GuildID, e.SessionID)
		}
	})
	b.Session.AddHandler(func(_ *discordgo.Session, e *discordgo.VoiceServerUpdate) {
		music.UpdateVoiceServer(e.GuildID, e.Token, e.Endpoint)
	})

	if err := b.Start(); err != nil {
		return err
	}
	defer b.Stop()

	readyCtx, cancel := context.WithTimeout(ctx, time.Minute)
	err = b.WaitReady(readyCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("wait for ready: %w", err)
	}

	if cfg.Music.Enabled {
		mgr, err := music.NewManager(b.Session, &cfg.Music)
		if err != nil {
			slog.Error("music system unavailable", tint.Err(err), "backend", cfg.Music.Backend)
		} else {
			handlers.MusicMgr = mgr
			defer mgr.Cleanup()
		}
	}

	if _, err := b.RegisterCommands(handlers.Commands(cfg)); err != nil {
		slog.Error("failed to register commands", tint.Err(err))
	}

	go bot.RotateStatus(ctx, b.Session, cfg.Status.Messages, cfg.Status.Interval.Duration)

	slog.Info("bot is running, press Ctrl+C to exit")
	<-ctx.Done()

	slog.Info("shutting down")
	if *cleanup {
		b.CleanupCommands()
	}
	return nil
}
