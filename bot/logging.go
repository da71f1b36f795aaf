package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var discordgoLevels = map[int]slog.Level{
	discordgo.LogDebug:         slog.LevelDebug,
	discordgo.LogInformational: slog.LevelInfo,
	discordgo.LogWarning:       slog.LevelWarn,
	discordgo.LogError:         slog.LevelError,
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else is info.
func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func NewLogHandler(w io.Writer, level slog.Level, noColor bool) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    noColor,
	})
}

// discordgoLogger routes discordgo's printf logging into handler.
func discordgoLogger(handler slog.Handler) func(msgL, caller int, format string, args ...interface{}) {
	log := slog.New(handler.WithAttrs([]slog.Attr{slog.String("logger", "discordgo")}))
	return func(msgL, _ int, format string, args ...interface{}) {
		level, ok := discordgoLevels[msgL]
		if !ok {
			level = slog.LevelInfo
		}
		log.LogAttrs(context.Background(), level, strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", ""))
	}
}

// InstallDiscordgoLogger bridges discordgo's package logger to handler.
func InstallDiscordgoLogger(handler slog.Handler) {
	discordgo.Logger = discordgoLogger(handler)
}
