package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"modbot/config"

	"github.com/lmittmann/tint"
)

var DB Database

// Database holds everything that outlives a restart: warnings, the moderation
// case history and XP records.
type Database interface {
	Init(ctx context.Context) error
	Close() error

	AddWarning(ctx context.Context, w Warning) error
	GetWarnings(ctx context.Context, guildID, userID string) ([]Warning, error)
	ClearWarnings(ctx context.Context, guildID, userID string) (int, error)

	AddModCase(ctx context.Context, c ModCase) error
	GetModCases(ctx context.Context, guildID, userID string, limit int) ([]ModCase, error)

	// GetXP returns a zero record (with ids filled in) for unknown members.
	GetXP(ctx context.Context, guildID, userID string) (XPRecord, error)
	SaveXP(ctx context.Context, rec XPRecord) error
	TopXP(ctx context.Context, guildID string, limit int) ([]XPRecord, error)
	// XPRank is the 1-based leaderboard position, 0 when the member has no XP.
	XPRank(ctx context.Context, guildID, userID string) (int, error)
}

type Warning struct {
	ID        int       `json:"id" bson:"id"`
	GuildID   string    `json:"guild_id" bson:"guild_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	ModID     string    `json:"mod_id" bson:"mod_id"`
	Reason    string    `json:"reason" bson:"reason"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

type ModCase struct {
	ID        int       `json:"id" bson:"id"`
	GuildID   string    `json:"guild_id" bson:"guild_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	ModID     string    `json:"mod_id" bson:"mod_id"`
	Action    string    `json:"action" bson:"action"`
	Reason    string    `json:"reason" bson:"reason"`
	Duration  string    `json:"duration,omitempty" bson:"duration,omitempty"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

type XPRecord struct {
	GuildID     string    `json:"guild_id" bson:"guild_id"`
	UserID      string    `json:"user_id" bson:"user_id"`
	XP          int64     `json:"xp" bson:"xp"`
	Level       int       `json:"level" bson:"level"`
	Messages    int64     `json:"messages" bson:"messages"`
	LastMessage time.Time `json:"last_message" bson:"last_message"`
}

func Open(cfg *config.DatabaseConfig) (Database, error) {
	switch cfg.Driver {
	case "sqlite":
		return &SQLiteDB{Path: cfg.SQLite.Path}, nil
	case "mongodb":
		return &MongoDB{URI: cfg.MongoDB.URI, DBName: cfg.MongoDB.Database}, nil
	case "memory":
		return NewMemoryDB(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (use \"sqlite\", \"mongodb\" or \"memory\")", cfg.Driver)
	}
}

// InitDB opens the configured driver. When it cannot be reached the bot keeps
// running on the in-memory store and the error is logged.
func InitDB(ctx context.Context, cfg *config.DatabaseConfig) {
	db, err := Open(cfg)
	if err == nil {
		err = db.Init(ctx)
	}
	if err != nil {
		slog.Error("database unavailable, falling back to memory", tint.Err(err), "driver", cfg.Driver)
		db = NewMemoryDB()
		_ = db.Init(ctx)
	}
	DB = db
}
