package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	Path string
	db   *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS warnings (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id    TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	mod_id      TEXT NOT NULL,
	reason      TEXT NOT NULL,
	timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_warnings_guild_user ON warnings(guild_id, user_id);

CREATE TABLE IF NOT EXISTS mod_cases (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id    TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	mod_id      TEXT NOT NULL,
	action      TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	duration    TEXT NOT NULL DEFAULT '',
	timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mod_cases_guild_user ON mod_cases(guild_id, user_id);

CREATE TABLE IF NOT EXISTS xp (
	guild_id     TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	xp           INTEGER NOT NULL DEFAULT 0,
	level        INTEGER NOT NULL DEFAULT 0,
	messages     INTEGER NOT NULL DEFAULT 0,
	last_message TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (guild_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_xp_guild_xp ON xp(guild_id, xp DESC);
`

func (s *SQLiteDB) Init(ctx context.Context) error {
	if dir := filepath.Dir(s.Path); dir != "" {
		_ = os.MkdirAll(dir, 0755)
	}

	db, err := sql.Open("sqlite", s.Path)
	if err != nil {
		return fmt.Errorf("sqlite open: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	s.db = db

	if _, err = db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("sqlite schema: %w", err)
	}
	slog.Info("database ready", "driver", "sqlite", "path", s.Path)
	return nil
}

func (s *SQLiteDB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

func (s *SQLiteDB) AddWarning(ctx context.Context, w Warning) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO warnings (guild_id, user_id, mod_id, reason, timestamp) VALUES (?, ?, ?, ?, ?)",
		w.GuildID, w.UserID, w.ModID, w.Reason, formatTime(w.Timestamp),
	)
	return err
}

func (s *SQLiteDB) GetWarnings(ctx context.Context, guildID, userID string) ([]Warning, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, mod_id, reason, timestamp FROM warnings WHERE guild_id = ? AND user_id = ? ORDER BY id",
		guildID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var warns []Warning
	for rows.Next() {
		w := Warning{GuildID: guildID, UserID: userID}
		var ts string
		if err := rows.Scan(&w.ID, &w.ModID, &w.Reason, &ts); err != nil {
			return nil, err
		}
		w.Timestamp = parseTime(ts)
		warns = append(warns, w)
	}
	return warns, rows.Err()
}

func (s *SQLiteDB) ClearWarnings(ctx context.Context, guildID, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM warnings WHERE guild_id = ? AND user_id = ?", guildID, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteDB) AddModCase(ctx context.Context, c ModCase) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO mod_cases (guild_id, user_id, mod_id, action, reason, duration, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)",
		c.GuildID, c.UserID, c.ModID, c.Action, c.Reason, c.Duration, formatTime(c.Timestamp),
	)
	return err
}

func (s *SQLiteDB) GetModCases(ctx context.Context, guildID, userID string, limit int) ([]ModCase, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, guild_id, user_id, mod_id, action, reason, duration, timestamp FROM mod_cases WHERE guild_id = ? AND user_id = ? ORDER BY id DESC LIMIT ?",
		guildID, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []ModCase
	for rows.Next() {
		var c ModCase
		var ts string
		if err := rows.Scan(&c.ID, &c.GuildID, &c.UserID, &c.ModID, &c.Action, &c.Reason, &c.Duration, &ts); err != nil {
			return nil, err
		}
		c.Timestamp = parseTime(ts)
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

func (s *SQLiteDB) GetXP(ctx context.Context, guildID, userID string) (XPRecord, error) {
	rec := XPRecord{GuildID: guildID, UserID: userID}
	var last string
	err := s.db.QueryRowContext(ctx,
		"SELECT xp, level, messages, last_message FROM xp WHERE guild_id = ? AND user_id = ?",
		guildID, userID,
	).Scan(&rec.XP, &rec.Level, &rec.Messages, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return rec, err
	}
	rec.LastMessage = parseTime(last)
	return rec, nil
}

func (s *SQLiteDB) SaveXP(ctx context.Context, rec XPRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO xp (guild_id, user_id, xp, level, messages, last_message) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
			xp = excluded.xp, level = excluded.level, messages = excluded.messages, last_message = excluded.last_message`,
		rec.GuildID, rec.UserID, rec.XP, rec.Level, rec.Messages, formatTime(rec.LastMessage),
	)
	return err
}

func (s *SQLiteDB) TopXP(ctx context.Context, guildID string, limit int) ([]XPRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, xp, level, messages, last_message FROM xp WHERE guild_id = ? AND xp > 0 ORDER BY xp DESC, user_id LIMIT ?",
		guildID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []XPRecord
	for rows.Next() {
		rec := XPRecord{GuildID: guildID}
		var last string
		if err := rows.Scan(&rec.UserID, &rec.XP, &rec.Level, &rec.Messages, &last); err != nil {
			return nil, err
		}
		rec.LastMessage = parseTime(last)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) XPRank(ctx context.Context, guildID, userID string) (int, error) {
	rec, err := s.GetXP(ctx, guildID, userID)
	if err != nil || rec.XP <= 0 {
		return 0, err
	}
	var ahead int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM xp WHERE guild_id = ? AND (xp > ? OR (xp = ? AND user_id < ?))",
		guildID, rec.XP, rec.XP, userID,
	).Scan(&ahead)
	if err != nil {
		return 0, err
	}
	return ahead + 1, nil
}
