package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryDB keeps everything in process memory. It backs tests and is the
// fallback when the configured database cannot be reached.
type MemoryDB struct {
	mu       sync.RWMutex
	warnings []Warning
	cases    []ModCase
	xp       map[string]XPRecord
	nextWarn int
	nextCase int
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{xp: make(map[string]XPRecord)}
}

func (m *MemoryDB) Init(context.Context) error { return nil }
func (m *MemoryDB) Close() error               { return nil }

func xpKey(guildID, userID string) string { return guildID + ":" + userID }

func (m *MemoryDB) AddWarning(_ context.Context, w Warning) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextWarn++
	w.ID = m.nextWarn
	m.warnings = append(m.warnings, w)
	return nil
}

func (m *MemoryDB) GetWarnings(_ context.Context, guildID, userID string) ([]Warning, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Warning
	for _, w := range m.warnings {
		if w.GuildID == guildID && w.UserID == userID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *MemoryDB) ClearWarnings(_ context.Context, guildID, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.warnings[:0]
	removed := 0
	for _, w := range m.warnings {
		if w.GuildID == guildID && w.UserID == userID {
			removed++
			continue
		}
		kept = append(kept, w)
	}
	m.warnings = kept
	return removed, nil
}

func (m *MemoryDB) AddModCase(_ context.Context, c ModCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCase++
	c.ID = m.nextCase
	m.cases = append(m.cases, c)
	return nil
}

func (m *MemoryDB) GetModCases(_ context.Context, guildID, userID string, limit int) ([]ModCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ModCase
	for i := len(m.cases) - 1; i >= 0 && len(out) < limit; i-- {
		if c := m.cases[i]; c.GuildID == guildID && c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryDB) GetXP(_ context.Context, guildID, userID string) (XPRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.xp[xpKey(guildID, userID)]; ok {
		return rec, nil
	}
	return XPRecord{GuildID: guildID, UserID: userID}, nil
}

func (m *MemoryDB) SaveXP(_ context.Context, rec XPRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.xp[xpKey(rec.GuildID, rec.UserID)] = rec
	return nil
}

func (m *MemoryDB) ranked(guildID string) []XPRecord {
	var out []XPRecord
	for _, rec := range m.xp {
		if rec.GuildID == guildID && rec.XP > 0 {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].XP != out[j].XP {
			return out[i].XP > out[j].XP
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (m *MemoryDB) TopXP(_ context.Context, guildID string, limit int) ([]XPRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.ranked(guildID)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryDB) XPRank(_ context.Context, guildID, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, rec := range m.ranked(guildID) {
		if rec.UserID == userID {
			return i + 1, nil
		}
	}
	return 0, nil
}
