// Package leveling awards message XP and derives levels from it.
//
// Progression is linear: level n is reached at n*perLevel total XP.
package leveling

import (
	"errors"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"modbot/storage"

	"github.com/ReneKroon/ttlcache/v2"
)

// Level returns the level reached with xp total experience.
func Level(xp int64, perLevel int) int {
	if perLevel <= 0 || xp <= 0 {
		return 0
	}
	return int(xp / int64(perLevel))
}

// XPForLevel is the total XP at which level starts.
func XPForLevel(level, perLevel int) int64 {
	if level <= 0 {
		return 0
	}
	return int64(level) * int64(perLevel)
}

// Progress returns how far xp is into its current level and the size of a level.
func Progress(xp int64, perLevel int) (current, needed int64) {
	lvl := Level(xp, perLevel)
	return xp - XPForLevel(lvl, perLevel), int64(perLevel)
}

// Apply adds gained XP to rec and reports the level before and after.
func Apply(rec *storage.XPRecord, gained, perLevel int, now time.Time) (oldLevel, newLevel int) {
	oldLevel = Level(rec.XP, perLevel)
	rec.XP += int64(gained)
	rec.Messages++
	rec.LastMessage = now
	rec.Level = Level(rec.XP, perLevel)
	return oldLevel, rec.Level
}

// ProgressBar renders current/needed as a fixed width bar of ▰ and ▱.
func ProgressBar(current, needed int64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := 0
	if needed > 0 {
		filled = int(current * int64(width) / needed)
	}
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("▰", filled) + strings.Repeat("▱", width-filled)
}

// Tracker hands out random XP per message, at most once per cooldown for
// every guild member.
type Tracker struct {
	minXP, maxXP int
	cooldowns    *ttlcache.Cache
	cooldown     time.Duration
	rnd          func(n int) int
}

func NewTracker(minXP, maxXP int, cooldown time.Duration) *Tracker {
	if maxXP < minXP {
		maxXP = minXP
	}
	c := ttlcache.NewCache()
	c.SkipTTLExtensionOnHit(true)
	return &Tracker{
		minXP:     minXP,
		maxXP:     maxXP,
		cooldowns: c,
		cooldown:  cooldown,
		rnd:       rand.Intn,
	}
}

func cooldownKey(guildID, userID string) string {
	return guildID + ":" + userID
}

// Award returns the XP earned by a message, or 0 while the member is cooling down.
func (t *Tracker) Award(guildID, userID string) int {
	key := cooldownKey(guildID, userID)
	if _, err := t.cooldowns.Get(key); !errors.Is(err, ttlcache.ErrNotFound) {
		return 0
	}
	if err := t.cooldowns.SetWithTTL(key, struct{}{}, t.cooldown); err != nil {
		return 0
	}
	return t.minXP + t.rnd(t.maxXP-t.minXP+1)
}

func (t *Tracker) Close() error {
	return t.cooldowns.Close()
}

// RewardsFor lists the reward roles for every level passed between oldLevel
// and newLevel. Keys of rewards are level numbers; invalid keys are ignored.
func RewardsFor(oldLevel, newLevel int, rewards map[string]string) []string {
	var roles []string
	for k, role := range rewards {
		lvl, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || role == "" {
			continue
		}
		if lvl > oldLevel && lvl <= newLevel {
			roles = append(roles, role)
		}
	}
	sort.Strings(roles)
	return roles
}
