package music

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// voiceInfo is the part of a guild's voice handshake Lavalink needs. It is
// collected from VOICE_STATE_UPDATE and VOICE_SERVER_UPDATE gateway events.
type voiceInfo struct {
	sessionID string
	token     string
	endpoint  string
}

func (v voiceInfo) complete() bool {
	return v.sessionID != "" && v.token != "" && v.endpoint != ""
}

type voiceRegistry struct {
	mu     sync.Mutex
	guilds map[string]voiceInfo
}

var voices = &voiceRegistry{guilds: make(map[string]voiceInfo)}

func (r *voiceRegistry) update(guildID string, fn func(*voiceInfo)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.guilds[guildID]
	fn(&v)
	r.guilds[guildID] = v
}

func (r *voiceRegistry) get(guildID string) voiceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.guilds[guildID]
}

func (r *voiceRegistry) clear(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.guilds, guildID)
}

// wait polls until every field is known or ctx expires.
func (r *voiceRegistry) wait(ctx context.Context, guildID string) (voiceInfo, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if v := r.get(guildID); v.complete() {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return r.get(guildID), fmt.Errorf("voice not ready (missing token/endpoint/sessionId): %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func UpdateVoiceState(guildID, sessionID string) {
	voices.update(guildID, func(v *voiceInfo) { v.sessionID = sessionID })
}

func UpdateVoiceServer(guildID, token, endpoint string) {
	voices.update(guildID, func(v *voiceInfo) {
		v.token = token
		v.endpoint = endpoint
	})
}

func ClearVoiceInfo(guildID string) {
	voices.clear(guildID)
}
