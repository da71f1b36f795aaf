package music

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"modbot/config"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"github.com/lmittmann/tint"
)

var errSessionNotFound = errors.New("lavalink session not found")

// LavalinkBackend drives a Lavalink v4 node: tracks are loaded and started
// over REST, and track lifecycle events arrive on the node websocket.
type LavalinkBackend struct {
	baseURL  string
	wsURL    string
	password string
	userID   string
	client   *http.Client

	mu      sync.Mutex
	players map[string]*llPlayback

	wsMu      sync.RWMutex
	ws        *websocket.Conn
	sessionID string
	closed    bool
}

type llPlayback struct {
	done    chan struct{}
	once    sync.Once
	stopped bool
}

func (p *llPlayback) finish() {
	p.once.Do(func() { close(p.done) })
}

func newLavalinkBackend(cfg *config.LavalinkMusicConfig, userID string) *LavalinkBackend {
	scheme, wsScheme := "http", "ws"
	if cfg.Secure {
		scheme, wsScheme = "https", "wss"
	}
	host := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &LavalinkBackend{
		baseURL:  scheme + "://" + host,
		wsURL:    wsScheme + "://" + host + "/v4/websocket",
		password: cfg.Password,
		userID:   userID,
		client:   &http.Client{Timeout: 15 * time.Second},
		players:  make(map[string]*llPlayback),
	}
}

func NewLavalinkBackend(cfg *config.LavalinkMusicConfig, userID string) (*LavalinkBackend, error) {
	if userID == "" {
		return nil, fmt.Errorf("discord session not ready (no bot user id)")
	}
	l := newLavalinkBackend(cfg, userID)

	var pingErr error
	for attempt := 1; attempt <= 15; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pingErr = l.do(ctx, http.MethodGet, "/version", nil, nil)
		cancel()
		if pingErr == nil {
			break
		}
		slog.Info("waiting for lavalink", "url", l.baseURL, "attempt", attempt, "error", pingErr)
		time.Sleep(2 * time.Second)
	}
	if pingErr != nil {
		return nil, fmt.Errorf("cannot reach Lavalink at %s after 30s: %w", l.baseURL, pingErr)
	}

	if err := l.connect(); err != nil {
		return nil, fmt.Errorf("lavalink websocket connect failed: %w", err)
	}
	return l, nil
}

func (l *LavalinkBackend) Name() string { return "lavalink" }

// do sends a JSON request to the node and decodes a JSON response into out.
func (l *LavalinkBackend) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", l.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/v4/sessions/") {
		return errSessionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("lavalink %s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (l *LavalinkBackend) connect() error {
	headers := http.Header{}
	headers.Set("Authorization", l.password)
	headers.Set("User-Id", l.userID)
	headers.Set("Client-Name", "modbot")

	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := d.Dial(l.wsURL, headers)
	if err != nil {
		return fmt.Errorf("ws dial %s: %w", l.wsURL, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	var ready struct {
		Op        string `json:"op"`
		SessionID string `json:"sessionId"`
	}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("ws read: %w", err)
		}
		if json.Unmarshal(msg, &ready) == nil && strings.EqualFold(ready.Op, "ready") && ready.SessionID != "" {
			break
		}
	}
	_ = conn.SetReadDeadline(time.Time{})

	l.wsMu.Lock()
	old := l.ws
	l.ws = conn
	l.sessionID = ready.SessionID
	l.wsMu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	slog.Info("lavalink websocket connected", "session_id", ready.SessionID)
	go l.readLoop(conn)
	return nil
}

func (l *LavalinkBackend) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err == nil {
			l.handleEvent(msg)
			continue
		}

		l.wsMu.Lock()
		current := l.ws == conn
		closed := l.closed
		if current {
			l.ws = nil
			l.sessionID = ""
		}
		l.wsMu.Unlock()
		_ = conn.Close()

		if !current || closed {
			return
		}
		slog.Warn("lavalink websocket disconnected", tint.Err(err))

		for attempt := 1; attempt <= 10; attempt++ {
			time.Sleep(time.Duration(attempt) * time.Second)
			if err := l.connect(); err == nil {
				return
			}
			slog.Warn("lavalink reconnect failed", "attempt", attempt)
		}
		slog.Error("lavalink gave up reconnecting after 10 attempts")
		return
	}
}

type llEvent struct {
	Op      string `json:"op"`
	Type    string `json:"type"`
	GuildID string `json:"guildId"`
	Track   *struct {
		Info struct {
			Title string `json:"title"`
		} `json:"info"`
	} `json:"track"`
	Exception *struct {
		Message  string `json:"message"`
		Severity string `json:"severity"`
	} `json:"exception"`
	Reason      string `json:"reason"`
	ThresholdMs int64  `json:"thresholdMs"`
	Code        int    `json:"code"`
}

func (l *LavalinkBackend) handleEvent(msg []byte) {
	var ev llEvent
	if err := json.Unmarshal(msg, &ev); err != nil || ev.Op != "event" {
		return
	}

	title := ""
	if ev.Track != nil {
		title = ev.Track.Info.Title
	}
	log := slog.With("guild_id", ev.GuildID, "title", title)

	switch ev.Type {
	case "TrackStartEvent":
		log.Debug("lavalink track started")
	case "TrackEndEvent":
		log.Debug("lavalink track ended", "reason", ev.Reason)
		// "replaced" belongs to the previous track; the new one is still playing.
		if ev.Reason != "replaced" {
			l.finish(ev.GuildID)
		}
	case "TrackExceptionEvent":
		if ev.Exception != nil {
			log.Warn("lavalink track exception", "message", ev.Exception.Message, "severity", ev.Exception.Severity)
		}
	case "TrackStuckEvent":
		log.Warn("lavalink track stuck", "threshold_ms", ev.ThresholdMs)
		l.finish(ev.GuildID)
	case "WebSocketClosedEvent":
		log.Warn("lavalink voice websocket closed", "code", ev.Code)
	}
}

func (l *LavalinkBackend) finish(guildID string) {
	l.mu.Lock()
	p := l.players[guildID]
	l.mu.Unlock()
	if p != nil {
		p.finish()
	}
}

func (l *LavalinkBackend) session() string {
	l.wsMu.RLock()
	defer l.wsMu.RUnlock()
	return l.sessionID
}

func (l *LavalinkBackend) ensureSession() (string, error) {
	if sid := l.session(); sid != "" {
		return sid, nil
	}
	if err := l.connect(); err != nil {
		return "", err
	}
	if sid := l.session(); sid != "" {
		return sid, nil
	}
	return "", fmt.Errorf("no lavalink sessionId after reconnect")
}

func (l *LavalinkBackend) ResolveSong(ctx context.Context, query string) (*Song, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, fmt.Errorf("empty query")
	}

	identifier := q
	if !isHTTPURL(q) {
		provider, term := splitProviderPrefix(q)
		switch provider {
		case "sc":
			identifier = "scsearch:" + term
		default:
			identifier = "ytsearch:" + term
		}
	}

	var result struct {
		LoadType string          `json:"loadType"`
		Data     json.RawMessage `json:"data"`
	}
	if err := l.do(ctx, http.MethodGet, "/v4/loadtracks?identifier="+url.QueryEscape(identifier), nil, &result); err != nil {
		return nil, fmt.Errorf("lavalink loadtracks: %w", err)
	}

	switch result.LoadType {
	case "track":
		var track lavalinkTrack
		if err := json.Unmarshal(result.Data, &track); err != nil {
			return nil, fmt.Errorf("lavalink parse: %w", err)
		}
		return track.song(), nil

	case "search":
		var tracks []lavalinkTrack
		_ = json.Unmarshal(result.Data, &tracks)
		if len(tracks) == 0 {
			return nil, fmt.Errorf("no results found for: %s", query)
		}
		return tracks[0].song(), nil

	case "playlist":
		var playlist struct {
			Tracks []lavalinkTrack `json:"tracks"`
		}
		_ = json.Unmarshal(result.Data, &playlist)
		if len(playlist.Tracks) == 0 {
			return nil, fmt.Errorf("empty playlist")
		}
		return playlist.Tracks[0].song(), nil

	case "empty":
		return nil, fmt.Errorf("no results found for: %s", query)

	case "error":
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(result.Data, &e)
		return nil, fmt.Errorf("lavalink error loading track: %s", e.Message)

	default:
		return nil, fmt.Errorf("unknown loadType: %s", result.LoadType)
	}
}

type lavalinkTrack struct {
	Encoded string `json:"encoded"`
	Info    struct {
		Title    string `json:"title"`
		Length   int64  `json:"length"`
		URI      string `json:"uri"`
		IsStream bool   `json:"isStream"`
	} `json:"info"`
}

func (t *lavalinkTrack) song() *Song {
	s := &Song{
		Title:     t.Info.Title,
		URL:       t.Info.URI,
		StreamURL: t.Encoded,
	}
	if !t.Info.IsStream {
		s.Duration = int(t.Info.Length / 1000)
	}
	return s
}

func playerPath(sessionID, guildID string) string {
	return "/v4/sessions/" + sessionID + "/players/" + guildID
}

// sendVoice forwards the captured voice handshake; a stale node session is
// replaced once and retried.
func (l *LavalinkBackend) sendVoice(ctx context.Context, guildID string) (string, error) {
	sid, err := l.ensureSession()
	if err != nil {
		return "", err
	}

	wctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	v, err := voices.wait(wctx, guildID)
	cancel()
	if err != nil {
		return "", err
	}

	body := map[string]interface{}{
		"voice": map[string]string{"token": v.token, "endpoint": v.endpoint, "sessionId": v.sessionID},
	}
	err = l.do(ctx, http.MethodPatch, playerPath(sid, guildID), body, nil)
	if !errors.Is(err, errSessionNotFound) {
		return sid, err
	}

	slog.Info("lavalink session stale, reconnecting", "guild_id", guildID)
	if err := l.connect(); err != nil {
		return "", fmt.Errorf("reconnect after stale session: %w", err)
	}
	sid = l.session()
	return sid, l.do(ctx, http.MethodPatch, playerPath(sid, guildID), body, nil)
}

func (l *LavalinkBackend) Play(vc *discordgo.VoiceConnection, song *Song, volume int) {
	guildID := vc.GuildID
	log := slog.With("guild_id", guildID, "title", song.Title)

	p := &llPlayback{done: make(chan struct{})}
	l.mu.Lock()
	if old := l.players[guildID]; old != nil {
		old.finish()
	}
	l.players[guildID] = p
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		if l.players[guildID] == p {
			delete(l.players, guildID)
		}
		l.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	sid, err := l.sendVoice(ctx, guildID)
	if err == nil {
		err = l.do(ctx, http.MethodPatch, playerPath(sid, guildID), map[string]interface{}{
			"track":  map[string]string{"encoded": song.StreamURL},
			"volume": volume,
			"paused": false,
		}, nil)
	}
	cancel()
	if err != nil {
		log.Error("lavalink playback start failed", tint.Err(err))
		return
	}
	log.Info("lavalink track started", "session_id", sid)

	// Events can be lost across a websocket reconnect; poll as a backstop.
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			l.mu.Lock()
			stopped := p.stopped
			l.mu.Unlock()
			if stopped {
				ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
				if err := l.do(ctx, http.MethodDelete, playerPath(l.session(), guildID), nil, nil); err != nil && !errors.Is(err, errSessionNotFound) {
					log.Warn("lavalink destroy player failed", tint.Err(err))
				}
				cancel()
			}
			return
		case <-ticker.C:
			if !l.isPlaying(guildID) {
				return
			}
		}
	}
}

func (l *LavalinkBackend) isPlaying(guildID string) bool {
	sid := l.session()
	if sid == "" {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()

	var player struct {
		Track json.RawMessage `json:"track"`
	}
	err := l.do(ctx, http.MethodGet, playerPath(sid, guildID), nil, &player)
	if errors.Is(err, errSessionNotFound) {
		return false
	}
	if err != nil {
		// transient; keep waiting for the end event
		return true
	}
	return len(player.Track) > 0 && string(player.Track) != "null"
}

func (l *LavalinkBackend) Stop(guildID string) {
	l.mu.Lock()
	p := l.players[guildID]
	if p != nil {
		p.stopped = true
	}
	l.mu.Unlock()
	if p != nil {
		p.finish()
	}
}

func (l *LavalinkBackend) patchPlayer(guildID string, body map[string]interface{}) {
	sid := l.session()
	if sid == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()
	if err := l.do(ctx, http.MethodPatch, playerPath(sid, guildID), body, nil); err != nil {
		slog.Warn("lavalink player update failed", tint.Err(err), "guild_id", guildID)
	}
}

func (l *LavalinkBackend) SetVolume(guildID string, vol int) {
	l.patchPlayer(guildID, map[string]interface{}{"volume": vol})
}

func (l *LavalinkBackend) SetPaused(guildID string, paused bool) {
	l.patchPlayer(guildID, map[string]interface{}{"paused": paused})
}

func (l *LavalinkBackend) Cleanup() {
	l.mu.Lock()
	for _, p := range l.players {
		p.stopped = true
		p.finish()
	}
	l.mu.Unlock()

	l.wsMu.Lock()
	l.closed = true
	if l.ws != nil {
		_ = l.ws.Close()
		l.ws = nil
	}
	l.sessionID = ""
	l.wsMu.Unlock()
}
