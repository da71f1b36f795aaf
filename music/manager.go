package music

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"modbot/config"

	"github.com/bwmarrin/discordgo"
)

// IdleTimeout is how long a player stays connected with nothing queued.
var IdleTimeout = 2 * time.Minute

type Backend interface {
	Name() string

	ResolveSong(ctx context.Context, query string) (*Song, error)

	// Play blocks until the song ends or Stop is called for vc's guild.
	Play(vc *discordgo.VoiceConnection, song *Song, volume int)
	Stop(guildID string)
	SetVolume(guildID string, vol int)
	SetPaused(guildID string, paused bool)
	Cleanup()
}

// PlayerState is a point-in-time copy of a guild player.
type PlayerState struct {
	NowPlaying *Song
	Queue      []*Song
	Volume     int
	Playing    bool
	Paused     bool
}

type GuildPlayer struct {
	mu      sync.Mutex
	guildID string

	queue      *Queue
	nowPlaying *Song
	playing    bool
	paused     bool
	volume     int

	vc      *discordgo.VoiceConnection
	backend Backend
	session *discordgo.Session
	idle    *time.Timer
}

type Manager struct {
	mu      sync.Mutex
	players map[string]*GuildPlayer
	backend Backend
	session *discordgo.Session
	cfg     *config.MusicConfig
}

func NewManager(s *discordgo.Session, cfg *config.MusicConfig) (*Manager, error) {
	var b Backend
	var err error

	switch cfg.Backend {
	case "direct":
		b, err = NewDirectBackend(&cfg.Direct)
		if err != nil {
			return nil, fmt.Errorf("direct backend: %w", err)
		}
		slog.Info("music backend ready", "backend", "direct", "ytdlp", cfg.Direct.YTDLPPath, "ffmpeg", cfg.Direct.FFmpegPath)

	case "lavalink":
		userID := ""
		if s.State != nil && s.State.User != nil {
			userID = s.State.User.ID
		}
		b, err = NewLavalinkBackend(&cfg.Lavalink, userID)
		if err != nil {
			return nil, fmt.Errorf("lavalink backend: %w", err)
		}
		slog.Info("music backend ready", "backend", "lavalink", "host", cfg.Lavalink.Host, "port", cfg.Lavalink.Port)

	default:
		return nil, fmt.Errorf("unknown music backend: %q (use \"direct\" or \"lavalink\")", cfg.Backend)
	}

	return newManager(s, cfg, b), nil
}

func newManager(s *discordgo.Session, cfg *config.MusicConfig, b Backend) *Manager {
	return &Manager{
		players: make(map[string]*GuildPlayer),
		backend: b,
		session: s,
		cfg:     cfg,
	}
}

func (m *Manager) GetPlayer(guildID string) *GuildPlayer {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[guildID]
	if !ok {
		p = &GuildPlayer{
			guildID: guildID,
			queue:   NewQueue(m.cfg.MaxQueueSize),
			volume:  m.cfg.DefaultVolume,
			backend: m.backend,
			session: m.session,
		}
		m.players[guildID] = p
	}
	return p
}

func (m *Manager) BackendName() string {
	return m.backend.Name()
}

func (m *Manager) ResolveSong(ctx context.Context, query string) (*Song, error) {
	return m.backend.ResolveSong(ctx, query)
}

// VoiceChannelOf returns the voice channel userID is connected to, or "".
func (m *Manager) VoiceChannelOf(guildID, userID string) string {
	if m.session == nil || m.session.State == nil {
		return ""
	}
	guild, err := m.session.State.Guild(guildID)
	if err != nil {
		return ""
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID
		}
	}
	return ""
}

func (m *Manager) Cleanup() {
	m.mu.Lock()
	players := make([]*GuildPlayer, 0, len(m.players))
	for _, p := range m.players {
		players = append(players, p)
	}
	m.mu.Unlock()

	for _, p := range players {
		p.Stop()
	}
	m.backend.Cleanup()
}

func (p *GuildPlayer) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PlayerState{
		NowPlaying: p.nowPlaying,
		Queue:      p.queue.Snapshot(),
		Volume:     p.volume,
		Playing:    p.playing,
		Paused:     p.paused,
	}
}

func (p *GuildPlayer) JoinChannel(channelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, isLavalink := p.backend.(*LavalinkBackend)

	if p.vc != nil {
		if p.vc.ChannelID == channelID {
			return nil
		}
		p.vc.Disconnect()
	}

	ClearVoiceInfo(p.guildID)

	vc, err := p.session.ChannelVoiceJoin(p.guildID, channelID, false, false)
	if err != nil {
		return err
	}
	p.vc = vc

	if isLavalink {
		// Lavalink owns the voice websocket; discordgo only needs to announce the join.
		time.Sleep(500 * time.Millisecond)
		vc.Close()
		slog.Debug("closed discordgo voice websocket for lavalink", "guild_id", p.guildID)
	}
	return nil
}

func (p *GuildPlayer) Enqueue(song *Song) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Push(song)
}

// Remove drops the queued song at 1-based position pos.
func (p *GuildPlayer) Remove(pos int) (*Song, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Remove(pos)
}

func (p *GuildPlayer) Shuffle() {
	p.mu.Lock()
	p.queue.Shuffle()
	p.mu.Unlock()
}

// PlayNext starts the next queued song. With an empty queue the player goes
// idle and disconnects after IdleTimeout unless something is queued meanwhile.
func (p *GuildPlayer) PlayNext() {
	p.mu.Lock()

	if p.idle != nil {
		p.idle.Stop()
		p.idle = nil
	}

	if p.vc == nil {
		p.playing = false
		p.nowPlaying = nil
		p.mu.Unlock()
		return
	}

	song, ok := p.queue.Pop()
	if !ok {
		p.nowPlaying = nil
		p.playing = false
		p.paused = false
		p.idle = time.AfterFunc(IdleTimeout, p.disconnectIfIdle)
		p.mu.Unlock()
		return
	}

	p.nowPlaying = song
	p.playing = true
	p.paused = false
	vc := p.vc
	vol := p.volume
	p.mu.Unlock()

	go func() {
		p.backend.Play(vc, song, vol)

		p.mu.Lock()
		current := p.nowPlaying == song
		p.mu.Unlock()
		if current {
			p.PlayNext()
		}
	}()
}

func (p *GuildPlayer) disconnectIfIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing || p.vc == nil {
		return
	}
	p.vc.Disconnect()
	p.vc = nil
	slog.Info("left voice after idle timeout", "guild_id", p.guildID)
}

func (p *GuildPlayer) Skip() *Song {
	p.mu.Lock()
	skipped := p.nowPlaying
	p.mu.Unlock()

	p.backend.Stop(p.guildID)
	return skipped
}

func (p *GuildPlayer) Stop() {
	p.mu.Lock()
	p.queue.Clear()
	p.nowPlaying = nil
	p.playing = false
	p.paused = false
	if p.idle != nil {
		p.idle.Stop()
		p.idle = nil
	}
	vc := p.vc
	p.vc = nil
	p.mu.Unlock()

	p.backend.Stop(p.guildID)

	if vc != nil {
		vc.Disconnect()
		slog.Info("disconnected from voice", "guild_id", p.guildID)
	}
}

// SetPaused reports false when the player was already in the requested state
// or has nothing to pause.
func (p *GuildPlayer) SetPaused(paused bool) bool {
	p.mu.Lock()
	if !p.playing || p.paused == paused {
		p.mu.Unlock()
		return false
	}
	p.paused = paused
	p.mu.Unlock()

	p.backend.SetPaused(p.guildID, paused)
	return true
}

func (p *GuildPlayer) SetVolume(vol int) {
	p.mu.Lock()
	p.volume = vol
	p.mu.Unlock()
	p.backend.SetVolume(p.guildID, vol)
}
