package music

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os/exec"
	"path"
	"strings"
	"sync"
	"time"

	"modbot/config"

	"github.com/bwmarrin/discordgo"
	"github.com/jonas747/ogg"
	"github.com/lmittmann/tint"
)

// DirectBackend resolves songs with yt-dlp and streams them through ffmpeg,
// demuxing the Ogg/Opus output straight into the voice connection.
type DirectBackend struct {
	ytdlpPath  string
	ffmpegPath string

	mu      sync.Mutex
	streams map[string]*directStream
}

type directStream struct {
	cancel context.CancelFunc
	paused chan bool
}

func NewDirectBackend(cfg *config.DirectMusicConfig) (*DirectBackend, error) {
	if _, err := exec.LookPath(cfg.YTDLPPath); err != nil {
		return nil, fmt.Errorf("yt-dlp not found at %q: %w", cfg.YTDLPPath, err)
	}
	if _, err := exec.LookPath(cfg.FFmpegPath); err != nil {
		return nil, fmt.Errorf("ffmpeg not found at %q: %w", cfg.FFmpegPath, err)
	}

	return &DirectBackend{
		ytdlpPath:  cfg.YTDLPPath,
		ffmpegPath: cfg.FFmpegPath,
		streams:    make(map[string]*directStream),
	}, nil
}

func (d *DirectBackend) Name() string { return "direct" }

func (d *DirectBackend) ResolveSong(ctx context.Context, query string) (*Song, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, fmt.Errorf("empty query")
	}

	if isHTTPURL(q) && looksLikeDirectAudioURL(q) {
		return &Song{Title: deriveTitleFromURL(q), URL: q, StreamURL: q}, nil
	}

	target, err := ytdlpTarget(q)
	if err != nil {
		return nil, err
	}
	return d.resolveWithYTDLP(ctx, target)
}

// ytdlpTarget maps a user query to what yt-dlp should look up. Plain text
// searches SoundCloud; "yt:", "sc:" and "bc:" pick a provider.
func ytdlpTarget(q string) (string, error) {
	if isHTTPURL(q) {
		return q, nil
	}
	provider, term := splitProviderPrefix(q)
	term = strings.TrimSpace(term)
	if term == "" {
		return "", fmt.Errorf("missing search query")
	}
	switch provider {
	case "bc":
		if !isHTTPURL(term) {
			return "", fmt.Errorf("bc: expects a Bandcamp URL (example: bc: https://artist.bandcamp.com/track/...)")
		}
		return term, nil
	case "yt":
		return "ytsearch1:" + term, nil
	case "sc", "":
		return "scsearch5:" + term, nil
	default:
		return "", fmt.Errorf("unknown provider %q (use yt:, sc:, bc:)", provider)
	}
}

func (d *DirectBackend) resolveWithYTDLP(ctx context.Context, query string) (*Song, error) {
	isSC := strings.HasPrefix(query, "scsearch") || strings.Contains(query, "soundcloud.com")

	args := []string{"--no-playlist", "--dump-json", "--no-warnings", "--no-check-certificates"}
	if isSC {
		args = append(args, "-f", "http_mp3_128/http_mp3_64/bestaudio/best")
	} else {
		args = append(args,
			"-f", "bestaudio/best",
			"--format-sort", "proto:https,ext:m4a:mp3:opus:ogg,aext:m4a:mp3:opus:ogg,acodec:opus:aac",
			"--extractor-args", "youtube:player_client=android",
			"--extractor-args", "youtube:player_skip=webpage,configs,js",
		)
	}
	args = append(args, query)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, d.ytdlpPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("yt-dlp failed: %s", msg)
	}
	return parseYTDLPOutput(stdout.Bytes())
}

func parseYTDLPOutput(out []byte) (*Song, error) {
	if len(bytes.TrimSpace(out)) == 0 {
		return nil, fmt.Errorf("yt-dlp returned empty output")
	}

	var info struct {
		Title    string  `json:"title"`
		URL      string  `json:"url"`
		Duration float64 `json:"duration"`
		WebPage  string  `json:"webpage_url"`
	}
	// Searches can yield several JSON lines; the first one wins.
	line := out
	if idx := bytes.IndexByte(out, '\n'); idx > 0 {
		line = out[:idx]
	}
	if err := json.Unmarshal(line, &info); err != nil {
		return nil, fmt.Errorf("yt-dlp JSON parse error: %w", err)
	}

	dur := int(info.Duration)
	if strings.Contains(strings.ToLower(info.URL), "cf-preview-media.sndcdn.com") || (dur > 0 && dur < 45) {
		return nil, fmt.Errorf("soundcloud returned a preview stream (%ds), try another query", dur)
	}

	return &Song{
		Title:     info.Title,
		URL:       info.WebPage,
		StreamURL: info.URL,
		Duration:  dur,
	}, nil
}

func splitProviderPrefix(q string) (provider string, term string) {
	lower := strings.ToLower(strings.TrimSpace(q))
	for _, p := range []string{"yt:", "sc:", "bc:"} {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSuffix(p, ":"), strings.TrimSpace(strings.TrimSpace(q)[len(p):])
		}
	}
	return "", q
}

func isHTTPURL(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

var directAudioExts = []string{".mp3", ".m4a", ".aac", ".ogg", ".opus", ".flac", ".wav", ".webm", ".m3u8", ".pls", ".m3u", ".mpd"}

func looksLikeDirectAudioURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, ext := range directAudioExts {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	low := strings.ToLower(raw)
	return strings.Contains(low, "icecast") || strings.Contains(low, "stream")
}

func deriveTitleFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "Direct stream"
	}
	base := strings.TrimSpace(path.Base(u.Path))
	if base == "" || base == "/" || base == "." {
		return "Direct stream"
	}
	return base
}

func (d *DirectBackend) Play(vc *discordgo.VoiceConnection, song *Song, volume int) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := &directStream{cancel: cancel, paused: make(chan bool, 1)}

	d.mu.Lock()
	if old := d.streams[vc.GuildID]; old != nil {
		old.cancel()
	}
	d.streams[vc.GuildID] = stream
	d.mu.Unlock()

	defer func() {
		cancel()
		d.mu.Lock()
		if d.streams[vc.GuildID] == stream {
			delete(d.streams, vc.GuildID)
		}
		d.mu.Unlock()
	}()

	log := slog.With("guild_id", vc.GuildID, "title", song.Title)

	streamURL := song.StreamURL
	if streamURL == "" {
		resolved, err := d.ResolveSong(ctx, song.URL)
		if err != nil {
			log.Error("re-resolving stream failed", tint.Err(err))
			return
		}
		streamURL = resolved.StreamURL
	}

	cmd := exec.CommandContext(ctx, d.ffmpegPath,
		"-loglevel", "error",
		"-rw_timeout", "15000000",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_at_eof", "1",
		"-reconnect_delay_max", "5",
		"-i", streamURL,
		"-ar", "48000",
		"-ac", "2",
		"-af", fmt.Sprintf("volume=%.2f", float64(volume)/100.0),
		"-c:a", "libopus",
		"-b:a", "96K",
		"-vbr", "on",
		"-frame_duration", "20",
		"-application", "audio",
		"-vn",
		"-f", "ogg",
		"pipe:1",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.StdoutPipe()
	if err != nil {
		log.Error("ffmpeg stdout pipe", tint.Err(err))
		return
	}
	if err := cmd.Start(); err != nil {
		log.Error("ffmpeg start", tint.Err(err))
		return
	}
	defer func() {
		cancel()
		_ = cmd.Wait()
		if msg := strings.TrimSpace(stderr.String()); msg != "" && ctx.Err() == nil {
			log.Warn("ffmpeg stderr", "output", msg)
		}
	}()

	if err := vc.Speaking(true); err != nil {
		log.Error("speaking", tint.Err(err))
		return
	}
	defer func() { _ = vc.Speaking(false) }()

	dec := ogg.NewPacketDecoder(ogg.NewDecoder(out))
	next := func() ([]byte, error) {
		packet, _, err := dec.Decode()
		return packet, err
	}
	if err := sendOpus(ctx, next, vc.OpusSend, stream.paused); err != nil {
		log.Warn("stream ended", tint.Err(err))
	}
}

// sendOpus paces Opus packets from next to out at one per 20ms frame until
// next returns io.EOF or ctx is cancelled. A value on paused suspends sending until
// false arrives.
func sendOpus(ctx context.Context, next func() ([]byte, error), out chan<- []byte, paused <-chan bool) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-paused:
			for p {
				select {
				case <-ctx.Done():
					return nil
				case p = <-paused:
				}
			}
		default:
		}

		packet, err := next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("ogg decode: %w", err)
		}
		if len(packet) == 0 || bytes.HasPrefix(packet, []byte("OpusHead")) || bytes.HasPrefix(packet, []byte("OpusTags")) {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		select {
		case out <- packet:
		case <-ctx.Done():
			return nil
		}
	}
}

func (d *DirectBackend) Stop(guildID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s := d.streams[guildID]; s != nil {
		s.cancel()
	}
}

// SetVolume takes effect from the next song; ffmpeg applies the gain at start.
func (d *DirectBackend) SetVolume(string, int) {}

func (d *DirectBackend) SetPaused(guildID string, paused bool) {
	d.mu.Lock()
	s := d.streams[guildID]
	d.mu.Unlock()
	if s == nil {
		return
	}
	select {
	case s.paused <- paused:
	default:
		// drop a stale state and replace it
		select {
		case <-s.paused:
		default:
		}
		s.paused <- paused
	}
}

func (d *DirectBackend) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.streams {
		s.cancel()
	}
}
