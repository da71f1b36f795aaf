package handlers

import (
	"strings"
	"testing"

	"modbot/music"

	"github.com/stretchr/testify/assert"
)

func TestQueueText(t *testing.T) {
	setupTest(t)

	empty := queueText(music.PlayerState{Volume: 50}, "direct")
	assert.Equal(t, "**Now playing:** nothing\n\nThe queue is empty.\n\nVolume: **50%** • Backend: direct", empty)

	st := music.PlayerState{
		NowPlaying: &music.Song{Title: "Intro", URL: "https://example.com/0", Duration: 125, AddedBy: "alice"},
		Volume:     80,
	}
	for n := 0; n < queuePageSize+3; n++ {
		st.Queue = append(st.Queue, &music.Song{Title: "Song", URL: "https://example.com/s", AddedBy: "bob"})
	}
	text := queueText(st, "lavalink")
	assert.True(t, strings.HasPrefix(text, "**Now playing:** [Intro](https://example.com/0) `2:05` • alice\n\n"))
	assert.Contains(t, text, "**Up next (18):**\n")
	assert.Contains(t, text, "`15.` [Song](https://example.com/s) `live` • bob\n")
	assert.NotContains(t, text, "`16.`")
	assert.Contains(t, text, "…and 3 more\n")
	assert.True(t, strings.HasSuffix(text, "Volume: **80%** • Backend: lavalink"))
}

func TestMusicCommandDisabled(t *testing.T) {
	s, cfg, _ := setupTest(t)

	handleMusicCommand(s, command(0, "queue", nil))
	assert.Equal(t, "Music is disabled on this bot.", responseEmbed(t, s.lastResponse()).Description)

	cfg.Music.Enabled = true
	prev := MusicMgr
	MusicMgr = nil
	t.Cleanup(func() { MusicMgr = prev })
	handleMusicCommand(s, command(0, "queue", nil))
	assert.Contains(t, responseEmbed(t, s.lastResponse()).Description, "failed to start")
}
