package music

import (
	"context"
	"testing"

	"modbot/config"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePushPop(t *testing.T) {
	q := NewQueue(2)

	pos, err := q.Push(&Song{Title: "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	pos, err = q.Push(&Song{Title: "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	_, err = q.Push(&Song{Title: "c"})
	assert.ErrorIs(t, err, ErrQueueFull)

	song, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", song.Title)
	assert.Equal(t, 1, q.Len())

	q.Clear()
	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueueRemoveAndSnapshot(t *testing.T) {
	q := NewQueue(0)
	for _, title := range []string{"a", "b", "c"} {
		_, err := q.Push(&Song{Title: title})
		require.NoError(t, err)
	}

	removed, ok := q.Remove(2)
	require.True(t, ok)
	assert.Equal(t, "b", removed.Title)

	_, ok = q.Remove(0)
	assert.False(t, ok)
	_, ok = q.Remove(3)
	assert.False(t, ok)

	snap := q.Snapshot()
	require.Len(t, snap, 2)
	snap[0] = nil
	assert.Equal(t, "a", q.Snapshot()[0].Title)

	q.Shuffle()
	assert.Equal(t, 2, q.Len())
}

func TestSongLength(t *testing.T) {
	assert.Equal(t, "live", (&Song{}).Length())
	assert.Equal(t, "3:07", (&Song{Duration: 187}).Length())
	assert.Equal(t, "1:01:01", (&Song{Duration: 3661}).Length())
}

type fakeBackend struct {
	stopped []string
	paused  []bool
	volumes []int
}

func (f *fakeBackend) Name() string { return "fake" }
func (f *fakeBackend) ResolveSong(_ context.Context, q string) (*Song, error) {
	return &Song{Title: q}, nil
}
func (f *fakeBackend) Play(*discordgo.VoiceConnection, *Song, int) {}
func (f *fakeBackend) Stop(guildID string) { f.stopped = append(f.stopped, guildID) }
func (f *fakeBackend) SetVolume(_ string, vol int) { f.volumes = append(f.volumes, vol) }
func (f *fakeBackend) SetPaused(_ string, paused bool) { f.paused = append(f.paused, paused) }
func (f *fakeBackend) Cleanup() {}

func TestGuildPlayer(t *testing.T) {
	fb := &fakeBackend{}
	m := newManager(nil, &config.MusicConfig{MaxQueueSize: 2, DefaultVolume: 40}, fb)

	p := m.GetPlayer("g1")
	assert.Same(t, p, m.GetPlayer("g1"))

	_, err := p.Enqueue(&Song{Title: "a"})
	require.NoError(t, err)
	_, err = p.Enqueue(&Song{Title: "b"})
	require.NoError(t, err)
	_, err = p.Enqueue(&Song{Title: "c"})
	assert.ErrorIs(t, err, ErrQueueFull)

	// Without a voice connection nothing starts.
	p.PlayNext()
	st := p.State()
	assert.False(t, st.Playing)
	assert.Len(t, st.Queue, 2)
	assert.Equal(t, 40, st.Volume)

	assert.False(t, p.SetPaused(true))
	assert.Empty(t, fb.paused)

	p.SetVolume(80)
	assert.Equal(t, []int{80}, fb.volumes)
	assert.Equal(t, 80, p.State().Volume)

	p.Stop()
	assert.Equal(t, []string{"g1"}, fb.stopped)
	assert.Empty(t, p.State().Queue)

	assert.Equal(t, "", m.VoiceChannelOf("g1", "u1"))
	assert.Equal(t, "fake", m.BackendName())
}
