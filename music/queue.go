package music

import (
	"errors"
	"fmt"
	"math/rand"
)

var ErrQueueFull = errors.New("queue is full")

type Song struct {
	Title     string
	URL       string
	StreamURL string
	// Duration in seconds, 0 for live streams.
	Duration  int
	AddedBy   string
	AddedByID string
}

// Length renders the duration as m:ss, or "live".
func (s *Song) Length() string {
	if s.Duration <= 0 {
		return "live"
	}
	return FormatSeconds(s.Duration)
}

func FormatSeconds(secs int) string {
	if secs >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// Queue is a bounded FIFO of songs. It is not safe for concurrent use; the
// owning GuildPlayer serialises access.
type Queue struct {
	songs []*Song
	max   int
}

func NewQueue(max int) *Queue {
	return &Queue{max: max}
}

// Push appends song and returns its 1-based position.
func (q *Queue) Push(song *Song) (int, error) {
	if q.max > 0 && len(q.songs) >= q.max {
		return 0, fmt.Errorf("%w (%d/%d)", ErrQueueFull, len(q.songs), q.max)
	}
	q.songs = append(q.songs, song)
	return len(q.songs), nil
}

func (q *Queue) Pop() (*Song, bool) {
	if len(q.songs) == 0 {
		return nil, false
	}
	song := q.songs[0]
	q.songs[0] = nil
	q.songs = q.songs[1:]
	return song, true
}

// Remove drops the song at 1-based position pos.
func (q *Queue) Remove(pos int) (*Song, bool) {
	if pos < 1 || pos > len(q.songs) {
		return nil, false
	}
	song := q.songs[pos-1]
	q.songs = append(q.songs[:pos-1], q.songs[pos:]...)
	return song, true
}

func (q *Queue) Shuffle() {
	rand.Shuffle(len(q.songs), func(i, j int) {
		q.songs[i], q.songs[j] = q.songs[j], q.songs[i]
	})
}

func (q *Queue) Len() int { return len(q.songs) }

func (q *Queue) Clear() { q.songs = nil }

func (q *Queue) Snapshot() []*Song {
	out := make([]*Song, len(q.songs))
	copy(out, q.songs)
	return out
}
