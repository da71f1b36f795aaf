package music

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"modbot/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLavalink(t *testing.T, h http.HandlerFunc) *LavalinkBackend {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	l := newLavalinkBackend(&config.LavalinkMusicConfig{Host: "127.0.0.1", Port: 2333, Password: "secret"}, "bot")
	l.baseURL = srv.URL
	return l
}

func TestLavalinkURLs(t *testing.T) {
	l := newLavalinkBackend(&config.LavalinkMusicConfig{Host: "node", Port: 443, Secure: true}, "bot")
	assert.Equal(t, "https://node:443", l.baseURL)
	assert.Equal(t, "wss://node:443/v4/websocket", l.wsURL)
}

func TestLavalinkResolveSong(t *testing.T) {
	var gotIdentifier, gotAuth string
	l := newTestLavalink(t, func(w http.ResponseWriter, r *http.Request) {
		gotIdentifier = r.URL.Query().Get("identifier")
		gotAuth = r.Header.Get("Authorization")
		switch gotIdentifier {
		case "ytsearch:lofi":
			fmt.Fprint(w, `{"loadType":"search","data":[{"encoded":"QAA","info":{"title":"Lofi","length":125000,"uri":"https://yt/1","isStream":false}}]}`)
		case "scsearch:nothing":
			fmt.Fprint(w, `{"loadType":"empty","data":{}}`)
		case "https://radio/live":
			fmt.Fprint(w, `{"loadType":"track","data":{"encoded":"QBB","info":{"title":"Radio","length":9223372036854775807,"uri":"https://radio/live","isStream":true}}}`)
		default:
			fmt.Fprint(w, `{"loadType":"error","data":{"message":"blocked"}}`)
		}
	})
	ctx := context.Background()

	song, err := l.ResolveSong(ctx, "lofi")
	require.NoError(t, err)
	assert.Equal(t, "secret", gotAuth)
	assert.Equal(t, "Lofi", song.Title)
	assert.Equal(t, "QAA", song.StreamURL)
	assert.Equal(t, 125, song.Duration)

	song, err = l.ResolveSong(ctx, "https://radio/live")
	require.NoError(t, err)
	assert.Equal(t, 0, song.Duration)
	assert.Equal(t, "live", song.Length())

	_, err = l.ResolveSong(ctx, "sc: nothing")
	assert.ErrorContains(t, err, "no results")

	_, err = l.ResolveSong(ctx, "yt: forbidden")
	assert.ErrorContains(t, err, "blocked")

	_, err = l.ResolveSong(ctx, "  ")
	assert.Error(t, err)
}

func TestLavalinkSessionNotFound(t *testing.T) {
	l := newTestLavalink(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	err := l.do(context.Background(), http.MethodPatch, playerPath("s1", "g1"), map[string]int{"volume": 10}, nil)
	assert.ErrorIs(t, err, errSessionNotFound)

	err = l.do(context.Background(), http.MethodGet, "/version", nil, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errSessionNotFound)
}

func TestLavalinkEventsFinishPlayback(t *testing.T) {
	l := newLavalinkBackend(&config.LavalinkMusicConfig{Host: "h", Port: 1}, "bot")
	p := &llPlayback{done: make(chan struct{})}
	l.players["g1"] = p

	l.handleEvent([]byte(`{"op":"event","type":"TrackEndEvent","guildId":"g1","reason":"replaced"}`))
	select {
	case <-p.done:
		t.Fatal("replaced track must not finish playback")
	default:
	}

	l.handleEvent([]byte(`{"op":"event","type":"TrackEndEvent","guildId":"g1","reason":"finished"}`))
	select {
	case <-p.done:
	default:
		t.Fatal("finished track should close playback")
	}

	// finishing twice is safe
	l.Stop("g1")
	assert.True(t, p.stopped)
}

func TestVoiceRegistryWait(t *testing.T) {
	ClearVoiceInfo("g-wait")
	UpdateVoiceState("g-wait", "sess")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := voices.wait(ctx, "g-wait")
	assert.Error(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		UpdateVoiceServer("g-wait", "tok", "endpoint")
	}()
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	v, err := voices.wait(ctx2, "g-wait")
	require.NoError(t, err)
	assert.Equal(t, voiceInfo{sessionID: "sess", token: "tok", endpoint: "endpoint"}, v)

	ClearVoiceInfo("g-wait")
	assert.False(t, voices.get("g-wait").complete())
}
