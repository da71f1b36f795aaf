package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"modbot/latex"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake")

// useLatexServer points the renderer at a local server. fail makes it
// answer with an error status.
func useLatexServer(t *testing.T, fail bool) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			http.Error(w, "bad expression", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	t.Cleanup(srv.Close)
	renderer = latex.NewRenderer(srv.URL+"/png?", 150)
	latexLimits = latex.NewLimiter(time.Hour)
}

func TestLatexMessageRendersExpressions(t *testing.T) {
	s, cfg, _ := setupTest(t)
	cfg.Latex.Enabled = true
	useLatexServer(t, false)

	handleMessageCreate(s, chatMessage(testUser(memberID, "member")))
	assert.Empty(t, s.sentTo("general"), "no math in plain text")

	m := chatMessage(testUser(memberID, "member"))
	m.Content = `solve $$x^2 = 4$$ and \(y\)`
	handleMessageCreate(s, m)

	sent := s.sentTo("general")
	require.Len(t, sent, 1)
	require.Len(t, sent[0].Files, 2)
	assert.Equal(t, "latex-1.png", sent[0].Files[0].Name)
	assert.Equal(t, string(pngBytes), readFile(t, sent[0].Files[0]))
	require.NotNil(t, sent[0].Reference)
	assert.Equal(t, "m1", sent[0].Reference.MessageID)

	// throttled for the rest of the interval
	handleMessageCreate(s, m)
	assert.Len(t, s.sentTo("general"), 1)
}

func TestLatexMessageRenderFailure(t *testing.T) {
	s, cfg, _ := setupTest(t)
	cfg.Latex.Enabled = true
	useLatexServer(t, true)

	m := chatMessage(testUser(memberID, "member"))
	m.Content = "$$\\frac{1}{$$"
	handleMessageCreate(s, m)

	sent := s.sentTo("general")
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0].Files)
	assert.Equal(t, "I couldn't render that expression.", sent[0].Embeds[0].Description)
}

func TestLatexCommand(t *testing.T) {
	s, _, _ := setupTest(t)
	useLatexServer(t, false)

	handleLatexCommand(s, command(0, "latex", nil, strOpt("expression", `\sum_{i=1}^n i`)))

	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, s.lastResponse().Type)
	f := s.lastFollowup()
	require.NotNil(t, f)
	assert.Equal(t, "`\\sum_{i=1}^n i`", f.Content)
	assert.Len(t, f.Files, 1)

	handleLatexCommand(s, command(0, "latex", nil, strOpt("expression", "x")))
	assert.Contains(t, responseEmbed(t, s.lastResponse()).Description, "too fast")
}
