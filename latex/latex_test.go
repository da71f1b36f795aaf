package latex

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "plain text", text: "hello world", want: nil},
		{name: "display dollars", text: "see $$\\int_0^1 x\\,dx$$ here", want: []string{`\int_0^1 x\,dx`}},
		{name: "brackets", text: `\[ a^2 + b^2 = c^2 \]`, want: []string{"a^2 + b^2 = c^2"}},
		{name: "parens", text: `inline \(e^{i\pi}\) ok`, want: []string{`e^{i\pi}`}},
		{name: "fenced", text: "```latex\n\\frac{1}{2}\n```", want: []string{`\frac{1}{2}`}},
		{name: "inline", text: "the area is $\\pi r^2$.", want: []string{`\pi r^2`}},
		{name: "single char inline", text: "let $x$ be", want: []string{"x"}},
		{name: "currency", text: "it costs $5 and $10 now", want: nil},
		{name: "spaced dollars", text: "between $ 3 $ and", want: nil},
		{
			name: "priority and dedupe",
			text: "$y$ and $$x$$ and \\[z\\] and $$x$$",
			want: []string{"x", "z", "y"},
		},
		{
			name: "cap",
			text: "$$a$$ $$b$$ $$c$$ $$d$$",
			want: []string{"a", "b", "c"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.text, 3))
		})
	}
	assert.Nil(t, Detect("$$a$$", 0))
}

func TestRendererURL(t *testing.T) {
	r := NewRenderer("https://latex.example/png.image?", 200)
	u := r.URL("x^2")
	assert.True(t, strings.HasPrefix(u, "https://latex.example/png.image?"))
	assert.Contains(t, u, `%5Cdpi%7B200%7D%5Cbg%7Bwhite%7D%20x%5E2`)
}

func TestRender(t *testing.T) {
	png := []byte("\x89PNG fake")
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RawQuery
		switch {
		case strings.Contains(r.URL.RawQuery, "bad"):
			w.WriteHeader(http.StatusBadRequest)
		case strings.Contains(r.URL.RawQuery, "html"):
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>"))
		case strings.Contains(r.URL.RawQuery, "huge"):
			w.Header().Set("Content-Type", "image/png")
			w.Write(bytes.Repeat([]byte{1}, MaxImageSize+10))
		default:
			w.Header().Set("Content-Type", "image/png")
			w.Write(png)
		}
	}))
	defer srv.Close()

	r := NewRenderer(srv.URL+"/png.image?", 150)
	ctx := context.Background()

	data, err := r.Render(ctx, "x^2")
	require.NoError(t, err)
	assert.Equal(t, png, data)
	assert.Contains(t, gotPath, "dpi%7B150%7D")

	_, err = r.Render(ctx, "bad")
	assert.ErrorContains(t, err, "400")

	_, err = r.Render(ctx, "html")
	assert.ErrorContains(t, err, "instead of an image")

	_, err = r.Render(ctx, "huge")
	assert.ErrorContains(t, err, "exceeds")
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(time.Hour)
	assert.True(t, l.Allow("u1"))
	assert.False(t, l.Allow("u1"))
	assert.True(t, l.Allow("u2"))
}
