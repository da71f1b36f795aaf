// Package latex finds TeX math in chat messages and renders it to PNG
// through a remote rendering API.
package latex

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MaxImageSize caps the rendered image body.
const MaxImageSize = 5 << 20

var (
	displayDollar = regexp.MustCompile(`(?s)\$\$(.+?)\$\$`)
	displayBrack  = regexp.MustCompile(`(?s)\\\[(.+?)\\\]`)
	inlineParen   = regexp.MustCompile(`(?s)\\\((.+?)\\\)`)
	fenced        = regexp.MustCompile("(?s)```(?:latex|tex)\\s*\\n?(.+?)```")
	// Inline $...$ must hug its content and must not start with a digit, so
	// "$5 and $10" is read as money.
	inlineDollar = regexp.MustCompile(`\$([^\s$\d][^$\n]*?[^\s$\\]|[^\s$\d])\$`)
)

// Detect returns up to max distinct expressions found in text, in priority
// order: $$…$$, \[…\], \(…\), fenced latex blocks, then inline $…$.
func Detect(text string, max int) []string {
	if max <= 0 || !strings.ContainsAny(text, `$\`+"`") {
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	add := func(expr string) {
		expr = strings.TrimSpace(expr)
		if expr == "" || seen[expr] || len(out) >= max {
			return
		}
		seen[expr] = true
		out = append(out, expr)
	}

	rest := text
	for _, re := range []*regexp.Regexp{displayDollar, displayBrack, inlineParen, fenced} {
		for _, m := range re.FindAllStringSubmatch(rest, -1) {
			add(m[1])
		}
		// Consumed spans must not be matched again by a later pattern.
		rest = re.ReplaceAllString(rest, " ")
	}
	for _, m := range inlineDollar.FindAllStringSubmatch(rest, -1) {
		add(m[1])
	}
	return out
}

// Renderer turns expressions into PNG bytes.
type Renderer struct {
	APIURL string
	DPI    int
	Client *http.Client
}

func NewRenderer(apiURL string, dpi int) *Renderer {
	return &Renderer{
		APIURL: apiURL,
		DPI:    dpi,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// URL is the request URL for expr.
func (r *Renderer) URL(expr string) string {
	return r.APIURL + url.PathEscape(fmt.Sprintf(`\dpi{%d}\bg{white} %s`, r.DPI, expr))
}

func (r *Renderer) Render(ctx context.Context, expr string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL(expr), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("latex api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("latex api returned %s", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("latex api returned %q instead of an image", ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read latex image: %w", err)
	}
	if len(data) > MaxImageSize {
		return nil, fmt.Errorf("latex image exceeds %d bytes", MaxImageSize)
	}
	return data, nil
}

// Limiter allows one render burst per user per interval.
type Limiter struct {
	mu       sync.Mutex
	every    rate.Limit
	limiters map[string]*rate.Limiter
}

func NewLimiter(interval time.Duration) *Limiter {
	return &Limiter{
		every:    rate.Every(interval),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) Allow(userID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(l.every, 1)
		l.limiters[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
