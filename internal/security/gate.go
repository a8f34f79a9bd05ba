// Package security screens inbound frames before any decoding happens. The
// gate is deliberately cheap: a per-source sliding-window rate limit, a size
// cap, trust for well-formed binary markers, and a substring denylist for the
// text protocol. Anything it cannot classify is suspicious and goes no
// further than the audit store.
package security

import (
	"bytes"
	"strings"
	"sync"
	"time"
)

// Verdict is the gate's classification of one frame.
type Verdict string

const (
	VerdictSafe        Verdict = "safe"
	VerdictSuspicious  Verdict = "suspicious"
	VerdictMalicious   Verdict = "malicious"
	VerdictRateLimited Verdict = "rate_limited"
)

const (
	defaultRateLimit    = 20
	defaultRateWindow   = time.Minute
	defaultMaxFrameSize = 2000
)

// Substrings that have no business inside tracker telemetry.
var maliciousPatterns = []string{"<script", "eval(", "system(", "drop table"}

// Gate holds the per-source rate-limit windows. Safe for concurrent use.
type Gate struct {
	limit   int
	window  time.Duration
	maxSize int
	now     func() time.Time

	mu      sync.Mutex
	sources map[string][]time.Time
}

// Option tweaks gate construction.
type Option func(*Gate)

func WithRateLimit(limit int, window time.Duration) Option {
	return func(g *Gate) {
		g.limit = limit
		g.window = window
	}
}

func WithMaxFrameSize(n int) Option {
	return func(g *Gate) { g.maxSize = n }
}

// WithClock substitutes the time source; tests use it to walk the window.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func NewGate(opts ...Option) *Gate {
	g := &Gate{
		limit:   defaultRateLimit,
		window:  defaultRateWindow,
		maxSize: defaultMaxFrameSize,
		now:     time.Now,
		sources: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check classifies one frame from a source address. A rate-limited frame is
// not counted against the window, so a source recovers as old entries age out.
func (g *Gate) Check(source string, data []byte) Verdict {
	if !g.admit(source) {
		return VerdictRateLimited
	}

	if len(data) > g.maxSize {
		return VerdictMalicious
	}

	// Valid binary framing markers are trusted without content inspection;
	// their decoders verify checksums anyway.
	if len(data) >= 2 && (data[0] == 0x7E || bytes.HasPrefix(data, []byte{0x78, 0x78})) {
		return VerdictSafe
	}

	if len(data) >= 1 && data[0] == '*' {
		text := strings.ToLower(string(data))
		for _, pattern := range maliciousPatterns {
			if strings.Contains(text, pattern) {
				return VerdictMalicious
			}
		}
		return VerdictSafe
	}

	return VerdictSuspicious
}

// admit applies the sliding window: at most limit frames per rolling window
// per source.
func (g *Gate) admit(source string) bool {
	now := g.now()
	cutoff := now.Add(-g.window)

	g.mu.Lock()
	defer g.mu.Unlock()

	seen := g.sources[source]
	kept := seen[:0]
	for _, t := range seen {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= g.limit {
		g.sources[source] = kept
		return false
	}
	g.sources[source] = append(kept, now)
	return true
}
