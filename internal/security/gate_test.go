package security

import (
	"bytes"
	"fmt"
	"testing"
	"time"
)

func TestCheckVerdicts(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Verdict
	}{
		{"hq text frame", []byte("*HQ,123456789012345,V1,120000,A#"), VerdictSafe},
		{"jt808 marker", []byte{0x7E, 0x00, 0x02, 0x00}, VerdictSafe},
		{"gt06 marker", []byte{0x78, 0x78, 0x0A, 0x01}, VerdictSafe},
		{"script injection", []byte("*HQ,123,<script>alert(1)</script>#"), VerdictMalicious},
		{"sql injection", []byte("*HQ,123,V1,DROP TABLE devices#"), VerdictMalicious},
		{"eval payload", []byte("*HQ,123,eval(x)#"), VerdictMalicious},
		{"unmarked binary", []byte{0x00, 0x01, 0x02, 0x03}, VerdictSuspicious},
		{"oversized frame", bytes.Repeat([]byte{0x7E}, 3000), VerdictMalicious},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate()
			if got := g.Check("10.0.0.1:5000", tt.data); got != tt.want {
				t.Errorf("Check() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	now := time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)
	g := NewGate(
		WithRateLimit(5, time.Minute),
		WithClock(func() time.Time { return now }),
	)

	frame := []byte("*HQ,123,V1#")
	for i := 0; i < 5; i++ {
		if got := g.Check("1.2.3.4:9", frame); got != VerdictSafe {
			t.Fatalf("frame %d verdict = %v, want safe", i+1, got)
		}
	}
	if got := g.Check("1.2.3.4:9", frame); got != VerdictRateLimited {
		t.Errorf("frame 6 verdict = %v, want rate_limited", got)
	}

	// Other sources are unaffected.
	if got := g.Check("5.6.7.8:9", frame); got != VerdictSafe {
		t.Errorf("other source verdict = %v, want safe", got)
	}

	// Rejected frames are not counted, so the source recovers as soon as
	// the window slides past the admitted ones.
	now = now.Add(61 * time.Second)
	if got := g.Check("1.2.3.4:9", frame); got != VerdictSafe {
		t.Errorf("post-window verdict = %v, want safe", got)
	}
}

func TestRateLimitSlidingWindow(t *testing.T) {
	now := time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)
	g := NewGate(
		WithRateLimit(2, time.Minute),
		WithClock(func() time.Time { return now }),
	)

	frame := []byte("*HQ,123,V1#")
	g.Check("src", frame)
	now = now.Add(30 * time.Second)
	g.Check("src", frame)
	if got := g.Check("src", frame); got != VerdictRateLimited {
		t.Fatalf("verdict = %v, want rate_limited", got)
	}

	// 31 seconds later the first admission has aged out but the second has
	// not, so exactly one slot is free.
	now = now.Add(31 * time.Second)
	if got := g.Check("src", frame); got != VerdictSafe {
		t.Errorf("verdict = %v, want safe after first entry aged out", got)
	}
	if got := g.Check("src", frame); got != VerdictRateLimited {
		t.Errorf("verdict = %v, want rate_limited again", got)
	}
}

func TestMaxFrameSizeOption(t *testing.T) {
	g := NewGate(WithMaxFrameSize(10))
	if got := g.Check("src", []byte(fmt.Sprintf("*HQ,%s#", "12345678901234567890"))); got != VerdictMalicious {
		t.Errorf("verdict = %v, want malicious for oversized frame", got)
	}
}
