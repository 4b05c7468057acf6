// Package ratelimit implements the global or per-type minimum-interval gate
// described in §4.3. It is built on golang.org/x/time/rate: a token bucket
// with burst 1 refilling at MaxHz tokens/second is exactly a minimum-interval
// gate (a token is available iff now-last >= 1/MaxHz), and rate.Limiter's
// AllowN(t, n) form lets tests drive it with a synthetic clock.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/goblimey/nmea-bridge/sentence"
)

// Config is the immutable rate-limiter configuration (§3).
type Config struct {
	// MaxHz is the maximum emission rate in Hz. A value <= 0 disables
	// rate-limiting entirely.
	MaxHz float64

	// PerType, when true, applies the limit independently per full
	// sentence type rather than globally.
	PerType bool
}

// Limiter gates sentences according to Config. It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	cfg      Config
	now      func() time.Time
	global   *rate.Limiter
	perType  map[string]*rate.Limiter
}

// New builds a Limiter from cfg.
func New(cfg Config) *Limiter {
	return newWithClock(cfg, time.Now)
}

// newWithClock builds a Limiter driven by the supplied clock, for
// deterministic tests.
func newWithClock(cfg Config, now func() time.Time) *Limiter {
	l := &Limiter{cfg: cfg, now: now}
	l.reset()
	return l
}

// ShouldEmit reports whether s may be emitted under the current rate, and
// if so, records the emission.
func (l *Limiter) ShouldEmit(s sentence.Sentence) bool {
	if l.cfg.MaxHz <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if l.cfg.PerType {
		lim, ok := l.perType[s.FullType()]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(l.cfg.MaxHz), 1)
			l.perType[s.FullType()] = lim
		}
		return lim.AllowN(now, 1)
	}

	return l.global.AllowN(now, 1)
}

// Reset clears all internal state, as if the Limiter had just been created.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reset()
}

func (l *Limiter) reset() {
	if l.cfg.MaxHz > 0 {
		l.global = rate.NewLimiter(rate.Limit(l.cfg.MaxHz), 1)
	}
	l.perType = make(map[string]*rate.Limiter)
}
