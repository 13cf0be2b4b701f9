package rate

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitError is returned when calls are blocked.
type RateLimitError struct {
	Target  string
	Reason  string
	RetryAt time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Target, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Target, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type bucket struct {
	capacity int
	tokens   float64
	last     time.Time
}

// State tracks token buckets per window.
type State struct {
	limits  map[Window]int
	buckets map[Window]*bucket
}

// Tokens reports the tokens currently left in a window's bucket.
func (s *State) Tokens(window Window) float64 {
	if b, ok := s.buckets[window]; ok {
		return b.tokens
	}
	return 0
}

// Guard enforces rate limits for one command target.
type Guard struct {
	decl Declaration
	mu   sync.Mutex
	// state is mutated under mu
	state State
}

// NewGuard builds a guard with full buckets.
func NewGuard(decl Declaration) *Guard {
	return newGuardAt(decl, time.Now())
}

func newGuardAt(decl Declaration, now time.Time) *Guard {
	state := State{
		limits:  make(map[Window]int),
		buckets: make(map[Window]*bucket),
	}
	for window, limit := range decl.Limits() {
		state.limits[window] = limit
		state.buckets[window] = &bucket{
			capacity: limit,
			tokens:   float64(limit),
			last:     now,
		}
		tokensGauge.WithLabelValues(decl.TargetName(), window.String()).Set(float64(limit))
	}
	return &Guard{decl: decl, state: state}
}

// Allow consumes a token, returning a RateLimitError when none is left.
// A nil guard allows everything.
func (g *Guard) Allow() error {
	if g == nil {
		return nil
	}
	decision := g.ShouldCall(time.Now())
	if decision.Allowed {
		return nil
	}
	deniedCounter.WithLabelValues(g.decl.TargetName(), decision.Reason).Inc()
	return RateLimitError{
		Target:  g.decl.TargetName(),
		Reason:  decision.Reason,
		RetryAt: decision.RetryAt,
	}
}

func (g *Guard) ShouldCall(now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.decl.CustomPolicy() != nil {
		return g.decl.CustomPolicy()(&g.state, now)
	}

	if !g.decl.HasLimits() {
		return Decision{Allowed: true}
	}

	for window, limit := range g.state.limits {
		if limit <= 0 {
			return Decision{Allowed: false, Reason: "disabled"}
		}
		b := g.state.buckets[window]
		refill(b, windowDuration(window), now)
		if b.tokens < 1 {
			retryAt := b.last.Add(windowDuration(window) / time.Duration(limit))
			return Decision{Allowed: false, Reason: "budget", RetryAt: retryAt}
		}
	}

	// Only spend once every window has a token.
	for window, b := range g.state.buckets {
		b.tokens--
		tokensGauge.WithLabelValues(g.decl.TargetName(), window.String()).Set(b.tokens)
	}

	return Decision{Allowed: true}
}

func windowDuration(window Window) time.Duration {
	switch window {
	case Minute:
		return time.Minute
	case Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

func refill(b *bucket, window time.Duration, now time.Time) {
	if b.last.IsZero() {
		b.last = now
	}
	elapsed := now.Sub(b.last).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	refillRate := float64(b.capacity) / window.Seconds()
	b.tokens = minFloat(float64(b.capacity), b.tokens+elapsed*refillRate)
	b.last = now
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
