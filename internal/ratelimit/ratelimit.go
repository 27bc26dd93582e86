package ratelimit

import (
	"context"
	"time"
)

// CounterStore counts hits per subject per window. Incr returns the count
// including the current hit.
type CounterStore interface {
	Incr(ctx context.Context, subject string, windowID int64) (int64, error)
}

// Decision is the outcome of one rate limit check, carrying what the
// X-RateLimit response headers need.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter applies a fixed per-minute window. The window boundary is the
// wall-clock minute, so a burst at :59 followed by one at :00 can briefly
// see up to twice the limit. That is the accepted trade for a counter that
// needs only a single INCR per request.
type Limiter struct {
	store CounterStore
	limit int
	now   func() time.Time
}

func NewLimiter(store CounterStore, perMinute int) *Limiter {
	return &Limiter{store: store, limit: perMinute, now: time.Now}
}

// Enabled reports whether a limit is configured at all.
func (l *Limiter) Enabled() bool {
	return l != nil && l.limit > 0
}

// Check records one hit for subject and decides whether it is allowed.
// A store error fails open: an unreachable counter must not take the
// gateway down with it.
func (l *Limiter) Check(ctx context.Context, subject string) (Decision, error) {
	now := l.now()
	windowID := now.Unix() / 60
	reset := time.Unix((windowID+1)*60, 0).UTC()

	count, err := l.store.Incr(ctx, subject, windowID)
	if err != nil {
		return Decision{Allowed: true, Limit: l.limit, Remaining: 0, Reset: reset}, err
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		Reset:     reset,
	}, nil
}
