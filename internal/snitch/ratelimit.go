package snitch

import (
	"context"
	"sync"
	"time"

	"snitchbot/internal/transport"
	logx "snitchbot/pkg/logx"
)

const (
	// DefaultMaxPerSecond stays well under Telegram's published ~30 msg/s
	// broadcast guidance equivalent; runtime-adjustable within [1,50].
	DefaultMaxPerSecond  = 35
	DefaultMaxConcurrent = 20

	window      = time.Second
	maxAttempts = 3
	// retryFloor keeps a zero/short server hint from hot-looping.
	retryFloor = 2 * time.Second
)

// Limiter enforces a rolling one-second send budget shared by all
// concurrent senders of one dispatcher.
//
// Gating is always based on the timestamp window; server-reported quota is
// recorded for status output only. The window is inspected and mutated
// under a single mutex, but sleeps never hold it, so any number of callers
// may be waiting for capacity at once.
type Limiter struct {
	mu           sync.Mutex
	times        []time.Time
	maxPerSecond int

	// last server-reported quota, stats only
	remaining int
	resetAt   time.Time

	sem chan struct{}
	log logx.Logger
}

func NewLimiter(maxPerSecond, maxConcurrent int, log logx.Logger) *Limiter {
	if maxPerSecond < 1 || maxPerSecond > 50 {
		maxPerSecond = DefaultMaxPerSecond
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Limiter{
		maxPerSecond: maxPerSecond,
		remaining:    -1,
		sem:          make(chan struct{}, maxConcurrent),
		log:          log,
	}
}

// Throttle blocks until a send may proceed under the per-second ceiling,
// then records the send timestamp. The recorded time is the time the send
// actually proceeds, not the time the slot was requested.
func (l *Limiter) Throttle(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		l.pruneLocked(now)
		if len(l.times) < l.maxPerSecond {
			l.times = append(l.times, now)
			l.mu.Unlock()
			return nil
		}
		wait := window - now.Sub(l.times[0])
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		if l.log.Enabled(logx.LevelDebug) {
			l.log.Debug("rate limiting", logx.Duration("wait", wait))
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Do runs op under the concurrency bound and the rate window, retrying
// transient rate-limit failures up to the attempt ceiling. The retry delay
// is the transport's hint with a floor; any other failure propagates
// immediately. Exhausting retries returns the last failure.
func (l *Limiter) Do(ctx context.Context, op func(context.Context) error) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := l.Throttle(ctx); err != nil {
			return err
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		after, transient := transport.RetryAfter(err)
		if !transient {
			return err
		}
		l.ObserveQuota(-1, time.Now().Add(after))
		if attempt == maxAttempts {
			break
		}
		if after < retryFloor {
			after = retryFloor
		}
		l.log.Warn("transport throttled; backing off",
			logx.Duration("retry_after", after),
			logx.Int("attempt", attempt),
		)
		t := time.NewTimer(after)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return lastErr
}

// SetMaxPerSecond adjusts the ceiling at runtime. Values outside [1,50]
// are rejected and the current ceiling kept.
func (l *Limiter) SetMaxPerSecond(n int) bool {
	if n < 1 || n > 50 {
		return false
	}
	l.mu.Lock()
	l.maxPerSecond = n
	l.mu.Unlock()
	return true
}

// ObserveQuota records server-reported throttle state. A negative
// remaining leaves the last reported quota untouched; flood errors carry
// only a retry-after. Status reporting only; never consulted by Throttle.
func (l *Limiter) ObserveQuota(remaining int, resetAt time.Time) {
	l.mu.Lock()
	if remaining >= 0 {
		l.remaining = remaining
	}
	l.resetAt = resetAt
	l.mu.Unlock()
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(time.Now())
	avail := l.maxPerSecond - len(l.times)
	if avail < 0 {
		avail = 0
	}
	return Stats{
		RecentSends:   len(l.times),
		MaxPerSecond:  l.maxPerSecond,
		MaxConcurrent: cap(l.sem),
		Available:     avail,
		Remaining:     l.remaining,
		ResetAt:       l.resetAt,
	}
}

// pruneLocked drops timestamps older than one window. Caller holds mu.
func (l *Limiter) pruneLocked(now time.Time) {
	i := 0
	for i < len(l.times) && now.Sub(l.times[i]) >= window {
		i++
	}
	if i > 0 {
		l.times = append(l.times[:0], l.times[i:]...)
	}
}
