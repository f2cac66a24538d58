package snitch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"snitchbot/internal/transport"
	logx "snitchbot/pkg/logx"
)

func TestNewLimiterClampsCeiling(t *testing.T) {
	t.Parallel()

	for _, n := range []int{-1, 0, 51, 1000} {
		l := NewLimiter(n, 1, logx.Nop())
		if got := l.Stats().MaxPerSecond; got != DefaultMaxPerSecond {
			t.Fatalf("NewLimiter(%d): ceiling = %d, want default %d", n, got, DefaultMaxPerSecond)
		}
	}
	l := NewLimiter(5, 1, logx.Nop())
	if got := l.Stats().MaxPerSecond; got != 5 {
		t.Fatalf("ceiling = %d, want 5", got)
	}
}

func TestSetMaxPerSecond(t *testing.T) {
	t.Parallel()

	l := NewLimiter(10, 1, logx.Nop())
	if !l.SetMaxPerSecond(1) || !l.SetMaxPerSecond(50) {
		t.Fatal("in-range values rejected")
	}
	for _, n := range []int{0, -3, 51} {
		if l.SetMaxPerSecond(n) {
			t.Fatalf("SetMaxPerSecond(%d) accepted", n)
		}
	}
	if got := l.Stats().MaxPerSecond; got != 50 {
		t.Fatalf("ceiling = %d, want last accepted value 50", got)
	}
}

// A burst larger than the ceiling must never let more than maxPerSecond
// sends proceed within any trailing one-second window.
func TestThrottleWindow(t *testing.T) {
	t.Parallel()

	const perSecond = 5
	const total = 12
	l := NewLimiter(perSecond, total, logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Throttle(ctx); err != nil {
				t.Errorf("Throttle: %v", err)
				return
			}
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(times) != total {
		t.Fatalf("%d sends proceeded, want %d", len(times), total)
	}
	for _, anchor := range times {
		n := 0
		for _, ts := range times {
			d := ts.Sub(anchor)
			if d >= 0 && d < time.Second {
				n++
			}
		}
		if n > perSecond {
			t.Fatalf("%d sends within one second, ceiling %d", n, perSecond)
		}
	}
}

func TestThrottleHonorsContext(t *testing.T) {
	t.Parallel()

	l := NewLimiter(1, 1, logx.Nop())
	if err := l.Throttle(context.Background()); err != nil {
		t.Fatalf("first Throttle: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Throttle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Throttle = %v, want deadline exceeded", err)
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	l := NewLimiter(50, 5, logx.Nop())
	var calls int32
	err := l.Do(context.Background(), func(context.Context) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return &transport.RateLimitedError{RetryAfter: time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("op called %d times, want 2", got)
	}
}

func TestDoStopsAtAttemptCeiling(t *testing.T) {
	t.Parallel()

	l := NewLimiter(50, 5, logx.Nop())
	var calls int32
	err := l.Do(context.Background(), func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return &transport.RateLimitedError{RetryAfter: time.Millisecond}
	})
	var rl *transport.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("Do = %v, want the last rate-limited error", err)
	}
	if got := atomic.LoadInt32(&calls); got != maxAttempts {
		t.Fatalf("op called %d times, want %d", got, maxAttempts)
	}
}

func TestDoTerminalErrorNoRetry(t *testing.T) {
	t.Parallel()

	boom := errors.New("chat not found")
	l := NewLimiter(50, 5, logx.Nop())
	var calls int32
	err := l.Do(context.Background(), func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Do = %v, want %v", err, boom)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("op called %d times, want 1", got)
	}
}

func TestDoConcurrencyBound(t *testing.T) {
	t.Parallel()

	const bound = 3
	l := NewLimiter(50, bound, logx.Nop())

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if p := atomic.LoadInt32(&peak); p > bound {
		t.Fatalf("peak concurrency %d exceeds bound %d", p, bound)
	}
}

func TestStatsReflectsWindowAndQuota(t *testing.T) {
	t.Parallel()

	l := NewLimiter(10, 4, logx.Nop())
	for i := 0; i < 3; i++ {
		if err := l.Throttle(context.Background()); err != nil {
			t.Fatalf("Throttle: %v", err)
		}
	}

	s := l.Stats()
	if s.RecentSends != 3 || s.Available != 7 {
		t.Fatalf("stats = %d recent / %d available, want 3/7", s.RecentSends, s.Available)
	}
	if s.MaxConcurrent != 4 {
		t.Fatalf("MaxConcurrent = %d, want 4", s.MaxConcurrent)
	}
	if s.Remaining != -1 {
		t.Fatalf("Remaining = %d before any server report, want -1", s.Remaining)
	}

	reset := time.Now().Add(time.Minute)
	l.ObserveQuota(7, reset)
	s = l.Stats()
	if s.Remaining != 7 || !s.ResetAt.Equal(reset) {
		t.Fatalf("quota = %d/%v, want 7/%v", s.Remaining, s.ResetAt, reset)
	}
}

// A flood error carries only a retry-after; it must record the reset time
// without inventing a zero remaining quota.
func TestTransientFailureKeepsQuotaUnknown(t *testing.T) {
	t.Parallel()

	l := NewLimiter(50, 5, logx.Nop())
	var calls int32
	err := l.Do(context.Background(), func(context.Context) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return &transport.RateLimitedError{RetryAfter: time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	s := l.Stats()
	if s.Remaining != -1 {
		t.Fatalf("Remaining = %d after flood retry, want -1 (never reported)", s.Remaining)
	}
	if s.ResetAt.IsZero() {
		t.Fatal("ResetAt not recorded from retry-after")
	}

	l.ObserveQuota(3, time.Now())
	l.ObserveQuota(-1, time.Now().Add(time.Second))
	if got := l.Stats().Remaining; got != 3 {
		t.Fatalf("negative remaining overwrote reported quota: %d", got)
	}
}
