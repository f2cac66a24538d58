package transport

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitedError reports a transient platform throttle. Senders should
// back off for RetryAfter and try again; every other error from a send is
// terminal for that recipient.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// RetryAfter extracts the throttle hint from err.
// Returns (0, false) for terminal errors.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
