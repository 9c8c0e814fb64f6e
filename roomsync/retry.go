package roomsync

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy bounds the retries of room-critical operations (history
// fetch, channel open). Attempts counts the first try; 1 disables retries.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// backoff returns the wait before attempt n (n >= 1 is the second try).
func (p RetryPolicy) backoff(n int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// retry runs op until it succeeds, the attempts are exhausted or ctx ends.
// The last error is returned.
func retry(ctx context.Context, p RetryPolicy, clock Clock, log *slog.Logger, name string, op func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			wait := p.backoff(i)
			log.Debug("retrying", "operation", name, "attempt", i+1, "backoff", wait)
			if serr := sleep(ctx, clock, wait); serr != nil {
				return serr
			}
		}
		if err = op(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("operation failed", "operation", name, "attempt", i+1, "error", err)
	}
	return err
}
