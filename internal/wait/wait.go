// Package wait implements bounded polling for browser-side conditions.
package wait

import (
	"context"
	"fmt"
	"time"

	"github.com/dgnsrekt/meet_torture/internal/session"
)

// DefaultInterval is used when For is given a non-positive interval.
const DefaultInterval = 500 * time.Millisecond

// Condition reports whether the awaited state has been reached. An error
// counts as "not yet" and is kept as the cause of an eventual timeout.
type Condition func(ctx context.Context) (bool, error)

// For polls cond until it returns true, the timeout elapses or ctx ends.
// A timeout is reported as a session.CodeTimeout error naming what.
func For(ctx context.Context, timeout, interval time.Duration, what string, cond Condition) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		ok, err := cond(ctx)
		if ok && err == nil {
			return nil
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return session.NewError(session.CodeTimeout,
				fmt.Sprintf("%s not reached within %s", what, timeout), lastErr)
		case <-ticker.C:
		}
	}
}

// Sleep pauses for d unless ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
