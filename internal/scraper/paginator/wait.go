package paginator

import (
	"context"
	"errors"
	"time"
)

// ErrWaitTimeout is returned by WaitUntil when the condition never held in time
var ErrWaitTimeout = errors.New("wait timed out")

// Condition is polled by WaitUntil
type Condition func(ctx context.Context) (bool, error)

// WaitUntil polls cond every pollInterval until it reports true, returns an error, or
// timeout elapses. Each poll runs under the same deadline, so a hung browser call cannot
// outlive the wait.
func WaitUntil(ctx context.Context, cond Condition, timeout, pollInterval time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ok, err := cond(waitCtx)
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return ErrWaitTimeout
			}
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrWaitTimeout
		case <-ticker.C:
		}
	}
}

// sleep waits for d unless ctx ends first
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
