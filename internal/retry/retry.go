// Package retry re-runs flaky operations with exponential backoff and jitter.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// PermanentError marks an error that Do must not retry.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Hook is called before each backoff sleep with the attempt number
// (1-based) that just failed and its error.
type Hook func(attempt int, err error)

// Do calls fn up to maxAttempts times. The delay starts at baseDelay and
// doubles after every failed attempt, with ±25% jitter. Do returns early on
// success, on a *PermanentError (unwrapped), or when ctx ends.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return DoNotify(ctx, maxAttempts, baseDelay, nil, fn)
}

// DoNotify is Do with a hook invoked between attempts.
func DoNotify(ctx context.Context, maxAttempts int, baseDelay time.Duration, onRetry Hook, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	delay := baseDelay
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt == maxAttempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		timer := time.NewTimer(jittered(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return err
}

func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	j := d / 4
	return d - j + time.Duration(randInt63n(int64(2*j+1)))
}

func randInt63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1
	return int64(v % uint64(n)) //nolint:gosec // n>0
}
