package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_FirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_EventualSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("source unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_Exhausted(t *testing.T) {
	sentinel := errors.New("always fails")
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestDo_Permanent(t *testing.T) {
	sentinel := errors.New("404")
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(sentinel)
	})
	assert.Equal(t, sentinel, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, 5, time.Hour, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}

func TestDoNotify_Hook(t *testing.T) {
	var attempts []int
	_ = DoNotify(context.Background(), 3, time.Millisecond, func(attempt int, err error) {
		attempts = append(attempts, attempt)
	}, func() error { return errors.New("x") })
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))
	inner := errors.New("inner")
	assert.ErrorIs(t, Permanent(inner), inner)
}

func TestJittered(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jittered(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
	assert.Zero(t, jittered(0))
}
