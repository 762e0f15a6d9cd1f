package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffSequenceWithoutJitter(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{Jitter: 0})

	want := []time.Duration{
		250 * time.Millisecond,
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.Next(), "attempt %d", i+1)
	}
	assert.Equal(t, len(want), b.Attempts())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
	assert.Equal(t, InitialBackoff, b.Current())
}

func TestBackoffJitterBounds(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{Initial: 100 * time.Millisecond, Max: 100 * time.Millisecond, Jitter: 0.25})

	for i := 0; i < 50; i++ {
		d := b.Next()
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}

func TestBackoffConfigSanitized(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{Initial: time.Second, Max: time.Millisecond, Multiplier: 0.5, Jitter: -1})
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, time.Second, b.Next(), "max is raised to initial")
}

func TestBackoffWaitHonoursContext(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{Initial: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{Initial: time.Millisecond, Max: 2 * time.Millisecond})
	calls := 0

	err := Retry(context.Background(), b, func(context.Context) error {
		calls++
		if calls < 4 {
			return errors.New("daemon not up yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 0, b.Attempts(), "success resets the backoff")
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	fatal := errors.New("version mismatch")
	calls := 0

	err := Retry(context.Background(), NewBackoff(), func(context.Context) error {
		calls++
		return Permanent(fatal)
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
	assert.Nil(t, Permanent(nil))
}

func TestRetryReturnsLastErrorOnCancel(t *testing.T) {
	last := errors.New("connection refused")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := Retry(ctx, NewBackoffWithConfig(BackoffConfig{Initial: 5 * time.Millisecond}), func(context.Context) error {
		return last
	})

	assert.ErrorIs(t, err, last)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
