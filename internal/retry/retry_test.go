// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("transient")
	errFatal     = errors.New("fatal")
)

func isTransient(err error) bool { return errors.Is(err, errTransient) }

// recordingSleep returns a Sleep func that records delays without waiting.
func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestExponential(t *testing.T) {
	backoff := Exponential(time.Second)

	assert.Equal(t, 1*time.Second, backoff(1))
	assert.Equal(t, 2*time.Second, backoff(2))
	assert.Equal(t, 4*time.Second, backoff(3))
	assert.Equal(t, 1*time.Second, backoff(0))
}

func TestDoSuccessFirstAttempt(t *testing.T) {
	var delays []time.Duration
	p := DefaultPolicy(isTransient)
	p.Sleep = recordingSleep(&delays)

	attempts, err := p.Do(context.Background(), func(context.Context, int) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, delays)
}

func TestDoRetriesUntilExhausted(t *testing.T) {
	var delays []time.Duration
	calls := 0
	p := DefaultPolicy(isTransient)
	p.Sleep = recordingSleep(&delays)

	attempts, err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	var delays []time.Duration
	calls := 0
	p := DefaultPolicy(isTransient)
	p.Sleep = recordingSleep(&delays)

	attempts, err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errFatal
	})

	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays, "no backoff sleep for terminal errors")
}

func TestDoRecoversAfterTransient(t *testing.T) {
	var delays []time.Duration
	p := DefaultPolicy(isTransient)
	p.Sleep = recordingSleep(&delays)

	attempts, err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		if attempt < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Len(t, delays, 2)
}

func TestDoCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := DefaultPolicy(isTransient)
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	attempts, err := p.Do(ctx, func(context.Context, int) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDoCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := DefaultPolicy(isTransient).Do(ctx, func(context.Context, int) error {
		t.Fatal("fn must not be called")
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, attempts)
}

func TestDoOnRetry(t *testing.T) {
	var seen []int
	p := Policy{
		MaxAttempts: 4,
		Backoff:     Exponential(time.Millisecond),
		IsRetryable: isTransient,
		Sleep:       func(context.Context, time.Duration) error { return nil },
		OnRetry: func(attempt int, _ time.Duration, err error) {
			assert.ErrorIs(t, err, errTransient)
			seen = append(seen, attempt)
		},
	}

	attempts, _ := p.Do(context.Background(), func(context.Context, int) error { return errTransient })

	assert.Equal(t, 4, attempts)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestDoZeroPolicy(t *testing.T) {
	attempts, err := Policy{}.Do(context.Background(), func(context.Context, int) error { return errTransient })

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, attempts)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := SleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
