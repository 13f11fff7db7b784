// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retry runs an operation with bounded attempts and backoff.
package retry

import (
	"context"
	"time"
)

const (
	// DefaultMaxAttempts is one initial attempt plus two retries.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the first backoff delay. Later delays double.
	DefaultBaseDelay = 1 * time.Second
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Backoff returns the delay after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration

	// IsRetryable reports whether a failure may be retried.
	IsRetryable func(err error) bool

	// Sleep waits for d or until ctx is done. Tests replace it to avoid
	// real waits.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry, if set, is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Exponential returns base, 2*base, 4*base, ... for attempts 1, 2, 3, ...
func Exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return base << (attempt - 1)
	}
}

// DefaultPolicy returns 3 attempts with 1s, 2s, 4s backoff.
func DefaultPolicy(isRetryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     Exponential(DefaultBaseDelay),
		IsRetryable: isRetryable,
		Sleep:       SleepContext,
	}
}

// SleepContext sleeps for d, but returns early if ctx is cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. It returns the number of attempts made and the
// last error. Cancellation of ctx stops the loop before the next attempt or
// during a backoff sleep; the context error is returned in that case.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	p = p.withDefaults()

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt - 1, ctxErr
		}

		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if attempt == p.MaxAttempts || !p.IsRetryable(err) {
			return attempt, err
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if sleepErr := p.Sleep(ctx, delay); sleepErr != nil {
			return attempt, sleepErr
		}
	}
	return p.MaxAttempts, err
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Backoff == nil {
		p.Backoff = Exponential(DefaultBaseDelay)
	}
	if p.IsRetryable == nil {
		p.IsRetryable = func(error) bool { return false }
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}
	return p
}
