// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sentinel

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// RetryPolicy bounds how hard the client tries to deliver one alert.
//
// Delays are whole milliseconds: NextDelay rounds to the millisecond, so
// a sub-millisecond BaseDelay could round down below itself.
type RetryPolicy struct {
	// BaseDelay is the wait after the first retryable failure.
	BaseDelay time.Duration

	// BackoffFactor multiplies the wait after each further failure.
	BackoffFactor float64

	// MaxDelay caps any single wait.
	MaxDelay time.Duration

	// MaxRetries is the total number of attempts, the first included.
	MaxRetries int
}

// DefaultRetryPolicy returns the policy sentinels ship with: five
// attempts spread over roughly fifteen seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:     time.Second,
		BackoffFactor: 2,
		MaxDelay:      8 * time.Second,
		MaxRetries:    5,
	}
}

// Validate rejects policies that could never send or could wait forever.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxRetries < 1:
		return errors.Join(ErrInvalidRetryPolicy, errors.New("max_retries must be at least 1"))
	case p.BaseDelay <= 0:
		return errors.Join(ErrInvalidRetryPolicy, errors.New("base_delay must be positive"))
	case p.BaseDelay%time.Millisecond != 0 || p.MaxDelay%time.Millisecond != 0:
		return errors.Join(ErrInvalidRetryPolicy, errors.New("base_delay and max_delay must be whole milliseconds"))
	case p.MaxDelay < p.BaseDelay:
		return errors.Join(ErrInvalidRetryPolicy, errors.New("max_delay must not be below base_delay"))
	case p.BackoffFactor < 1 || math.IsNaN(p.BackoffFactor) || math.IsInf(p.BackoffFactor, 0):
		return errors.Join(ErrInvalidRetryPolicy, errors.New("backoff_factor must be a finite number >= 1"))
	}
	return nil
}

// FirstDelay is the wait after the first retryable failure.
func (p RetryPolicy) FirstDelay() time.Duration {
	return min(p.BaseDelay, p.MaxDelay)
}

// NextDelay returns current*BackoffFactor rounded to the millisecond,
// capped at MaxDelay.
func (p RetryPolicy) NextDelay(current time.Duration) time.Duration {
	scaled := float64(current) * p.BackoffFactor / float64(time.Millisecond)
	if scaled >= float64(p.MaxDelay/time.Millisecond) {
		return p.MaxDelay
	}
	return min(time.Duration(math.Round(scaled))*time.Millisecond, p.MaxDelay)
}

// Delays lists every wait the policy can produce, in order: one between
// each pair of consecutive attempts.
func (p RetryPolicy) Delays() []time.Duration {
	if p.MaxRetries < 2 {
		return nil
	}
	out := make([]time.Duration, 0, p.MaxRetries-1)
	d := p.FirstDelay()
	for i := 1; i < p.MaxRetries; i++ {
		out = append(out, d)
		d = p.NextDelay(d)
	}
	return out
}

// Sleeper waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the production Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
