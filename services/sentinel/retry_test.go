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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{"default", DefaultRetryPolicy(), false},
		{"test policy", testPolicy, false},
		{"zero retries", RetryPolicy{BaseDelay: time.Second, BackoffFactor: 2, MaxDelay: time.Second}, true},
		{"zero base", RetryPolicy{BackoffFactor: 2, MaxDelay: time.Second, MaxRetries: 3}, true},
		{"max below base", RetryPolicy{BaseDelay: 2 * time.Second, BackoffFactor: 2, MaxDelay: time.Second, MaxRetries: 3}, true},
		{"shrinking factor", RetryPolicy{BaseDelay: time.Second, BackoffFactor: 0.5, MaxDelay: time.Second, MaxRetries: 3}, true},
		{"factor one", RetryPolicy{BaseDelay: time.Second, BackoffFactor: 1, MaxDelay: time.Second, MaxRetries: 3}, false},
		{"sub-millisecond base", RetryPolicy{BaseDelay: 1400 * time.Microsecond, BackoffFactor: 1, MaxDelay: time.Second, MaxRetries: 3}, true},
		{"sub-millisecond max", RetryPolicy{BaseDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: 2500 * time.Microsecond, MaxRetries: 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRetryPolicy)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetryPolicy_Delays(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, BackoffFactor: 2, MaxDelay: 500 * time.Millisecond, MaxRetries: 6}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
		500 * time.Millisecond,
	}, p.Delays())

	assert.Nil(t, RetryPolicy{BaseDelay: time.Second, BackoffFactor: 2, MaxDelay: time.Second, MaxRetries: 1}.Delays())
}

func TestRetryPolicy_NextDelayRoundsToMillisecond(t *testing.T) {
	p := RetryPolicy{BaseDelay: 333 * time.Millisecond, BackoffFactor: 1.5, MaxDelay: 10 * time.Second, MaxRetries: 3}
	assert.Equal(t, 500*time.Millisecond, p.NextDelay(333*time.Millisecond)) // 499.5 rounds up
}

// The sequence never shrinks and never passes MaxDelay, for any valid
// policy with factor >= 1.
func TestRetryPolicy_DelaysMonotonicAndCapped(t *testing.T) {
	for _, factor := range []float64{1, 1.01, 1.5, 2, 3.7, 10, 1e9} {
		for _, base := range []time.Duration{time.Millisecond, 1400 * time.Microsecond, 7 * time.Millisecond, 250 * time.Millisecond, time.Second} {
			p := RetryPolicy{BaseDelay: base, BackoffFactor: factor, MaxDelay: 3 * time.Second, MaxRetries: 40}
			if base%time.Millisecond != 0 {
				assert.ErrorIs(t, p.Validate(), ErrInvalidRetryPolicy, "base %v", base)
				continue
			}
			require.NoError(t, p.Validate())
			delays := p.Delays()
			for i, d := range delays {
				assert.LessOrEqual(t, d, p.MaxDelay, "factor %v base %v step %d", factor, base, i)
				if i > 0 {
					assert.GreaterOrEqual(t, d, delays[i-1], "factor %v base %v step %d", factor, base, i)
				}
			}
		}
	}
}

func TestContextSleep(t *testing.T) {
	assert.NoError(t, ContextSleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ContextSleep(ctx, time.Hour), context.Canceled)
}
