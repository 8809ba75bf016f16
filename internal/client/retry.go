// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package client

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

// RetryConfig controls how upstream GETs are retried
type RetryConfig struct {
	MaxRetries        int           // retries after the first attempt (0 = single attempt)
	InitialBackoff    time.Duration // delay before the first retry
	MaxBackoff        time.Duration // upper bound for any single delay
	BackoffMultiplier float64
	JitterFraction    float64 // 0.0-1.0
	RetryableStatuses []int
}

// DefaultRetryConfig returns the defaults used when nothing is configured
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
		RetryableStatuses: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// NewRetryConfig builds a RetryConfig from configured values, keeping the
// default jitter and status list. Non-positive durations or multipliers fall
// back to the defaults.
func NewRetryConfig(maxRetries, initialBackoffMs, maxBackoffMs int, multiplier float64) *RetryConfig {
	cfg := DefaultRetryConfig()
	if maxRetries >= 0 {
		cfg.MaxRetries = maxRetries
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if multiplier > 0 {
		cfg.BackoffMultiplier = multiplier
	}
	return cfg
}

// CalculateBackoff returns the delay before retry number attempt+1.
// Attempt 0 yields InitialBackoff; later attempts grow exponentially up to
// MaxBackoff, then jitter is applied.
func (c *RetryConfig) CalculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return c.InitialBackoff
	}

	backoff := float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(attempt))
	if backoff > float64(c.MaxBackoff) {
		backoff = float64(c.MaxBackoff)
	}

	if c.JitterFraction > 0 {
		jitterRange := backoff * c.JitterFraction
		backoff += (rand.Float64()*2 - 1) * jitterRange
		if backoff < 0 {
			backoff = 0
		}
	}

	return time.Duration(backoff)
}

// ShouldRetry reports whether a response with statusCode on the given
// 0-indexed attempt deserves another try
func (c *RetryConfig) ShouldRetry(statusCode int, attempt int) bool {
	return attempt < c.MaxRetries && c.IsRetryableStatus(statusCode)
}

// IsRetryableStatus checks if a status code is in the retryable list
func (c *RetryConfig) IsRetryableStatus(statusCode int) bool {
	return slices.Contains(c.RetryableStatuses, statusCode)
}

// Delay picks the wait before the next attempt. A Retry-After header given in
// seconds overrides the computed backoff, capped at MaxBackoff.
func (c *RetryConfig) Delay(attempt int, header http.Header) time.Duration {
	if header != nil {
		if raw := strings.TrimSpace(header.Get("Retry-After")); raw != "" {
			if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
				d := time.Duration(secs) * time.Second
				if d > c.MaxBackoff {
					d = c.MaxBackoff
				}
				return d
			}
		}
	}
	return c.CalculateBackoff(attempt)
}

// sleep waits for d or until ctx is done
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
