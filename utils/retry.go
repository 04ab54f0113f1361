package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Backoff selects how the delay grows between attempts.
type Backoff int

const (
	// Exponential doubles the delay after every failed attempt.
	Exponential Backoff = iota
	// Linear waits BaseDelay*attempt.
	Linear
)

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Backoff     Backoff
	Logger      *Logger

	// Retryable decides whether an error is worth another attempt.
	// nil retries every error.
	Retryable func(error) bool
}

// Do executes fn until it succeeds, the error is not retryable, attempts run
// out, or ctx is done.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func() error) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if r.Retryable != nil && !r.Retryable(lastErr) {
			return lastErr
		}

		if attempt < attempts {
			delay := r.delay(attempt)
			if r.Logger != nil {
				r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
					operationName, attempt, attempts, lastErr, delay)
			}
			if err := Sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, lastErr)
}

func (r *RetryConfig) delay(attempt int) time.Duration {
	if r.Backoff == Linear {
		return r.BaseDelay * time.Duration(attempt)
	}
	return r.BaseDelay * time.Duration(1<<(attempt-1))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var transientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"broken pipe",
	"no such host",
	"temporary failure in name resolution",
	"server misbehaving",
	"eof",
	"econnreset",
	"etimedout",
	"enotfound",
	"econnrefused",
}

// IsTransient reports whether err looks like a network-level hiccup
// (timeouts, resets, DNS failures) rather than a data or query error.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
