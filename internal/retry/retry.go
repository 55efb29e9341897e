// Package retry wraps fallible operations in bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Classifier reports whether err is worth another attempt.
type Classifier func(err error) bool

// Policy describes how many times and how slowly an operation is retried.
type Policy struct {
	// MaxRetries is the number of attempts made after the first try.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	// Classifier decides retryability. A nil classifier retries everything
	// except permanent errors and context cancellation.
	Classifier Classifier
	// OnRetry is invoked before each wait, with the attempt that just failed (0-based).
	OnRetry func(attempt int, delay time.Duration, err error)

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns 3 retries starting at 1s, doubling up to 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2,
	}
}

// WithClassifier returns a copy of p using c.
func (p Policy) WithClassifier(c Classifier) Policy {
	p.Classifier = c
	return p
}

// Backoff returns the wait after the given failed attempt (0-based).
func (p Policy) Backoff(attempt int) time.Duration {
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(factor, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry decides whether err warrants another attempt.
func (p Policy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if p.Classifier == nil {
		return true
	}
	return p.Classifier(err)
}

// Do runs op until it succeeds, fails terminally, or the retry budget is spent.
// The last error is returned unchanged.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err
		if !p.ShouldRetry(err) || attempt == p.MaxRetries {
			break
		}
		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if sleepErr := p.wait(ctx, delay); sleepErr != nil {
			return zero, fmt.Errorf("retry wait: %w", sleepErr)
		}
	}
	var perm *permanentError
	if errors.As(lastErr, &perm) {
		return zero, perm.err
	}
	return zero, lastErr
}

func (p Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
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

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as terminal so it is never retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
