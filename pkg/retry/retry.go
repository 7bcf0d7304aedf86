// Package retry runs fallible upstream operations under a bounded
// retry-with-exponential-backoff policy.
//
// Only failures whose text looks transient (see IsTransient) are retried.
// Everything else is returned to the caller on the first attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Policy defines retry behavior for a single outer call.
type Policy struct {
	// MaxAttempts is the total number of invocations, including the first one.
	MaxAttempts int
	// InitialDelay is the pause before the second attempt.
	InitialDelay time.Duration
	// Multiplier grows the delay after every pause.
	Multiplier float64
	// MaxElapsed bounds the wall-clock time spent in the loop. A retry whose
	// pause would cross it is not started. Zero disables the bound.
	MaxElapsed time.Duration
}

// DefaultPolicy matches the service defaults: 3 attempts, 1s, x2, no
// wall-clock bound.
var DefaultPolicy = Policy{
	MaxAttempts:  3,
	InitialDelay: 1 * time.Second,
	Multiplier:   2.0,
}

// WorstCaseDelay returns the total time spent pausing when every attempt
// fails transiently: D * (B^(N-1) - 1) / (B - 1).
func (p Policy) WorstCaseDelay() time.Duration {
	p = p.normalized()
	var total time.Duration
	delay := p.InitialDelay
	for i := 1; i < p.MaxAttempts; i++ {
		total += delay
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
	return total
}

// RequiredElapsed is the smallest MaxElapsed that still lets every attempt run
// when each one takes up to perAttempt.
func (p Policy) RequiredElapsed(perAttempt time.Duration) time.Duration {
	p = p.normalized()
	return time.Duration(p.MaxAttempts)*perAttempt + p.WorstCaseDelay()
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxElapsed < 0 {
		p.MaxElapsed = 0
	}
	return p
}

// ErrExhausted marks a failure returned after every attempt failed transiently.
var ErrExhausted = errors.New("retry attempts exhausted")

// ExhaustedError carries the last failure seen once MaxAttempts was consumed.
// It matches both ErrExhausted and the wrapped failure with errors.Is.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Err}
}

// transientMarkers are matched case-insensitively against the error text.
var transientMarkers = []string{"handshake", "timeout"}

// IsTransient reports whether err looks like a failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return ContainsAny(err.Error(), transientMarkers...)
}

// ContainsAny reports whether msg contains any of the markers, ignoring case.
func ContainsAny(msg string, markers ...string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range markers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// RetryHook observes every scheduled retry.
type RetryHook func(operation string, attempt int, delay time.Duration, err error)

// Retrier applies a Policy. It holds no per-call state and is safe for
// concurrent use; the attempt counter and current delay live inside Do.
type Retrier struct {
	policy  Policy
	logger  *logrus.Logger
	sleep   Sleeper
	now     func() time.Time
	onRetry RetryHook
}

// Option customizes a Retrier.
type Option func(*Retrier)

// WithSleeper replaces the context-aware timer used between attempts.
func WithSleeper(s Sleeper) Option {
	return func(r *Retrier) {
		if s != nil {
			r.sleep = s
		}
	}
}

// WithClock replaces time.Now for the MaxElapsed bound.
func WithClock(now func() time.Time) Option {
	return func(r *Retrier) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRetryHook registers a callback invoked before each pause.
func WithRetryHook(hook RetryHook) Option {
	return func(r *Retrier) {
		r.onRetry = hook
	}
}

// New creates a Retrier. Out-of-range policy values are clamped.
func New(policy Policy, logger *logrus.Logger, opts ...Option) *Retrier {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Retrier{
		policy: policy.normalized(),
		logger: logger,
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the effective (clamped) policy.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do invokes op until it succeeds, fails non-transiently, or the policy is used up.
//
// A non-transient failure is returned unchanged. When the last allowed attempt
// fails transiently the result is an *ExhaustedError. When the pause is cut
// short (context done, MaxElapsed reached) the transient failure is returned
// wrapped, without ErrExhausted.
func Do[T any](ctx context.Context, r *Retrier, operation string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if r == nil {
		r = New(DefaultPolicy, nil)
	}

	policy := r.policy
	delay := policy.InitialDelay
	started := r.now()

	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if !IsTransient(err) {
			return zero, err
		}
		if attempt >= policy.MaxAttempts {
			return zero, &ExhaustedError{Attempts: attempt, Err: err}
		}
		if policy.MaxElapsed > 0 && r.now().Sub(started)+delay > policy.MaxElapsed {
			r.logger.WithFields(logrus.Fields{
				"operation":   operation,
				"attempt":     attempt,
				"max_elapsed": policy.MaxElapsed.String(),
			}).Warn("Retry deadline reached, giving up")
			return zero, fmt.Errorf("retry deadline %s reached after %d attempts: %w", policy.MaxElapsed, attempt, err)
		}

		r.logger.WithError(err).WithFields(logrus.Fields{
			"operation":    operation,
			"attempt":      attempt,
			"max_attempts": policy.MaxAttempts,
			"delay":        delay.String(),
		}).Warnf("Attempt %d/%d failed, retrying in %s", attempt, policy.MaxAttempts, delay)
		if r.onRetry != nil {
			r.onRetry(operation, attempt, delay, err)
		}

		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return zero, fmt.Errorf("retry aborted after %d attempts (%v): %w", attempt, sleepErr, err)
		}
		delay = time.Duration(float64(delay) * policy.Multiplier)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
