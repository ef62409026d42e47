package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"callpipe/internal/logging"
	"callpipe/internal/services"
)

const defaultJitter = 0.2

// Result is the outcome of Do. Value is only meaningful when Kind is KindOK.
type Result[T any] struct {
	Kind     Kind
	Value    T
	Detail   string
	Attempts int
	Err      error
}

// OK reports whether the call succeeded.
func (r Result[T]) OK() bool {
	return r.Kind == KindOK
}

// Executor paces and retries calls. It is safe for concurrent use, though
// concurrent callers share the same pacing budget.
type Executor struct {
	policy  Policy
	limiter *rate.Limiter
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
	jitter  float64
}

// Option customizes an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for retry warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSleeper overrides how backoff delays are waited out (useful for tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Executor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithJitter sets the randomization factor applied to backoff delays.
// Zero disables jitter.
func WithJitter(factor float64) Option {
	return func(e *Executor) {
		if factor >= 0 && factor < 1 {
			e.jitter = factor
		}
	}
}

// New validates policy and constructs an Executor.
func New(policy Policy, opts ...Option) (*Executor, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	limit := rate.Inf
	if policy.InterCallDelay > 0 {
		limit = rate.Every(policy.InterCallDelay)
	}
	e := &Executor{
		policy:  policy,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logging.NewNop(),
		sleep:   sleepContext,
		jitter:  defaultJitter,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Policy returns the policy the executor was built with.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. Cancellation of ctx stops the loop and yields a
// transient failure wrapping the context error.
func Do[T any](ctx context.Context, e *Executor, name string, op func(context.Context) (T, error)) Result[T] {
	var zero T
	bo := e.newBackOff()

	for attempt := 1; ; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return cancelled[T](ctx, name, attempt-1, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, e.policy.CallTimeout)
		value, err := op(callCtx)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			return Result[T]{Kind: KindOK, Value: value, Attempts: attempt}
		}
		if ctx.Err() != nil {
			return cancelled[T](ctx, name, attempt, ctx.Err())
		}
		if timedOut {
			err = services.Wrap(services.ErrTimeout, "", name, fmt.Sprintf("no response within %s", e.policy.CallTimeout), err)
		}

		kind := Classify(err)
		result := Result[T]{Kind: kind, Value: zero, Detail: fmt.Sprintf("%s: %v", name, err), Attempts: attempt, Err: err}
		if kind != KindTransientFailure {
			return result
		}
		if attempt >= e.policy.MaxAttempts {
			result.Detail = fmt.Sprintf("%s: failed after %d attempts: %v", name, attempt, err)
			return result
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			delay = e.policy.BackoffMax
		}
		if hint, ok := retryAfter(err); ok {
			delay = min(hint, e.policy.BackoffMax)
		}
		logging.WarnWithContext(logging.WithContext(ctx, e.logger), "call failed; retrying", "retry_scheduled",
			logging.String("operation", name),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", e.policy.MaxAttempts),
			logging.Duration("delay", delay),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "transient upstream failure; will retry"),
		)
		if err := e.sleep(ctx, delay); err != nil {
			return cancelled[T](ctx, name, attempt, err)
		}
	}
}

func cancelled[T any](ctx context.Context, name string, attempts int, err error) Result[T] {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return Result[T]{
		Kind:     KindTransientFailure,
		Detail:   fmt.Sprintf("%s: interrupted: %v", name, err),
		Attempts: attempts,
		Err:      err,
	}
}

func (e *Executor) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.policy.BackoffBase
	bo.MaxInterval = e.policy.BackoffMax
	bo.Multiplier = 2
	bo.RandomizationFactor = e.jitter
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
