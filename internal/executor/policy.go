package executor

import (
	"errors"
	"fmt"
	"time"

	"callpipe/internal/config"
)

// Policy configures pacing and retries for one Executor.
type Policy struct {
	InterCallDelay time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	CallTimeout    time.Duration
}

// PolicyFromConfig maps the executor config section onto a Policy.
func PolicyFromConfig(cfg config.Executor) Policy {
	return Policy{
		InterCallDelay: cfg.InterCallDelay(),
		MaxAttempts:    cfg.MaxAttempts,
		BackoffBase:    cfg.BackoffBase(),
		BackoffMax:     cfg.BackoffMax(),
		CallTimeout:    cfg.CallTimeout(),
	}
}

// WithCallTimeout returns a copy of p using timeout for each attempt.
func (p Policy) WithCallTimeout(timeout time.Duration) Policy {
	p.CallTimeout = timeout
	return p
}

// Validate rejects policies that cannot make progress.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("executor policy: max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InterCallDelay < 0 {
		return errors.New("executor policy: inter-call delay must not be negative")
	}
	if p.BackoffBase < 0 || p.BackoffMax < 0 {
		return errors.New("executor policy: backoff durations must not be negative")
	}
	if p.BackoffMax < p.BackoffBase {
		return fmt.Errorf("executor policy: backoff ceiling %s is below base %s", p.BackoffMax, p.BackoffBase)
	}
	if p.CallTimeout <= 0 {
		return errors.New("executor policy: call timeout must be positive")
	}
	return nil
}
