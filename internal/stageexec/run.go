package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"callpipe/internal/logging"
	"callpipe/internal/records"
	"callpipe/internal/services"
	"callpipe/internal/stage"
)

const (
	defaultWriteAttempts = 5
	defaultWriteBackoff  = 50 * time.Millisecond
	maxWriteBackoff      = 2 * time.Second
)

// Writer persists stage outcomes. *records.Store satisfies it.
type Writer interface {
	Upsert(ctx context.Context, id string, patch records.Patch) error
	Update(ctx context.Context, id string, patch records.Patch) error
}

// Options controls how one item is executed and persisted.
type Options struct {
	Logger        *slog.Logger
	Store         Writer
	Handler       stage.Handler
	ItemID        string
	WriteAttempts int
	WriteBackoff  time.Duration
}

// Result describes what happened to one item.
type Result struct {
	ItemID string
	Status records.Status
	Detail string
	// Unresolved is set when the outcome could not be persisted, or the run
	// was interrupted before it was. The item stays pending for the next run.
	Unresolved bool
}

// Run executes the handler for one item and writes its outcome in a single
// store write. The returned error is non-nil only for fatal conditions.
func Run(ctx context.Context, opts Options) (Result, error) {
	if opts.Handler == nil {
		return Result{}, errors.New("stage handler is required")
	}
	if opts.Store == nil {
		return Result{}, errors.New("status store is required")
	}
	id := strings.TrimSpace(opts.ItemID)
	if id == "" {
		return Result{}, errors.New("item id is required")
	}
	stageID := opts.Handler.Stage()
	result := Result{ItemID: id}

	itemCtx := services.WithStage(services.WithItemID(ctx, id), stageID.String())
	logger := logging.WithContext(itemCtx, opts.Logger)
	if aware, ok := opts.Handler.(stage.LoggerAware); ok {
		aware.SetLogger(logger)
	}

	started := time.Now()
	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

	outcome, err := opts.Handler.Process(itemCtx, id)
	if err != nil {
		logging.ErrorWithContext(logger, "stage aborted", "stage_fatal",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the run stops; fix the cause and rerun"),
		)
		return result, err
	}
	if ctx.Err() != nil {
		result.Unresolved = true
		result.Detail = "interrupted before the outcome was recorded"
		logger.Warn("stage interrupted; outcome not recorded",
			logging.String(logging.FieldEventType, "stage_interrupted"),
			logging.String(logging.FieldErrorHint, "the item stays pending for the next run"),
		)
		return result, nil
	}

	result.Status = outcome.Status
	result.Detail = outcome.Detail
	patch := outcome.Compose(stageID)
	if err := persist(itemCtx, logger, opts, stageID, id, patch); err != nil {
		result.Unresolved = true
		result.Detail = err.Error()
		logging.ErrorWithContext(logger, "status write failed; item left pending", "status_write_failed",
			logging.String("resolved_status", string(outcome.Status)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check status store connectivity; the item is retried on the next run"),
		)
		return result, nil
	}

	attrs := []logging.Attr{
		logging.String("resolved_status", string(outcome.Status)),
		logging.Duration("duration", time.Since(started)),
	}
	if outcome.Status == records.StatusSuccess {
		logger.Info("stage completed", logging.Args(append(attrs, logging.String(logging.FieldEventType, "stage_complete"))...)...)
	} else {
		attrs = append(attrs, logging.String("error_message", outcome.Detail))
		logging.WarnWithContext(logger, "stage failed", "stage_failure",
			append(attrs, logging.String(logging.FieldErrorHint, failureHint(outcome.Status)))...)
	}
	return result, nil
}

func persist(ctx context.Context, logger *slog.Logger, opts Options, stageID stage.ID, id string, patch records.Patch) error {
	attempts := opts.WriteAttempts
	if attempts <= 0 {
		attempts = defaultWriteAttempts
	}
	initial := opts.WriteBackoff
	if initial <= 0 {
		initial = defaultWriteBackoff
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = initial
	expo.MaxInterval = max(initial, maxWriteBackoff)
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(attempts-1)), ctx)

	attempt := 0
	write := func() error {
		attempt++
		var err error
		if stageID.First() {
			err = opts.Store.Upsert(ctx, id, patch)
		} else {
			err = opts.Store.Update(ctx, id, patch)
		}
		if errors.Is(err, records.ErrNoRecord) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		logger.Warn("status write failed; retrying",
			logging.String(logging.FieldEventType, "status_write_retry"),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
	}
	if err := backoff.RetryNotify(write, policy, notify); err != nil {
		return fmt.Errorf("%w: %s %s after %d attempts: %w", services.ErrStorageWrite, stageID, id, attempt, err)
	}
	return nil
}

func failureHint(status records.Status) string {
	switch status {
	case records.StatusNotFound:
		return "the source system has no record of this id"
	case records.StatusNoSource:
		return "the record exists but has no downloadable media"
	default:
		return "see error_message for the upstream cause"
	}
}
