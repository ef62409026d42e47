package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"callpipe/internal/config"
	"callpipe/internal/logging"
	"callpipe/internal/pending"
	"callpipe/internal/records"
	"callpipe/internal/services"
	"callpipe/internal/source"
	"callpipe/internal/stage"
	"callpipe/internal/stageexec"
)

// HandlerFactory builds a stage handler for one worker. Handlers are not
// shared between workers.
type HandlerFactory func(ctx context.Context, logger *slog.Logger) (stage.Handler, error)

// StageSet maps each stage to the factory that builds its handlers.
type StageSet map[stage.ID]HandlerFactory

// Store is the status store surface the manager needs.
type Store interface {
	pending.KeyLister
	stageexec.Writer
}

// RunOptions bound one invocation. Zero values fall back to configuration.
type RunOptions struct {
	Limit   int
	Workers int
}

// Manager runs stages as bounded batches.
type Manager struct {
	cfg      *config.Config
	store    Store
	feed     source.Feed
	stages   StageSet
	resolver *pending.Resolver
	logger   *slog.Logger
	newID    func() string
}

// NewManager constructs a manager. feed supplies the universe of work items
// for the first stage.
func NewManager(cfg *config.Config, store Store, feed source.Feed, stages StageSet, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		feed:     feed,
		stages:   stages,
		resolver: pending.NewResolver(store),
		logger:   logging.NewComponentLogger(logger, "workflow"),
		newID:    uuid.NewString,
	}
}

// Run processes the pending items of stage id. A run with nothing pending
// succeeds without doing anything. The summary is returned even when the run
// stops early.
func (m *Manager) Run(ctx context.Context, id stage.ID, opts RunOptions) (Summary, error) {
	summary := Summary{Stage: id}
	factory, ok := m.stages[id]
	if !ok || factory == nil {
		return summary, fmt.Errorf("stage %s has no registered handler", id)
	}

	lock, err := acquireStageLock(m.cfg.StageLockPath(id.String()))
	if err != nil {
		return summary, err
	}
	defer func() {
		if err := lock.release(); err != nil {
			m.logger.Warn("release stage lock failed", logging.Error(err))
		}
	}()

	summary.RunID = m.newID()
	runCtx := services.WithStage(services.WithRunID(ctx, summary.RunID), id.String())
	logger := logging.WithContext(runCtx, m.logger)
	started := time.Now()

	universe, err := m.universe(runCtx, id)
	if err != nil {
		return summary, err
	}
	limit := opts.Limit
	if limit <= 0 {
		if limit, err = m.cfg.ItemLimit(); err != nil {
			return summary, services.Wrap(services.ErrConfiguration, "", "run", "", err)
		}
	}
	ids, err := m.resolver.Pending(runCtx, universe, id, limit)
	if err != nil {
		return summary, fmt.Errorf("resolve pending items: %w", err)
	}
	summary.Pending = len(ids)
	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.Int("pending", len(ids)),
		logging.Int("universe", len(universe)),
		logging.Int("limit", limit),
	)
	if len(ids) == 0 {
		summary.Duration = time.Since(started)
		logger.Info("nothing pending", logging.String(logging.FieldEventType, "run_complete"))
		return summary, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = m.cfg.Run.Workers
	}
	workers = max(1, min(workers, len(ids)))

	counts := &tally{summary: summary}
	runErr := m.drain(runCtx, logger, factory, ids, workers, counts)

	summary = counts.snapshot()
	summary.Duration = time.Since(started)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Int("pending", summary.Pending),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Int("not_found", summary.NotFound),
		logging.Int("no_source", summary.NoSource),
		logging.Int("unresolved", summary.Unresolved),
		logging.Int("remaining", summary.Remaining()),
		logging.Duration("duration", summary.Duration),
	}
	if runErr != nil {
		logging.ErrorWithContext(logger, "run stopped", "run_aborted",
			append(attrs, logging.Error(runErr), logging.String(logging.FieldErrorHint, "unprocessed items stay pending; rerun after fixing the cause"))...)
		return summary, runErr
	}
	logger.Info("run complete", logging.Args(attrs...)...)
	return summary, nil
}

func (m *Manager) universe(ctx context.Context, id stage.ID) ([]string, error) {
	if !id.First() {
		// Later stages work from the status store alone.
		return nil, nil
	}
	if m.feed == nil {
		return nil, errors.New("fetch stage requires a source feed")
	}
	ids, err := m.feed.IDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load source feed: %w", err)
	}
	return ids, nil
}

func (m *Manager) drain(ctx context.Context, logger *slog.Logger, factory HandlerFactory, ids []string, workers int, counts *tally) error {
	group, groupCtx := errgroup.WithContext(ctx)
	jobs := make(chan string)

	group.Go(func() error {
		defer close(jobs)
		for _, id := range ids {
			select {
			case jobs <- id:
			case <-groupCtx.Done():
				return nil
			}
		}
		return nil
	})

	for worker := range workers {
		group.Go(func() error {
			workerLogger := logger.With(logging.Int("worker", worker))
			handler, err := factory(groupCtx, workerLogger)
			if err != nil {
				return fmt.Errorf("build handler: %w", err)
			}
			for id := range jobs {
				if groupCtx.Err() != nil {
					return nil
				}
				itemCtx := services.WithRequestID(groupCtx, m.newID())
				result, err := stageexec.Run(itemCtx, stageexec.Options{
					Logger:        workerLogger,
					Store:         m.store,
					Handler:       handler,
					ItemID:        id,
					WriteAttempts: m.cfg.Run.StoreWriteAttempts,
				})
				if err != nil {
					return fmt.Errorf("item %s: %w", id, err)
				}
				counts.add(result)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Health builds a handler for each registered stage and reports its health
// check. Stages whose handler cannot be built report the construction error.
func (m *Manager) Health(ctx context.Context) []stage.Health {
	var results []stage.Health
	for _, id := range stage.All() {
		factory, ok := m.stages[id]
		if !ok || factory == nil {
			continue
		}
		handler, err := factory(ctx, m.logger)
		if err != nil {
			results = append(results, stage.Unhealthy(id.String(), err.Error()))
			continue
		}
		checker, ok := handler.(stage.HealthChecker)
		if !ok {
			results = append(results, stage.Healthy(id.String()))
			continue
		}
		results = append(results, checker.HealthCheck(ctx))
	}
	return results
}

var _ Store = (*records.Store)(nil)
