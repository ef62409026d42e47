package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"callpipe/internal/classification"
	"callpipe/internal/config"
	"callpipe/internal/executor"
	"callpipe/internal/fetch"
	"callpipe/internal/logging"
	"callpipe/internal/objectstore"
	"callpipe/internal/records"
	"callpipe/internal/services/cxone"
	"callpipe/internal/services/deepgram"
	"callpipe/internal/services/llm"
	"callpipe/internal/session"
	"callpipe/internal/stage"
	"callpipe/internal/transcription"
)

// DefaultStages wires the fetch, transcribe and classify handlers to the
// configured services. Credentials are checked when a stage's first handler
// is built, so a run of one stage does not need the keys of the others.
// The CXone client, the session manager and the object store are shared by
// every worker.
func DefaultStages(cfg *config.Config, store *records.Store, logger *slog.Logger) StageSet {
	if logger == nil {
		logger = logging.NewNop()
	}
	shared := &sharedServices{cfg: cfg, logger: logger}

	return StageSet{
		stage.Fetch: func(_ context.Context, workerLogger *slog.Logger) (stage.Handler, error) {
			if err := cfg.RequireStage(stage.Fetch.String()); err != nil {
				return nil, err
			}
			client, sessions, err := shared.cxone()
			if err != nil {
				return nil, err
			}
			objects, err := shared.objects()
			if err != nil {
				return nil, err
			}
			execs, err := fetch.NewExecutors(cfg, workerLogger)
			if err != nil {
				return nil, err
			}
			return fetch.NewHandler(cfg, fetch.Dependencies{
				API:       client,
				Sessions:  sessions,
				Objects:   objects,
				Executors: execs,
				Logger:    workerLogger,
			})
		},
		stage.Transcribe: func(_ context.Context, workerLogger *slog.Logger) (stage.Handler, error) {
			if err := cfg.RequireStage(stage.Transcribe.String()); err != nil {
				return nil, err
			}
			objects, err := shared.objects()
			if err != nil {
				return nil, err
			}
			exec, err := transcription.NewExecutor(cfg, workerLogger)
			if err != nil {
				return nil, err
			}
			client := deepgram.NewClient(deepgram.Config{
				APIKey:       cfg.Deepgram.APIKey,
				BaseURL:      cfg.Deepgram.BaseURL,
				Model:        cfg.Deepgram.Model,
				Multichannel: cfg.Deepgram.Multichannel,
				Diarize:      cfg.Deepgram.Diarize,
				Analysis:     cfg.Deepgram.Analysis,
			}, exec.Policy().CallTimeout)
			return transcription.NewHandler(store, objects, client, exec, workerLogger)
		},
		stage.Classify: func(_ context.Context, workerLogger *slog.Logger) (stage.Handler, error) {
			if err := cfg.RequireStage(stage.Classify.String()); err != nil {
				return nil, err
			}
			exec, err := classification.NewExecutor(cfg, workerLogger)
			if err != nil {
				return nil, err
			}
			client := llm.NewClient(llm.Config{
				APIKey:         cfg.Classifier.APIKey,
				BaseURL:        cfg.Classifier.BaseURL,
				Model:          cfg.Classifier.Model,
				Referer:        cfg.Classifier.Referer,
				Title:          cfg.Classifier.Title,
				TimeoutSeconds: cfg.Classifier.TimeoutSeconds,
			})
			models := classification.Models{Primary: cfg.Classifier.Model, Fallback: cfg.Classifier.FallbackModel}
			return classification.NewHandler(store, client, exec, models, cfg.Classifier.SchemaVersion, workerLogger)
		},
	}
}

type sharedServices struct {
	cfg    *config.Config
	logger *slog.Logger

	cxoneOnce sync.Once
	client    *cxone.Client
	sessions  *session.Manager
	cxoneErr  error

	objectsOnce sync.Once
	store       *objectstore.FileStore
	objectsErr  error
}

func (s *sharedServices) cxone() (*cxone.Client, *session.Manager, error) {
	s.cxoneOnce.Do(func() {
		cfg := s.cfg
		s.client = cxone.NewClient(cxone.Config{
			AuthURL:      cfg.CXone.AuthURL,
			BaseURL:      cfg.CXone.BaseURL,
			Username:     cfg.CXone.Username,
			Password:     cfg.CXone.Password,
			ClientID:     cfg.CXone.ClientID,
			ClientSecret: cfg.CXone.ClientSecret,
		}, cxone.WithTimeouts(
			time.Duration(cfg.CXone.TimeoutSeconds)*time.Second,
			time.Duration(cfg.CXone.DownloadTimeoutSeconds)*time.Second,
		))

		authPolicy := executor.PolicyFromConfig(cfg.Executor).
			WithCallTimeout(time.Duration(cfg.CXone.TimeoutSeconds) * time.Second)
		authExec, err := executor.New(authPolicy, executor.WithLogger(s.logger))
		if err != nil {
			s.cxoneErr = fmt.Errorf("auth executor: %w", err)
			return
		}
		opts := []session.Option{session.WithLogger(s.logger)}
		if cfg.CXone.CredentialCache != "" {
			opts = append(opts, session.WithStore(session.NewFileStore(cfg.CXone.CredentialCache)))
		}
		s.sessions, s.cxoneErr = session.NewManager(
			fetch.RetryingAuthenticator(s.client, authExec),
			cfg.Session.RefreshMargin(),
			opts...,
		)
	})
	return s.client, s.sessions, s.cxoneErr
}

func (s *sharedServices) objects() (*objectstore.FileStore, error) {
	s.objectsOnce.Do(func() {
		s.store, s.objectsErr = objectstore.NewFileStore(s.cfg.ObjectStore.Root)
	})
	return s.store, s.objectsErr
}
