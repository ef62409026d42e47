package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"callpipe/internal/config"
	"callpipe/internal/executor"
	"callpipe/internal/logging"
	"callpipe/internal/objectstore"
	"callpipe/internal/records"
	"callpipe/internal/services"
	"callpipe/internal/services/cxone"
	"callpipe/internal/session"
	"callpipe/internal/stage"
)

// RecordingAPI is the subset of the CXone client the stage uses.
type RecordingAPI interface {
	Metadata(ctx context.Context, cred session.Credential, contactID string) (cxone.Metadata, error)
	Download(ctx context.Context, fileURL string, w io.Writer) (int64, error)
}

// Sessions supplies a valid API credential.
type Sessions interface {
	ValidCredential(ctx context.Context) (session.Credential, error)
	Invalidate()
}

// Executors are the per-operation call streams of one worker.
type Executors struct {
	Metadata *executor.Executor
	Download *executor.Executor
	Upload   *executor.Executor
}

// NewExecutors builds the three fetch streams from configuration.
func NewExecutors(cfg *config.Config, logger *slog.Logger) (Executors, error) {
	base := executor.PolicyFromConfig(cfg.Executor)
	apiTimeout := time.Duration(cfg.CXone.TimeoutSeconds) * time.Second
	downloadTimeout := time.Duration(cfg.CXone.DownloadTimeoutSeconds) * time.Second

	metadata, err := executor.New(base.WithCallTimeout(apiTimeout), executor.WithLogger(logger))
	if err != nil {
		return Executors{}, fmt.Errorf("metadata executor: %w", err)
	}
	download, err := executor.New(base.WithCallTimeout(downloadTimeout), executor.WithLogger(logger))
	if err != nil {
		return Executors{}, fmt.Errorf("download executor: %w", err)
	}
	upload, err := executor.New(base, executor.WithLogger(logger))
	if err != nil {
		return Executors{}, fmt.Errorf("upload executor: %w", err)
	}
	return Executors{Metadata: metadata, Download: download, Upload: upload}, nil
}

// Dependencies are the collaborators of a Handler.
type Dependencies struct {
	API       RecordingAPI
	Sessions  Sessions
	Objects   objectstore.Store
	Executors Executors
	Logger    *slog.Logger
	// Now defaults to time.Now and feeds the {date} path placeholder.
	Now func() time.Time
}

// Handler fetches recordings for one worker.
type Handler struct {
	api          RecordingAPI
	sessions     Sessions
	objects      objectstore.Store
	exec         Executors
	stagingDir   string
	pathTemplate string
	defaultExt   string
	logger       *slog.Logger
	now          func() time.Time
}

// NewHandler validates deps and constructs the fetch stage handler.
func NewHandler(cfg *config.Config, deps Dependencies) (*Handler, error) {
	if cfg == nil {
		return nil, errors.New("fetch: config is required")
	}
	if deps.API == nil || deps.Sessions == nil || deps.Objects == nil {
		return nil, errors.New("fetch: api, sessions and object store are required")
	}
	if deps.Executors.Metadata == nil || deps.Executors.Download == nil || deps.Executors.Upload == nil {
		return nil, errors.New("fetch: executors are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		api:          deps.API,
		sessions:     deps.Sessions,
		objects:      deps.Objects,
		exec:         deps.Executors,
		stagingDir:   cfg.Paths.StagingDir,
		pathTemplate: cfg.ObjectStore.PathTemplate,
		defaultExt:   cfg.ObjectStore.DefaultExtension,
		logger:       logging.NewComponentLogger(logger, "fetch"),
		now:          now,
	}, nil
}

// Stage implements stage.Handler.
func (h *Handler) Stage() stage.ID { return stage.Fetch }

// SetLogger implements stage.LoggerAware.
func (h *Handler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logging.NewComponentLogger(logger, "fetch")
	}
}

// Process fetches one contact's recording.
func (h *Handler) Process(ctx context.Context, id string) (stage.Outcome, error) {
	logger := logging.WithContext(ctx, h.logger)

	meta, outcome, err := h.lookup(ctx, id)
	if err != nil || outcome != nil {
		return derefOutcome(outcome), err
	}
	raw := records.Ptr(meta.Raw)

	interaction, ok := meta.Downloadable()
	if !ok {
		out := stage.NoSource("no downloadable interaction in recording metadata")
		out.Patch.RawResponse = raw
		return out, nil
	}
	if interaction.Duration == 0 {
		out := stage.NoSource("recording reports zero duration")
		out.Patch.RawResponse = raw
		return out, nil
	}

	ext := objectstore.ExtensionFromURL(interaction.FileURL, h.defaultExt)
	if err := os.MkdirAll(h.stagingDir, 0o755); err != nil {
		return stage.Failed(fmt.Sprintf("create staging dir: %v", err)), nil
	}
	tmp, err := os.CreateTemp(h.stagingDir, "fetch-*"+ext)
	if err != nil {
		return stage.Failed(fmt.Sprintf("create staging file: %v", err)), nil
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	download := executor.Do(ctx, h.exec.Download, "cxone download", func(callCtx context.Context) (int64, error) {
		if err := rewind(tmp, true); err != nil {
			return 0, err
		}
		return h.api.Download(callCtx, interaction.FileURL, tmp)
	})
	switch {
	case download.Kind == executor.KindNotFound:
		out := stage.NoSource(download.Detail)
		out.Patch.RawResponse = raw
		return out, nil
	case !download.OK():
		return stage.Failed(download.Detail), nil
	case download.Value == 0:
		out := stage.NoSource("recording download returned no bytes")
		out.Patch.RawResponse = raw
		return out, nil
	}

	key, err := objectstore.RenderKey(h.pathTemplate, objectstore.KeyVars{
		ID:        id,
		MediaType: interaction.MediaType,
		Ext:       ext,
		Date:      h.now(),
	})
	if err != nil {
		return stage.Failed(fmt.Sprintf("render object key: %v", err)), nil
	}

	upload := executor.Do(ctx, h.exec.Upload, "object upload", func(callCtx context.Context) (string, error) {
		if err := rewind(tmp, false); err != nil {
			return "", err
		}
		return h.objects.Put(callCtx, key, tmp)
	})
	if !upload.OK() {
		return stage.Failed(upload.Detail), nil
	}

	logger.Info("recording stored",
		logging.String("artifact", upload.Value),
		logging.String("media_type", interaction.MediaType),
		logging.Int64("bytes", download.Value),
	)
	return stage.Succeeded(records.Patch{
		ArtifactLocation: records.Ptr(upload.Value),
		MediaType:        records.Ptr(interaction.MediaType),
		RawResponse:      raw,
	}), nil
}

// lookup returns either metadata, a terminal outcome, or a fatal error.
func (h *Handler) lookup(ctx context.Context, id string) (cxone.Metadata, *stage.Outcome, error) {
	cred, err := h.sessions.ValidCredential(ctx)
	if err != nil {
		return cxone.Metadata{}, nil, err
	}
	result := h.metadata(ctx, cred, id)
	if services.StatusCode(result.Err) == http.StatusUnauthorized && ctx.Err() == nil {
		logging.WarnWithContext(logging.WithContext(ctx, h.logger), "credential rejected; refreshing session", "session_rejected",
			logging.String(logging.FieldErrorHint, "the cached token was revoked or expired early"),
		)
		h.sessions.Invalidate()
		cred, err = h.sessions.ValidCredential(ctx)
		if err != nil {
			return cxone.Metadata{}, nil, err
		}
		result = h.metadata(ctx, cred, id)
	}
	switch {
	case result.OK():
		return result.Value, nil, nil
	case result.Kind == executor.KindNotFound:
		out := stage.NotFound(result.Detail)
		return cxone.Metadata{}, &out, nil
	default:
		out := stage.Failed(result.Detail)
		return cxone.Metadata{}, &out, nil
	}
}

func (h *Handler) metadata(ctx context.Context, cred session.Credential, id string) executor.Result[cxone.Metadata] {
	return executor.Do(ctx, h.exec.Metadata, "cxone metadata", func(callCtx context.Context) (cxone.Metadata, error) {
		return h.api.Metadata(callCtx, cred, id)
	})
}

// HealthCheck verifies a credential can be obtained and staging is writable.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if err := os.MkdirAll(h.stagingDir, 0o755); err != nil {
		return stage.Unhealthy("fetch", fmt.Sprintf("staging dir: %v", err))
	}
	if _, err := h.sessions.ValidCredential(ctx); err != nil {
		return stage.Unhealthy("fetch", err.Error())
	}
	return stage.Healthy("fetch")
}

func rewind(f *os.File, truncate bool) error {
	if truncate {
		if err := f.Truncate(0); err != nil {
			return fmt.Errorf("truncate staging file: %w", err)
		}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind staging file: %w", err)
	}
	return nil
}

func derefOutcome(out *stage.Outcome) stage.Outcome {
	if out == nil {
		return stage.Outcome{}
	}
	return *out
}

// RetryingAuthenticator routes authentication through exec so transient
// token endpoint failures are retried before the session reports a fatal
// error.
func RetryingAuthenticator(auth session.Authenticator, exec *executor.Executor) session.Authenticator {
	return session.AuthenticatorFunc(func(ctx context.Context) (session.Credential, error) {
		result := executor.Do(ctx, exec, "cxone authenticate", auth.Authenticate)
		if !result.OK() {
			return session.Credential{}, result.Err
		}
		return result.Value, nil
	})
}
