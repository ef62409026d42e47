package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"
	"time"

	"callpipe/internal/config"
	"callpipe/internal/executor"
	"callpipe/internal/logging"
	"callpipe/internal/objectstore"
	"callpipe/internal/records"
	"callpipe/internal/services/deepgram"
	"callpipe/internal/stage"
)

// Transcriber converts audio into a parsed transcription.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, contentType string) (deepgram.Transcription, error)
}

// RecordReader loads the fetch columns of an item.
type RecordReader interface {
	Get(ctx context.Context, id string) (*records.Record, error)
}

// NewExecutor builds the transcription call stream. Transcription requests
// use the Deepgram timeout rather than the generic call timeout.
func NewExecutor(cfg *config.Config, logger *slog.Logger) (*executor.Executor, error) {
	policy := executor.PolicyFromConfig(cfg.Executor).
		WithCallTimeout(time.Duration(cfg.Deepgram.TimeoutSeconds) * time.Second)
	return executor.New(policy, executor.WithLogger(logger))
}

// Handler transcribes fetched recordings.
type Handler struct {
	records     RecordReader
	objects     objectstore.Store
	transcriber Transcriber
	exec        *executor.Executor
	logger      *slog.Logger
}

// NewHandler constructs the transcription stage handler.
func NewHandler(reader RecordReader, objects objectstore.Store, transcriber Transcriber, exec *executor.Executor, logger *slog.Logger) (*Handler, error) {
	if reader == nil || objects == nil || transcriber == nil || exec == nil {
		return nil, errors.New("transcription: records, objects, transcriber and executor are required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		records:     reader,
		objects:     objects,
		transcriber: transcriber,
		exec:        exec,
		logger:      logging.NewComponentLogger(logger, "transcription"),
	}, nil
}

// Stage implements stage.Handler.
func (h *Handler) Stage() stage.ID { return stage.Transcribe }

// SetLogger implements stage.LoggerAware.
func (h *Handler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logging.NewComponentLogger(logger, "transcription")
	}
}

// Process transcribes one item's recording.
func (h *Handler) Process(ctx context.Context, id string) (stage.Outcome, error) {
	logger := logging.WithContext(ctx, h.logger)

	record, err := h.records.Get(ctx, id)
	if err != nil {
		return stage.Failed(fmt.Sprintf("load record: %v", err)), nil
	}
	if record == nil || strings.TrimSpace(record.ArtifactLocation) == "" {
		return stage.Failed("no artifact location recorded for item"), nil
	}
	artifact := record.ArtifactLocation
	contentType := ContentType(artifact)

	result := executor.Do(ctx, h.exec, "deepgram transcribe", func(callCtx context.Context) (deepgram.Transcription, error) {
		audio, err := h.objects.Open(callCtx, artifact)
		if err != nil {
			return deepgram.Transcription{}, err
		}
		defer audio.Close()
		return h.transcriber.Transcribe(callCtx, audio, contentType)
	})
	if !result.OK() {
		return stage.Failed(result.Detail), nil
	}
	transcription := result.Value
	if strings.TrimSpace(transcription.Transcript) == "" && strings.TrimSpace(transcription.Conversation) == "" {
		return stage.Failed("transcription returned an empty transcript"), nil
	}

	patch := records.Patch{
		Transcript:         records.Ptr(transcription.Transcript),
		DiarizedTranscript: records.Ptr(transcription.Conversation),
		TranscriptRaw:      records.Ptr(transcription.Raw),
		Summary:            optional(transcription.Summary),
		Topics:             optional(transcription.Topics),
		Intents:            optional(transcription.Intents),
		Sentiment:          optional(transcription.Sentiment),
	}
	if transcription.HasAnalysis() {
		patch.Flags = map[records.Flag]bool{records.FlagAnalyzed: true}
	}

	logger.Info("transcription complete",
		logging.Int("channels", transcription.Channels),
		logging.Int("transcript_chars", len(transcription.Transcript)),
		logging.Bool("analyzed", transcription.HasAnalysis()),
		logging.Int("attempts", result.Attempts),
	)
	return stage.Succeeded(patch), nil
}

// HealthCheck verifies the transcription service accepts the API key.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	checker, ok := h.transcriber.(interface{ HealthCheck(context.Context) error })
	if !ok {
		return stage.Healthy("transcribe")
	}
	if err := checker.HealthCheck(ctx); err != nil {
		return stage.Unhealthy("transcribe", err.Error())
	}
	return stage.Healthy("transcribe")
}

var audioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".flac": "audio/flac",
	".webm": "audio/webm",
}

// ContentType guesses the audio MIME type from the artifact's extension.
func ContentType(location string) string {
	trimmed := location
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	ext := strings.ToLower(path.Ext(trimmed))
	if value, ok := audioTypes[ext]; ok {
		return value
	}
	if value := mime.TypeByExtension(ext); value != "" {
		return value
	}
	return "application/octet-stream"
}

func optional(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return records.Ptr(value)
}
