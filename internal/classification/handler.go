package classification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"callpipe/internal/config"
	"callpipe/internal/executor"
	"callpipe/internal/logging"
	"callpipe/internal/records"
	"callpipe/internal/services/llm"
	"callpipe/internal/stage"
)

// Completer issues a JSON chat completion against a model.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Completion, error)
}

// RecordReader loads the transcript of an item.
type RecordReader interface {
	Get(ctx context.Context, id string) (*records.Record, error)
}

// Models names the primary and optional fallback model.
type Models struct {
	Primary  string
	Fallback string
}

// NewExecutor builds the classification call stream.
func NewExecutor(cfg *config.Config, logger *slog.Logger) (*executor.Executor, error) {
	policy := executor.PolicyFromConfig(cfg.Executor).
		WithCallTimeout(time.Duration(cfg.Classifier.TimeoutSeconds) * time.Second)
	return executor.New(policy, executor.WithLogger(logger))
}

// Handler classifies transcribed calls.
type Handler struct {
	records       RecordReader
	completer     Completer
	exec          *executor.Executor
	models        Models
	schemaVersion string
	logger        *slog.Logger
}

// NewHandler constructs the classification stage handler.
func NewHandler(reader RecordReader, completer Completer, exec *executor.Executor, models Models, schemaVersion string, logger *slog.Logger) (*Handler, error) {
	if reader == nil || completer == nil || exec == nil {
		return nil, errors.New("classification: records, completer and executor are required")
	}
	models.Primary = strings.TrimSpace(models.Primary)
	models.Fallback = strings.TrimSpace(models.Fallback)
	if models.Primary == "" {
		return nil, errors.New("classification: primary model is required")
	}
	if models.Fallback == models.Primary {
		models.Fallback = ""
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		records:       reader,
		completer:     completer,
		exec:          exec,
		models:        models,
		schemaVersion: strings.TrimSpace(schemaVersion),
		logger:        logging.NewComponentLogger(logger, "classification"),
	}, nil
}

// Stage implements stage.Handler.
func (h *Handler) Stage() stage.ID { return stage.Classify }

// SetLogger implements stage.LoggerAware.
func (h *Handler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logging.NewComponentLogger(logger, "classification")
	}
}

// Process classifies one item's transcript.
func (h *Handler) Process(ctx context.Context, id string) (stage.Outcome, error) {
	logger := logging.WithContext(ctx, h.logger)

	record, err := h.records.Get(ctx, id)
	if err != nil {
		return stage.Failed(fmt.Sprintf("load record: %v", err)), nil
	}
	transcript := ""
	if record != nil {
		transcript = strings.TrimSpace(record.DiarizedTranscript)
		if transcript == "" {
			transcript = strings.TrimSpace(record.Transcript)
		}
	}
	if transcript == "" {
		return stage.Failed("no transcript stored for item"), nil
	}

	result, model, err := h.Classify(ctx, transcript)
	if err != nil {
		return stage.Failed(err.Error()), nil
	}
	document, err := result.JSON()
	if err != nil {
		return stage.Failed(err.Error()), nil
	}
	callTypes, err := json.Marshal(result.CallType)
	if err != nil {
		return stage.Failed(fmt.Sprintf("encode call types: %v", err)), nil
	}
	agent := ""
	if result.AgentName != nil {
		agent = *result.AgentName
	}

	logger.Info("call classified",
		logging.String("model", model),
		logging.String("sale_result", result.SaleResult),
		logging.String("product_family", result.ProductFamily),
		logging.Any("overall_confidence", result.ConfidenceScores.Overall),
	)
	return stage.Succeeded(records.Patch{
		Classification:      records.Ptr(document),
		ClassificationModel: records.Ptr(model),
		ClassificationRow: &records.ClassificationRow{
			Version:           result.Version,
			CallTypes:         string(callTypes),
			SaleResult:        result.SaleResult,
			ProductFamily:     result.ProductFamily,
			AgentName:         agent,
			OverallConfidence: result.ConfidenceScores.Overall,
			Model:             model,
		},
	}), nil
}

// Classify asks the primary model, then the fallback model, for a
// classification of transcript. It returns the model the provider reports
// having served the answer.
func (h *Handler) Classify(ctx context.Context, transcript string) (Classification, string, error) {
	primary, served, err := h.classifyWith(ctx, h.models.Primary, transcript)
	if err == nil {
		return primary, served, nil
	}
	if h.models.Fallback == "" || ctx.Err() != nil {
		return Classification{}, "", err
	}
	logging.WarnWithContext(logging.WithContext(ctx, h.logger), "primary model failed; trying fallback", "classifier_fallback",
		logging.String("model", h.models.Primary),
		logging.String("fallback_model", h.models.Fallback),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the primary model's availability with the provider"),
	)
	fallback, served, fallbackErr := h.classifyWith(ctx, h.models.Fallback, transcript)
	if fallbackErr != nil {
		return Classification{}, "", fmt.Errorf("primary %s: %v; fallback %s: %w", h.models.Primary, err, h.models.Fallback, fallbackErr)
	}
	return fallback, served, nil
}

func (h *Handler) classifyWith(ctx context.Context, model, transcript string) (Classification, string, error) {
	req := llm.Request{
		Model:  model,
		System: fmt.Sprintf(SystemPrompt, h.schemaVersion),
		User:   "TRANSCRIPT:\n" + transcript,
	}
	call := executor.Do(ctx, h.exec, "classify "+model, func(callCtx context.Context) (llm.Completion, error) {
		return h.completer.Complete(callCtx, req)
	})
	if !call.OK() {
		return Classification{}, "", errors.New(call.Detail)
	}
	served := strings.TrimSpace(call.Value.Model)
	if served == "" {
		served = model
	}
	var parsed Classification
	if err := llm.DecodeJSON(call.Value.Content, &parsed); err != nil {
		return Classification{}, "", fmt.Errorf("decode %s payload: %w", served, err)
	}
	parsed.Normalize(h.schemaVersion)
	if err := parsed.Validate(); err != nil {
		return Classification{}, "", fmt.Errorf("%s: %w", served, err)
	}
	return parsed, served, nil
}

// HealthCheck verifies the classifier accepts the API key.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	checker, ok := h.completer.(interface{ HealthCheck(context.Context) error })
	if !ok {
		return stage.Healthy("classify")
	}
	if err := checker.HealthCheck(ctx); err != nil {
		return stage.Unhealthy("classify", err.Error())
	}
	return stage.Healthy("classify")
}
