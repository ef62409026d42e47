package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"callpipe/internal/services"
)

const (
	serviceName    = "classifier"
	defaultBaseURL = "https://openrouter.ai/api/v1/chat/completions"
	defaultTimeout = 120 * time.Second
	maxBodyBytes   = 8 << 20
)

// Config holds the chat completions endpoint and credentials. Referer and
// Title are sent as the attribution headers OpenRouter expects.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg     Config
	http    HTTPDoer
	timeout time.Duration
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// NewClient constructs a client. An empty BaseURL selects OpenRouter.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.Referer = strings.TrimSpace(cfg.Referer)
	cfg.Title = strings.TrimSpace(cfg.Title)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{cfg: cfg, http: &http.Client{Timeout: timeout}, timeout: timeout}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Model returns the configured default model.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Request is one JSON-mode completion.
type Request struct {
	Model     string // empty selects the configured model
	System    string
	User      string
	MaxTokens int
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the text a model produced plus response metadata. Model is
// the model the provider says served the request.
type Completion struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
}

// Complete sends one request and returns the first non-empty payload. It never
// retries: an empty completion is tagged services.ErrTransient and a non-2xx
// response is a *services.HTTPStatusError.
func (c *Client) Complete(ctx context.Context, req Request) (Completion, error) {
	system := strings.TrimSpace(req.System)
	user := strings.TrimSpace(req.User)
	switch {
	case system == "":
		return Completion{}, services.Wrap(services.ErrValidation, "llm", "complete", "system prompt required", nil)
	case user == "":
		return Completion{}, services.Wrap(services.ErrValidation, "llm", "complete", "user prompt required", nil)
	case c.cfg.APIKey == "":
		return Completion{}, services.Wrap(services.ErrConfiguration, "llm", "complete", "api key required", nil)
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.cfg.Model
	}

	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}

	resp, raw, err := c.post(ctx, body)
	if err != nil {
		return Completion{}, fmt.Errorf("llm complete %s: %w", model, err)
	}
	text, finish := resp.payload()
	completion := Completion{Content: text, Model: resp.Model, FinishReason: finish}
	if resp.Usage != nil {
		completion.Usage = *resp.Usage
	}
	if completion.Model == "" {
		completion.Model = model
	}
	if text == "" {
		if len(resp.Choices) == 0 {
			return completion, services.Wrap(services.ErrTransient, "llm", "complete "+model, "response has no choices", nil)
		}
		return completion, &emptyContentError{
			Model:        model,
			FinishReason: finish,
			Refusal:      resp.refusal(),
			Snippet:      snippet(string(raw)),
		}
	}
	return completion, nil
}

// HealthCheck asks the configured model for a trivial JSON object.
func (c *Client) HealthCheck(ctx context.Context) error {
	completion, err := c.Complete(ctx, Request{
		System:    "Respond with JSON only.",
		User:      `Reply with {"ok":true}`,
		MaxTokens: 16,
	})
	if err != nil {
		return fmt.Errorf("llm health: %w", err)
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeJSON(completion.Content, &parsed); err != nil {
		return fmt.Errorf("llm health: %w", err)
	}
	if !parsed.OK {
		return fmt.Errorf("llm health: model %s returned %s", completion.Model, snippet(completion.Content))
	}
	return nil
}

func (c *Client) post(ctx context.Context, body chatRequest) (chatResponse, []byte, error) {
	var parsed chatResponse
	encoded, err := json.Marshal(body)
	if err != nil {
		return parsed, nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return parsed, nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return parsed, nil, fmt.Errorf("send (timeout %s): %w", c.timeout, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return parsed, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parsed, raw, services.NewHTTPStatusError(serviceName, resp, raw)
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsed, raw, services.Wrap(services.ErrTransient, "llm", "decode response", "body: "+snippet(string(raw)), err)
	}
	if parsed.Error != nil && strings.TrimSpace(parsed.Error.Message) != "" {
		return parsed, raw, services.Wrap(services.ErrPermanent, "llm", "provider error", strings.TrimSpace(parsed.Error.Message), nil)
	}
	return parsed, raw, nil
}

type emptyContentError struct {
	Model        string
	FinishReason string
	Refusal      string
	Snippet      string
}

func (e *emptyContentError) Error() string {
	return fmt.Sprintf("llm complete %s: empty content (finish_reason=%q, refusal=%q, response_snippet=%s)",
		e.Model, e.FinishReason, e.Refusal, e.Snippet)
}

// Unwrap marks empty completions as transient.
func (e *emptyContentError) Unwrap() error {
	return services.ErrTransient
}
