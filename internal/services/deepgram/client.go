package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"callpipe/internal/services"
)

const (
	serviceName        = "deepgram"
	defaultBaseURL     = "https://api.deepgram.com"
	defaultModel       = "nova-3"
	defaultHTTPTimeout = 5 * time.Minute
)

// Config captures the settings required to talk to Deepgram.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Multichannel bool
	Diarize      bool
	Analysis     bool
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client wraps the Deepgram pre-recorded audio API.
type Client struct {
	cfg        Config
	httpClient HTTPDoer
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a Deepgram client. timeout bounds a whole request.
func NewClient(cfg Config, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	client := &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (c *Client) listenURL() string {
	params := url.Values{}
	params.Set("model", c.cfg.Model)
	params.Set("smart_format", "true")
	params.Set("utterances", "true")
	if c.cfg.Diarize {
		params.Set("diarize", "true")
	}
	if c.cfg.Multichannel {
		params.Set("multichannel", "true")
	}
	if c.cfg.Analysis {
		params.Set("summarize", "v2")
		params.Set("topics", "true")
		params.Set("intents", "true")
		params.Set("sentiment", "true")
	}
	return c.cfg.BaseURL + "/v1/listen?" + params.Encode()
}

// Transcribe uploads audio and parses the response. contentType describes
// the audio encoding, for example audio/mpeg.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, contentType string) (Transcription, error) {
	if c.cfg.APIKey == "" {
		return Transcription{}, services.Wrap(services.ErrConfiguration, "deepgram", "transcribe", "api key required", nil)
	}
	if audio == nil {
		return Transcription{}, errors.New("deepgram transcribe: audio is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.listenURL(), audio)
	if err != nil {
		return Transcription{}, fmt.Errorf("deepgram transcribe: new request: %w", err)
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Authorization", "Token "+c.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return Transcription{}, fmt.Errorf("deepgram transcribe: %w", err)
	}
	result, err := Parse(body)
	if err != nil {
		return Transcription{}, fmt.Errorf("deepgram transcribe: %w", err)
	}
	return result, nil
}

// HealthCheck verifies the API key by listing projects.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return services.Wrap(services.ErrConfiguration, "deepgram", "health", "api key required", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/projects", nil)
	if err != nil {
		return fmt.Errorf("deepgram health: new request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.cfg.APIKey)
	if _, err := c.do(req); err != nil {
		return fmt.Errorf("deepgram health: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, services.NewHTTPStatusError(serviceName, resp, body)
	}
	return body, nil
}
