package cxone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"callpipe/internal/services"
	"callpipe/internal/session"
)

const (
	serviceName            = "cxone"
	defaultHTTPTimeout     = 30 * time.Second
	defaultDownloadTimeout = 60 * time.Second
	defaultTokenValidity   = time.Hour
	// AttrBaseURL is the credential attribute holding the area API base URL.
	AttrBaseURL = "base_url"
	// AttrTokenType is the credential attribute holding the token type.
	AttrTokenType = "token_type"
)

// Config captures the settings needed to talk to CXone.
type Config struct {
	AuthURL      string
	BaseURL      string
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client wraps the CXone HTTP APIs.
type Client struct {
	cfg            Config
	httpClient     HTTPDoer
	downloadClient HTTPDoer
	now            func() time.Time
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the client used for API calls.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithDownloadClient overrides the client used for recording downloads.
func WithDownloadClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.downloadClient = client
		}
	}
}

// WithTimeouts sets API and download timeouts on the default clients.
func WithTimeouts(api, download time.Duration) Option {
	return func(c *Client) {
		if api > 0 {
			c.httpClient = &http.Client{Timeout: api}
		}
		if download > 0 {
			c.downloadClient = &http.Client{Timeout: download}
		}
	}
}

// NewClient constructs a CXone client.
func NewClient(cfg Config, opts ...Option) *Client {
	client := &Client{
		cfg: Config{
			AuthURL:      strings.TrimSpace(cfg.AuthURL),
			BaseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			Username:     strings.TrimSpace(cfg.Username),
			Password:     cfg.Password,
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: cfg.ClientSecret,
		},
		httpClient:     &http.Client{Timeout: defaultHTTPTimeout},
		downloadClient: &http.Client{Timeout: defaultDownloadTimeout},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Authenticate performs the password grant and returns a credential whose
// attributes carry the API base URL for the tenant's area.
func (c *Client) Authenticate(ctx context.Context) (session.Credential, error) {
	if c.cfg.Username == "" || c.cfg.Password == "" || c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return session.Credential{}, services.Wrap(services.ErrConfiguration, "cxone", "auth", "credentials are incomplete", nil)
	}
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return session.Credential{}, fmt.Errorf("cxone auth: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	issuedAt := c.now()
	var token tokenResponse
	if err := c.doJSON(c.httpClient, req, &token); err != nil {
		return session.Credential{}, fmt.Errorf("cxone auth: %w", err)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return session.Credential{}, errors.New("cxone auth: response has no access_token")
	}

	baseURL := c.cfg.BaseURL
	if baseURL == "" {
		area, err := AreaFromIDToken(token.IDToken)
		if err != nil {
			return session.Credential{}, fmt.Errorf("cxone auth: %w", err)
		}
		baseURL = fmt.Sprintf("https://api-%s.niceincontact.com", area)
	}

	validity := defaultTokenValidity
	if token.ExpiresIn > 0 {
		validity = time.Duration(token.ExpiresIn) * time.Second
	}
	tokenType := strings.TrimSpace(token.TokenType)
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return session.Credential{
		Token:    token.AccessToken,
		IssuedAt: issuedAt,
		Validity: validity,
		Attributes: map[string]string{
			AttrBaseURL:   baseURL,
			AttrTokenType: tokenType,
		},
	}, nil
}

// AreaFromIDToken reads the area claim from an id_token without verifying
// its signature; the token came straight from the auth endpoint over TLS.
func AreaFromIDToken(idToken string) (string, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return "", errors.New("response has no id_token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return "", fmt.Errorf("decode id_token: %w", err)
	}
	area, _ := claims["area"].(string)
	area = strings.TrimSpace(area)
	if area == "" {
		return "", errors.New("id_token has no area claim")
	}
	return area, nil
}

// Interaction is one media segment of a contact.
type Interaction struct {
	MediaType string
	FileURL   string
	// Duration in seconds; negative when the API did not report one.
	Duration float64
}

// Metadata is the media playback description of a contact.
type Metadata struct {
	ContactID    string
	Interactions []Interaction
	Raw          string
}

// Downloadable returns the first interaction that has a file URL.
func (m Metadata) Downloadable() (Interaction, bool) {
	for _, interaction := range m.Interactions {
		if strings.TrimSpace(interaction.FileURL) != "" {
			return interaction, true
		}
	}
	return Interaction{}, false
}

type metadataResponse struct {
	Interactions []struct {
		MediaType string `json:"mediaType"`
		Data      struct {
			FileToPlayURL string          `json:"fileToPlayUrl"`
			Duration      json.RawMessage `json:"duration"`
		} `json:"data"`
	} `json:"interactions"`
}

// Metadata looks up the recordings for contactID. A 404 is reported as
// services.ErrNotFound.
func (c *Client) Metadata(ctx context.Context, cred session.Credential, contactID string) (Metadata, error) {
	baseURL := strings.TrimRight(cred.Attribute(AttrBaseURL), "/")
	if baseURL == "" {
		baseURL = c.cfg.BaseURL
	}
	if baseURL == "" {
		return Metadata{}, services.Wrap(services.ErrConfiguration, "cxone", "metadata", "base url unknown", nil)
	}
	params := url.Values{}
	params.Set("acd-call-id", contactID)
	params.Set("media-type", "all")
	params.Set("exclude-waveforms", "true")
	params.Set("exclude-qm-categories", "false")
	params.Set("isDownload", "false")
	endpoint := baseURL + "/media-playback/v1/contacts?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("cxone metadata: new request: %w", err)
	}
	tokenType := cred.Attribute(AttrTokenType)
	if tokenType == "" {
		tokenType = "Bearer"
	}
	req.Header.Set("Authorization", tokenType+" "+cred.Token)
	req.Header.Set("Accept", "application/json")

	body, err := c.doRaw(c.httpClient, req)
	if err != nil {
		if services.StatusCode(err) == http.StatusNotFound {
			return Metadata{}, services.Wrap(services.ErrNotFound, "cxone", "metadata", contactID, err)
		}
		return Metadata{}, fmt.Errorf("cxone metadata %s: %w", contactID, err)
	}

	var parsed metadataResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Metadata{}, fmt.Errorf("cxone metadata %s: decode: %w", contactID, err)
	}
	meta := Metadata{ContactID: contactID, Raw: string(body)}
	for _, interaction := range parsed.Interactions {
		mediaType := strings.TrimSpace(interaction.MediaType)
		if mediaType == "" {
			mediaType = "unknown"
		}
		meta.Interactions = append(meta.Interactions, Interaction{
			MediaType: mediaType,
			FileURL:   strings.TrimSpace(interaction.Data.FileToPlayURL),
			Duration:  parseDuration(interaction.Data.Duration),
		})
	}
	return meta, nil
}

// Download streams fileURL into w and returns the byte count. A 404 is
// reported as services.ErrNotFound.
func (c *Client) Download(ctx context.Context, fileURL string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return 0, fmt.Errorf("cxone download: new request: %w", err)
	}
	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("cxone download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := services.NewHTTPStatusError(serviceName, resp, body)
		if resp.StatusCode == http.StatusNotFound {
			return 0, services.Wrap(services.ErrNotFound, "cxone", "download", "", statusErr)
		}
		return 0, fmt.Errorf("cxone download: %w", statusErr)
	}
	written, err := io.Copy(w, resp.Body)
	if err != nil {
		return written, fmt.Errorf("cxone download: read body: %w", err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return written, fmt.Errorf("cxone download: short body %d of %d bytes: %w", written, resp.ContentLength, io.ErrUnexpectedEOF)
	}
	return written, nil
}

func (c *Client) doJSON(client HTTPDoer, req *http.Request, target any) error {
	body, err := c.doRaw(client, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) doRaw(client HTTPDoer, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
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

func parseDuration(raw json.RawMessage) float64 {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" || text == "null" {
		return -1
	}
	if seconds, err := strconv.ParseFloat(text, 64); err == nil {
		return seconds
	}
	// HH:MM:SS, as some tenants report it.
	parts := strings.Split(text, ":")
	if len(parts) == 3 {
		var total float64
		for _, part := range parts {
			value, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return -1
			}
			total = total*60 + value
		}
		return total
	}
	return -1
}
