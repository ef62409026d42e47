package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains local directory configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
}

// Store selects the status store backend.
type Store struct {
	Driver string `toml:"driver"` // "sqlite" or "mysql"
	Path   string `toml:"path"`   // sqlite database file
	DSN    string `toml:"dsn"`    // mysql data source name
}

// Source describes the work item feed.
type Source struct {
	Path     string `toml:"path"`
	IDColumn string `toml:"id_column"`
}

// ObjectStore configures where fetched recordings are written.
type ObjectStore struct {
	Root             string `toml:"root"`
	PathTemplate     string `toml:"path_template"`
	DefaultExtension string `toml:"default_extension"`
}

// CXone contains the recording API credentials and endpoints.
type CXone struct {
	AuthURL                string `toml:"auth_url"`
	BaseURL                string `toml:"base_url"`
	Username               string `toml:"username"`
	Password               string `toml:"password"`
	ClientID               string `toml:"client_id"`
	ClientSecret           string `toml:"client_secret"`
	TimeoutSeconds         int    `toml:"timeout_seconds"`
	DownloadTimeoutSeconds int    `toml:"download_timeout_seconds"`
	CredentialCache        string `toml:"credential_cache"`
}

// Deepgram contains speech-to-text and analysis settings.
type Deepgram struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Multichannel   bool   `toml:"multichannel"`
	Diarize        bool   `toml:"diarize"`
	Analysis       bool   `toml:"analysis"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Classifier contains the LLM settings for call classification.
type Classifier struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	FallbackModel  string `toml:"fallback_model"`
	SchemaVersion  string `toml:"schema_version"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Executor controls pacing and retry for every external call.
type Executor struct {
	InterCallDelayMillis int `toml:"inter_call_delay_ms"`
	MaxAttempts          int `toml:"max_attempts"`
	BackoffBaseMillis    int `toml:"backoff_base_ms"`
	BackoffMaxMillis     int `toml:"backoff_max_ms"`
	CallTimeoutSeconds   int `toml:"call_timeout_seconds"`
}

// Session controls credential refresh.
type Session struct {
	RefreshMarginSeconds int `toml:"refresh_margin_seconds"`
}

// Run contains per-invocation batch bounds.
type Run struct {
	ItemCap            string `toml:"item_cap"`
	Workers            int    `toml:"workers"`
	StoreWriteAttempts int    `toml:"store_write_attempts"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for callpipe.
//
// Configuration sections by subsystem:
//   - Paths: data, staging, and log directories
//   - Store: status store backend (sqlite file or mysql DSN)
//   - Source: the work item identifier feed
//   - ObjectStore: artifact root and destination path template
//   - CXone: recording API authentication and endpoints
//   - Deepgram: transcription and call analysis
//   - Classifier: LLM classification with fallback model
//   - Executor: inter-call delay, retry attempts, backoff, call timeout
//   - Session: credential refresh safety margin
//   - Run: item cap, worker count, status write retries
//   - Logging: log format and level
type Config struct {
	Paths       Paths       `toml:"paths"`
	Store       Store       `toml:"store"`
	Source      Source      `toml:"source"`
	ObjectStore ObjectStore `toml:"object_store"`
	CXone       CXone       `toml:"cxone"`
	Deepgram    Deepgram    `toml:"deepgram"`
	Classifier  Classifier  `toml:"classifier"`
	Executor    Executor    `toml:"executor"`
	Session     Session     `toml:"session"`
	Run         Run         `toml:"run"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/callpipe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("callpipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the local directories a run writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.StagingDir, c.Paths.LogDir, c.ObjectStore.Root}
	if c.Store.Driver == DriverSQLite && c.Store.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Store.Path))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ItemLimit returns the configured item cap, with 0 meaning unlimited.
func (c *Config) ItemLimit() (int, error) {
	limit, err := ParseItemCap(c.Run.ItemCap)
	if err != nil {
		return 0, fmt.Errorf("run.item_cap: %w", err)
	}
	return limit, nil
}

// ParseItemCap accepts a positive integer or "unlimited". The result is 0 for
// unlimited.
func ParseItemCap(value string) (int, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	switch trimmed {
	case "", "unlimited", "all", "none":
		return 0, nil
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("item cap %q: expected a positive integer or \"unlimited\"", value)
	}
	if n <= 0 {
		return 0, fmt.Errorf("item cap %q: must be positive (use \"unlimited\" for no cap)", value)
	}
	return n, nil
}

// InterCallDelay is the minimum spacing between calls on one operation stream.
func (e Executor) InterCallDelay() time.Duration {
	return time.Duration(e.InterCallDelayMillis) * time.Millisecond
}

// BackoffBase is the first retry delay.
func (e Executor) BackoffBase() time.Duration {
	return time.Duration(e.BackoffBaseMillis) * time.Millisecond
}

// BackoffMax caps every retry delay.
func (e Executor) BackoffMax() time.Duration {
	return time.Duration(e.BackoffMaxMillis) * time.Millisecond
}

// CallTimeout bounds a single external call attempt.
func (e Executor) CallTimeout() time.Duration {
	return time.Duration(e.CallTimeoutSeconds) * time.Second
}

// RefreshMargin is subtracted from a credential's validity window.
func (s Session) RefreshMargin() time.Duration {
	return time.Duration(s.RefreshMarginSeconds) * time.Second
}

// StageLockPath returns the lock file guarding concurrent runs of one stage.
func (c *Config) StageLockPath(stage string) string {
	return filepath.Join(c.Paths.DataDir, fmt.Sprintf("%s.lock", strings.TrimSpace(stage)))
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
