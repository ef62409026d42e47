package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"callpipe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Credentials are filled with placeholders and executor delays are shrunk so
// retries finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Store.Path = filepath.Join(base, "data", "status.db")
	cfgVal.Source.Path = filepath.Join(base, "feed.csv")
	cfgVal.ObjectStore.Root = filepath.Join(base, "objects")
	cfgVal.CXone.Username = "user"
	cfgVal.CXone.Password = "pass"
	cfgVal.CXone.ClientID = "client"
	cfgVal.CXone.ClientSecret = "secret"
	cfgVal.CXone.CredentialCache = ""
	cfgVal.Deepgram.APIKey = "test"
	cfgVal.Classifier.APIKey = "test"
	cfgVal.Executor.InterCallDelayMillis = 0
	cfgVal.Executor.BackoffBaseMillis = 1
	cfgVal.Executor.BackoffMaxMillis = 5
	cfgVal.Executor.CallTimeoutSeconds = 5
	cfgVal.Run.ItemCap = "unlimited"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithItemCap overrides the run item cap.
func WithItemCap(value string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Run.ItemCap = value
	}
}

// WithServiceURL points every external service at baseURL, typically an
// httptest server.
func WithServiceURL(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		baseURL = strings.TrimRight(baseURL, "/")
		b.cfg.CXone.AuthURL = baseURL + "/auth/token"
		b.cfg.CXone.BaseURL = baseURL
		b.cfg.Deepgram.BaseURL = baseURL
		b.cfg.Classifier.BaseURL = baseURL + "/chat/completions"
	}
}

// WithFeed writes ids as a single-column CSV feed and points the source at it.
func WithFeed(ids ...string) ConfigOption {
	return func(b *configBuilder) {
		WriteFeed(b.t, b.cfg.Source.Path, ids...)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}

// WriteFeed writes a CSV feed with a contact_id header.
func WriteFeed(t testing.TB, path string, ids ...string) {
	t.Helper()

	var b strings.Builder
	b.WriteString("contact_id\n")
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte('\n')
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write feed %s: %v", path, err)
	}
}
