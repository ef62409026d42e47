package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStore(); err != nil {
		return err
	}
	if err := c.normalizeSource(); err != nil {
		return err
	}
	if err := c.normalizeObjectStore(); err != nil {
		return err
	}
	if err := c.normalizeCXone(); err != nil {
		return err
	}
	c.normalizeDeepgram()
	c.normalizeClassifier()
	c.normalizeLogging()
	c.Run.ItemCap = strings.ToLower(strings.TrimSpace(c.Run.ItemCap))
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = filepath.Join(c.Paths.DataDir, "staging")
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStore() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = defaultStoreDriver
	}
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	if c.Store.DSN == "" {
		if value, ok := os.LookupEnv("CALLPIPE_STORE_DSN"); ok {
			c.Store.DSN = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = filepath.Join(c.Paths.DataDir, defaultStoreFile)
	}
	var err error
	if c.Store.Path, err = expandPath(c.Store.Path); err != nil {
		return fmt.Errorf("store.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeSource() error {
	c.Source.IDColumn = strings.TrimSpace(c.Source.IDColumn)
	if c.Source.IDColumn == "" {
		c.Source.IDColumn = defaultSourceIDColumn
	}
	var err error
	if c.Source.Path, err = expandPath(strings.TrimSpace(c.Source.Path)); err != nil {
		return fmt.Errorf("source.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeObjectStore() error {
	var err error
	if strings.TrimSpace(c.ObjectStore.Root) == "" {
		c.ObjectStore.Root = filepath.Join(c.Paths.DataDir, "recordings")
	}
	if c.ObjectStore.Root, err = expandPath(c.ObjectStore.Root); err != nil {
		return fmt.Errorf("object_store.root: %w", err)
	}
	c.ObjectStore.PathTemplate = strings.TrimSpace(c.ObjectStore.PathTemplate)
	if c.ObjectStore.PathTemplate == "" {
		c.ObjectStore.PathTemplate = defaultPathTemplate
	}
	ext := strings.TrimSpace(c.ObjectStore.DefaultExtension)
	if ext == "" {
		ext = defaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	c.ObjectStore.DefaultExtension = strings.ToLower(ext)
	return nil
}

func (c *Config) normalizeCXone() error {
	lookup := func(field *string, keys ...string) {
		*field = strings.TrimSpace(*field)
		if *field != "" {
			return
		}
		for _, key := range keys {
			if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
				*field = strings.TrimSpace(value)
				return
			}
		}
	}
	lookup(&c.CXone.Username, "CXONE_USERNAME")
	lookup(&c.CXone.Password, "CXONE_PASSWORD")
	lookup(&c.CXone.ClientID, "CXONE_CLIENT_ID")
	lookup(&c.CXone.ClientSecret, "CXONE_CLIENT_SECRET")

	c.CXone.AuthURL = strings.TrimSpace(c.CXone.AuthURL)
	if c.CXone.AuthURL == "" {
		c.CXone.AuthURL = defaultCXoneAuthURL
	}
	c.CXone.BaseURL = strings.TrimRight(strings.TrimSpace(c.CXone.BaseURL), "/")

	if strings.TrimSpace(c.CXone.CredentialCache) == "" {
		c.CXone.CredentialCache = filepath.Join(c.Paths.DataDir, defaultCredentialCacheFile)
	}
	var err error
	if c.CXone.CredentialCache, err = expandPath(c.CXone.CredentialCache); err != nil {
		return fmt.Errorf("cxone.credential_cache: %w", err)
	}
	return nil
}

func (c *Config) normalizeDeepgram() {
	c.Deepgram.APIKey = strings.TrimSpace(c.Deepgram.APIKey)
	if c.Deepgram.APIKey == "" {
		if value, ok := os.LookupEnv("DEEPGRAM_API_KEY"); ok {
			c.Deepgram.APIKey = strings.TrimSpace(value)
		}
	}
	c.Deepgram.BaseURL = strings.TrimRight(strings.TrimSpace(c.Deepgram.BaseURL), "/")
	if c.Deepgram.BaseURL == "" {
		c.Deepgram.BaseURL = defaultDeepgramBaseURL
	}
	c.Deepgram.Model = strings.TrimSpace(c.Deepgram.Model)
	if c.Deepgram.Model == "" {
		c.Deepgram.Model = defaultDeepgramModel
	}
}

func (c *Config) normalizeClassifier() {
	c.Classifier.APIKey = strings.TrimSpace(c.Classifier.APIKey)
	if c.Classifier.APIKey == "" {
		for _, key := range []string{"CLASSIFIER_API_KEY", "OPENROUTER_API_KEY"} {
			if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
				c.Classifier.APIKey = strings.TrimSpace(value)
				break
			}
		}
	}
	c.Classifier.BaseURL = strings.TrimSpace(c.Classifier.BaseURL)
	if c.Classifier.BaseURL == "" {
		c.Classifier.BaseURL = defaultClassifierBaseURL
	}
	c.Classifier.Model = strings.TrimSpace(c.Classifier.Model)
	if c.Classifier.Model == "" {
		c.Classifier.Model = defaultClassifierModel
	}
	c.Classifier.FallbackModel = strings.TrimSpace(c.Classifier.FallbackModel)
	c.Classifier.SchemaVersion = strings.TrimSpace(c.Classifier.SchemaVersion)
	if c.Classifier.SchemaVersion == "" {
		c.Classifier.SchemaVersion = defaultClassifierSchema
	}
	c.Classifier.Referer = strings.TrimSpace(c.Classifier.Referer)
	c.Classifier.Title = strings.TrimSpace(c.Classifier.Title)
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text", "pretty":
		c.Logging.Format = "console"
	default:
		c.Logging.Format = format
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
