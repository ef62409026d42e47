package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const maxWorkers = 16

// Validate ensures the configuration is usable. Stage-specific credentials are
// checked separately by RequireStage so read-only commands work without them.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateExecutor(); err != nil {
		return err
	}
	if err := c.validateRun(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if !strings.Contains(c.ObjectStore.PathTemplate, "{id}") {
		return errors.New("object_store.path_template must contain {id}")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			return errors.New("store.path must be set for the sqlite driver")
		}
	case DriverMySQL:
		if strings.TrimSpace(c.Store.DSN) == "" {
			return errors.New("store.dsn must be set for the mysql driver (or export CALLPIPE_STORE_DSN)")
		}
	default:
		return fmt.Errorf("store.driver: unsupported value %q (want sqlite or mysql)", c.Store.Driver)
	}
	return nil
}

func (c *Config) validateExecutor() error {
	if err := ensurePositiveMap(map[string]int{
		"executor.max_attempts":          c.Executor.MaxAttempts,
		"executor.call_timeout_seconds":  c.Executor.CallTimeoutSeconds,
		"cxone.timeout_seconds":          c.CXone.TimeoutSeconds,
		"cxone.download_timeout_seconds": c.CXone.DownloadTimeoutSeconds,
		"deepgram.timeout_seconds":       c.Deepgram.TimeoutSeconds,
		"classifier.timeout_seconds":     c.Classifier.TimeoutSeconds,
	}); err != nil {
		return err
	}
	if err := ensureNonNegativeMap(map[string]int{
		"executor.inter_call_delay_ms":   c.Executor.InterCallDelayMillis,
		"executor.backoff_base_ms":       c.Executor.BackoffBaseMillis,
		"executor.backoff_max_ms":        c.Executor.BackoffMaxMillis,
		"session.refresh_margin_seconds": c.Session.RefreshMarginSeconds,
	}); err != nil {
		return err
	}
	if c.Executor.BackoffMaxMillis < c.Executor.BackoffBaseMillis {
		return errors.New("executor.backoff_max_ms must be greater than or equal to executor.backoff_base_ms")
	}
	return nil
}

func (c *Config) validateRun() error {
	if _, err := c.ItemLimit(); err != nil {
		return err
	}
	if c.Run.Workers <= 0 || c.Run.Workers > maxWorkers {
		return fmt.Errorf("run.workers must be between 1 and %d", maxWorkers)
	}
	if c.Run.StoreWriteAttempts <= 0 {
		return errors.New("run.store_write_attempts must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

// RequireStage checks that the credentials a stage needs are present.
func (c *Config) RequireStage(stage string) error {
	switch strings.TrimSpace(stage) {
	case "fetch":
		missing := missingFields(map[string]string{
			"cxone.username":      c.CXone.Username,
			"cxone.password":      c.CXone.Password,
			"cxone.client_id":     c.CXone.ClientID,
			"cxone.client_secret": c.CXone.ClientSecret,
		})
		if len(missing) > 0 {
			return fmt.Errorf("fetch stage requires %s (or the matching CXONE_* environment variables)", strings.Join(missing, ", "))
		}
		if strings.TrimSpace(c.Source.Path) == "" {
			return errors.New("fetch stage requires source.path")
		}
	case "transcribe":
		if c.Deepgram.APIKey == "" {
			return errors.New("transcribe stage requires deepgram.api_key (or DEEPGRAM_API_KEY)")
		}
	case "classify":
		if c.Classifier.APIKey == "" {
			return errors.New("classify stage requires classifier.api_key (or CLASSIFIER_API_KEY)")
		}
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
	return nil
}

func missingFields(fields map[string]string) []string {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

func ensurePositiveMap(values map[string]int) error {
	keys := sortedKeys(values)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func ensureNonNegativeMap(values map[string]int) error {
	keys := sortedKeys(values)
	for _, key := range keys {
		if values[key] < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}
	return nil
}

func sortedKeys(values map[string]int) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
