package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"callpipe/internal/config"
	"callpipe/internal/logging"
	"callpipe/internal/records"
	"callpipe/internal/source"
	"callpipe/internal/workflow"
)

type globalFlags struct {
	configPath string
	logLevel   string
	json       bool
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error

	store *records.Store
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.flags.configPath))
		if err != nil {
			c.configErr = err
			return
		}
		if level := strings.ToLower(strings.TrimSpace(c.flags.logLevel)); level != "" {
			cfg.Logging.Level = level
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

// openStore opens the status store once per invocation; close releases it.
func (c *commandContext) openStore() (*records.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := records.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open status store: %w", err)
	}
	c.store = store
	return store, nil
}

func (c *commandContext) newManager() (*workflow.Manager, *records.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, nil, err
	}
	store, err := c.openStore()
	if err != nil {
		return nil, nil, err
	}
	var feed source.Feed
	if strings.TrimSpace(cfg.Source.Path) != "" {
		feed = source.NewFileFeed(cfg.Source.Path, cfg.Source.IDColumn)
	}
	return workflow.NewManager(cfg, store, feed, workflow.DefaultStages(cfg, store, logger), logger), store, nil
}

func (c *commandContext) jsonOutput() bool {
	return c.flags.json
}

func (c *commandContext) close() error {
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	if err != nil {
		return fmt.Errorf("close status store: %w", err)
	}
	return nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
