package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"roster/internal/config"
	"roster/internal/identity"
	"roster/internal/logging"
	"roster/internal/store"
)

type commandContext struct {
	configFlag *string
	orgFlag    *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	closeLog   func() error
}

func newCommandContext(configFlag, orgFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		orgFlag:    orgFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// loggerValue builds the logger from config once. Logger setup failures fall
// back to stderr so a bad log dir never blocks a command.
func (c *commandContext) loggerValue() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg := c.configValue()
		if cfg == nil {
			c.logger = logging.NewNop()
			return
		}
		logger, closeLog, err := logging.NewFromConfig(cfg)
		if err != nil {
			logger, _ = logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
		}
		if logger == nil {
			logger = logging.NewNop()
		}
		c.logger = logger
		c.closeLog = closeLog
	})
	return c.logger
}

// close releases the log file opened by loggerValue, if any.
func (c *commandContext) close() {
	if c.closeLog != nil {
		_ = c.closeLog()
		c.closeLog = nil
	}
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// orgID resolves --org, then tenant.org_id (which already folds in
// ROSTER_ORG_ID).
func (c *commandContext) orgID() (string, error) {
	if c.orgFlag != nil {
		if org := strings.TrimSpace(*c.orgFlag); org != "" {
			return org, nil
		}
	}
	if cfg := c.configValue(); cfg != nil && cfg.Tenant.OrgID != "" {
		return cfg.Tenant.OrgID, nil
	}
	return "", identity.Validationf("organization not set; pass --org, set tenant.org_id, or export ROSTER_ORG_ID")
}

func (c *commandContext) openStore(ctx context.Context) (*store.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg, store.WithLogger(c.loggerValue()))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// withStore opens the store, resolves the organization, and runs fn under a
// fresh run id so every log line of the invocation correlates.
func (c *commandContext) withStore(cmd *cobra.Command, fn func(ctx context.Context, st *store.Store, orgID string) error) error {
	orgID, err := c.orgID()
	if err != nil {
		return err
	}
	ctx := logging.WithRunID(logging.WithOrgID(cmd.Context(), orgID), uuid.NewString())
	st, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st, orgID)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
