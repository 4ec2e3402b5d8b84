package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"aisio/internal/api"
	"aisio/internal/config"
	"aisio/internal/transport"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) apiClient() (*api.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Paths.APIBind) == "" {
		return nil, fmt.Errorf("status api disabled: set paths.api_bind to use this command")
	}
	return api.NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
}

func parseRole(value string) (transport.Role, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(transport.RoleServer):
		return transport.RoleServer, nil
	case string(transport.RoleClient):
		return transport.RoleClient, nil
	default:
		return "", fmt.Errorf("unknown role %q (want server or client)", value)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
