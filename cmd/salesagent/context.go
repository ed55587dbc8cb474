package main

import (
	"context"
	"strings"
	"sync"

	"github.com/Gireeshbd/ai-sales-agent/internal/config"
	"github.com/Gireeshbd/ai-sales-agent/internal/leads"
)

type rootFlags struct {
	config string
	server string
	store  string
	json   bool
}

type commandContext struct {
	flags *rootFlags

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(flags *rootFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(c.flags.config)
		if path == "" {
			c.config, c.configErr = config.Load()
			return
		}
		c.config, c.configErr = config.LoadFrom(path)
	})
	return c.config, c.configErr
}

// openStore opens the lead store for commands that work without a server.
func (c *commandContext) openStore(ctx context.Context) (leads.Store, error) {
	url := strings.TrimSpace(c.flags.store)
	if url == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		url = cfg.LeadsStoreURL
	}
	return leads.NewStore(ctx, url)
}

// serverURL is --server, or the local address the server binds to.
func (c *commandContext) serverURL() (string, error) {
	if url := strings.TrimSpace(c.flags.server); url != "" {
		return strings.TrimRight(url, "/"), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	addr := cfg.BindAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr, nil
}

func (c *commandContext) apiClient() (*apiClient, error) {
	base, err := c.serverURL()
	if err != nil {
		return nil, err
	}
	return newAPIClient(base), nil
}
