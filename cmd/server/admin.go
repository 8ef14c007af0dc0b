package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mir00r/stickylb/internal/repository"
	"github.com/mir00r/stickylb/internal/service"
	"github.com/mir00r/stickylb/pkg/logger"
	"github.com/spf13/cobra"
)

// adminCommand groups one-off management tasks
func (c *cli) adminCommand() *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Run one-off management tasks",
	}

	admin.AddCommand(
		&cobra.Command{
			Use:   "health-check",
			Short: "Probe every configured backend once",
			RunE:  c.runHealthCheck,
		},
		&cobra.Command{
			Use:     "validate-config",
			Aliases: []string{"validate"},
			Short:   "Validate the configuration and print a summary",
			RunE:    c.runConfigValidation,
		},
		&cobra.Command{
			Use:   "cache",
			Short: "List stored cache entries",
			RunE:  c.runCacheList,
		},
	)
	return admin
}

// runHealthCheck runs a one-off health check of all backends
func (c *cli) runHealthCheck(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	prober := service.NewTCPProber(cfg.LoadBalancer.ProbeTimeout, logger.Discard())
	backends := cfg.ToBackends()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checking %d backends...\n", len(backends))

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	status := prober.ProbeAll(ctx, backends)
	down := 0
	for _, backend := range backends {
		state := "up"
		if !status[backend] {
			state = "down"
			down++
		}
		fmt.Fprintf(out, "Backend %s: %s\n", backend, state)
	}

	if down == len(backends) {
		return fmt.Errorf("no backend accepts connections")
	}
	return nil
}

// runConfigValidation validates the current configuration
func (c *cli) runConfigValidation(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration validation passed")
	fmt.Fprintf(out, "Listen: %s\n", cfg.ListenAddress())
	fmt.Fprintf(out, "Backends: %d\n", len(cfg.Backends))
	for _, backend := range cfg.ToBackends() {
		fmt.Fprintf(out, "  %s\n", backend)
	}
	fmt.Fprintf(out, "Sticky cookie: %s\n", cfg.LoadBalancer.StickyCookieName)
	fmt.Fprintf(out, "Cache: %t (%s)\n", cfg.Cache.Enabled, cfg.Cache.Dir)
	fmt.Fprintf(out, "Rate limiting: %t\n", cfg.RateLimit.Enabled)
	fmt.Fprintf(out, "Admin API: %t\n", cfg.Admin.Enabled)
	return nil
}

// runCacheList prints the stored responses
func (c *cli) runCacheList(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cache := repository.NewFileCacheRepository(cfg.Cache.Dir, cfg.Cache.NoCachePaths, logger.Discard())
	entries, err := cache.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Cache directory: %s (%d entries)\n", cache.Dir(), len(entries))
	for _, entry := range entries {
		fmt.Fprintf(out, "  %-40s %8d bytes  %s\n", entry.Key, entry.Size, entry.StoredAt.Format(time.RFC3339))
	}
	return nil
}
