package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mir00r/stickylb/internal/origin"
	"github.com/mir00r/stickylb/pkg/logger"
	"github.com/spf13/cobra"
)

func main() {
	var (
		cfg      origin.Config
		logLevel string
	)

	cmd := &cobra.Command{
		Use:          "origin",
		Short:        "Static file origin server for the load balancer",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New(logger.Config{Level: logLevel, Format: "text", Output: "stdout"})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return origin.NewServer(cfg, log).ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&cfg.Name, "name", "Backend-Server-1", "Server name reported in responses")
	cmd.Flags().StringVar(&cfg.Host, "host", "127.0.0.1", "Address to bind")
	cmd.Flags().IntVar(&cfg.Port, "port", 8001, "Port to bind")
	cmd.Flags().StringVar(&cfg.DocumentRoot, "root", ".", "Directory to serve files from")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
