package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mir00r/stickylb/internal/config"
	"github.com/mir00r/stickylb/internal/domain"
	"github.com/mir00r/stickylb/internal/handler"
	"github.com/mir00r/stickylb/internal/repository"
	"github.com/mir00r/stickylb/internal/server"
	"github.com/mir00r/stickylb/internal/service"
	"github.com/mir00r/stickylb/pkg/logger"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

type cli struct {
	configFile string
	logLevel   string
}

func main() {
	c := &cli{}

	root := &cobra.Command{
		Use:           "stickylb",
		Short:         "Sticky-session HTTP load balancer with an on-disk response cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          c.serve,
	}
	root.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "Path to config file (defaults to $CONFIG_FILE or config.yaml)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the load balancer",
		RunE:  c.serve,
	})
	root.AddCommand(c.adminCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the configuration from the --config flag, CONFIG_FILE and LB_* variables
func (c *cli) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if c.configFile != "" {
		cfg, err = config.LoadConfigFrom(c.configFile)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, err
	}

	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

// components holds the wired load balancer
type components struct {
	prober  *service.TCPProber
	pool    *service.BackendPool
	metrics *service.Metrics
	cache   domain.CacheRepository
	handler *handler.LoadBalancerHandler
}

func wire(cfg *config.Config, log *logger.Logger) *components {
	prober := service.NewTCPProber(cfg.LoadBalancer.ProbeTimeout, log)
	pool := service.NewBackendPool(cfg.ToBackends(), prober, log)
	var stickyOpts []service.StickyOption
	if cfg.LoadBalancer.StickyPoolOnly {
		stickyOpts = append(stickyOpts, service.RestrictToPool())
	}
	sticky := service.NewStickySessionManager(cfg.LoadBalancer.StickyCookieName, pool, log, stickyOpts...)
	forwarder := handler.NewForwarder(cfg.LoadBalancer.ConnectTimeout, cfg.LoadBalancer.RequestTimeout, cfg.Server.BufferSize, log)
	metrics := service.NewMetrics()

	var cache domain.CacheRepository
	if cfg.Cache.Enabled {
		cache = repository.NewFileCacheRepository(cfg.Cache.Dir, cfg.Cache.NoCachePaths, log)
	}

	lb := handler.NewLoadBalancerHandler(sticky, forwarder, cache, metrics, log, handler.Options{
		ClientReadTimeout: cfg.LoadBalancer.ClientReadTimeout,
		BufferSize:        cfg.Server.BufferSize,
	})

	return &components{
		prober:  prober,
		pool:    pool,
		metrics: metrics,
		cache:   cache,
		handler: lb,
	}
}

func (c *cli) serve(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"version":        version,
		"listen":         cfg.ListenAddress(),
		"backends":       len(cfg.Backends),
		"cache_enabled":  cfg.Cache.Enabled,
		"cache_dir":      cfg.Cache.Dir,
		"listen_backlog": cfg.Server.ListenBacklog,
		"process":        getProcessInfo(),
	}).Info("Load balancer configuration loaded")

	app := wire(cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Admin.Enabled {
		adminServer := &http.Server{
			Addr:              cfg.Admin.Address,
			Handler:           handler.NewAdminHandler(app.pool, app.prober, app.metrics, app.cache, log, version).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.WithField("address", cfg.Admin.Address).Info("Admin API listening")
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Admin API failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			adminServer.Shutdown(shutdownCtx)
		}()
	}

	srv := server.New(server.Config{
		Address:              cfg.ListenAddress(),
		MaxConnections:       cfg.Server.MaxConnections,
		ShutdownTimeout:      cfg.Server.ShutdownTimeout,
		RateLimitEnabled:     cfg.RateLimit.Enabled,
		ConnectionsPerSecond: cfg.RateLimit.ConnectionsPerSecond,
		BurstSize:            cfg.RateLimit.BurstSize,
	}, app.handler, log)

	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}

	log.WithFields(srv.GetStats()).Info("Load balancer stopped gracefully")
	return nil
}
