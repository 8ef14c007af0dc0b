package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mir00r/stickylb/internal/domain"
	lberrors "github.com/mir00r/stickylb/internal/errors"
)

// applyEnvironment overrides fields of config with LB_* environment variables.
// Unset or unparsable variables leave the current value in place.
func applyEnvironment(config *Config) {
	if host := getEnv("LB_HOST", ""); host != "" {
		config.Server.Host = host
	}
	config.Server.Port = getEnvInt("LB_PORT", config.Server.Port)
	config.Server.MaxConnections = getEnvInt("LB_MAX_CONNECTIONS", config.Server.MaxConnections)
	config.Server.BufferSize = getEnvInt("LB_BUFFER_SIZE", config.Server.BufferSize)

	if name := getEnv("LB_STICKY_COOKIE", ""); name != "" {
		config.LoadBalancer.StickyCookieName = name
	}
	if poolOnly := getEnv("LB_STICKY_POOL_ONLY", ""); poolOnly != "" {
		config.LoadBalancer.StickyPoolOnly = strings.ToLower(poolOnly) == "true"
	}
	config.LoadBalancer.ClientReadTimeout = getEnvDuration("LB_CLIENT_READ_TIMEOUT", config.LoadBalancer.ClientReadTimeout)
	config.LoadBalancer.ConnectTimeout = getEnvDuration("LB_CONNECT_TIMEOUT", config.LoadBalancer.ConnectTimeout)
	config.LoadBalancer.RequestTimeout = getEnvDuration("LB_REQUEST_TIMEOUT", config.LoadBalancer.RequestTimeout)
	config.LoadBalancer.ProbeTimeout = getEnvDuration("LB_PROBE_TIMEOUT", config.LoadBalancer.ProbeTimeout)

	// Backends - env overrides file completely if specified
	if backends := getEnv("LB_BACKENDS", ""); backends != "" {
		if parsed, err := parseBackendsFromEnv(backends); err == nil {
			config.Backends = parsed
		} else {
			fmt.Printf("Warning: ignoring LB_BACKENDS: %v\n", err)
		}
	}

	if enabled := getEnv("LB_CACHE_ENABLED", ""); enabled != "" {
		config.Cache.Enabled = strings.ToLower(enabled) == "true"
	}
	if dir := getEnv("LB_CACHE_DIR", ""); dir != "" {
		config.Cache.Dir = dir
	}
	if paths := getEnv("LB_NO_CACHE_PATHS", ""); paths != "" {
		config.Cache.NoCachePaths = splitList(paths)
	}

	if enabled := getEnv("LB_RATE_LIMIT_ENABLED", ""); enabled != "" {
		config.RateLimit.Enabled = strings.ToLower(enabled) == "true"
	}
	if rps := getEnv("LB_RATE_LIMIT_CPS", ""); rps != "" {
		if r, err := strconv.ParseFloat(rps, 64); err == nil && r > 0 {
			config.RateLimit.ConnectionsPerSecond = r
		}
	}
	config.RateLimit.BurstSize = getEnvInt("LB_RATE_LIMIT_BURST", config.RateLimit.BurstSize)

	if enabled := getEnv("LB_ADMIN_ENABLED", ""); enabled != "" {
		config.Admin.Enabled = strings.ToLower(enabled) == "true"
	}
	if addr := getEnv("LB_ADMIN_ADDRESS", ""); addr != "" {
		config.Admin.Address = addr
	}

	if level := getEnv("LB_LOG_LEVEL", ""); level != "" {
		config.Logging.Level = level
	}
	if format := getEnv("LB_LOG_FORMAT", ""); format != "" {
		config.Logging.Format = format
	}
	if output := getEnv("LB_LOG_OUTPUT", ""); output != "" {
		config.Logging.Output = output
	}
	if file := getEnv("LB_LOG_FILE", ""); file != "" {
		config.Logging.File = file
	}
}

// getEnv gets environment variable with fallback to default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseBackendsFromEnv parses backends from environment variable
// Format: "host1:port1,host2:port2"
func parseBackendsFromEnv(backends string) ([]BackendConfig, error) {
	var backendConfigs []BackendConfig

	for _, entry := range splitList(backends) {
		addr, err := domain.ParseBackendAddress(entry)
		if err != nil {
			return nil, err
		}
		backendConfigs = append(backendConfigs, BackendConfig{Host: addr.Host, Port: addr.Port})
	}

	return backendConfigs, nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvInt gets environment variable as integer with fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets environment variable as duration with fallback
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// LoadConfig loads configuration with priority: env vars > config file > defaults.
// The file named by CONFIG_FILE must exist; the implicit config.yaml may be absent.
func LoadConfig() (*Config, error) {
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		return LoadConfigFrom(path)
	}
	return load("config.yaml", true)
}

// LoadConfigFrom is LoadConfig with an explicit config file path, which must exist
func LoadConfigFrom(configFile string) (*Config, error) {
	return load(configFile, false)
}

func load(configFile string, optional bool) (*Config, error) {
	config := DefaultConfig()

	_, err := os.Stat(configFile)
	switch {
	case err == nil:
		loaded, err := LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = loaded
	case !optional || !os.IsNotExist(err):
		return nil, lberrors.NewConfigLoadError(configFile, err)
	}

	applyEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}
