package config

import (
	"fmt"
	"net"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/mir00r/stickylb/internal/domain"
	lberrors "github.com/mir00r/stickylb/internal/errors"
	"gopkg.in/yaml.v2"
)

// Config represents the main configuration structure
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	LoadBalancer LoadBalancerConfig `yaml:"load_balancer"`
	Backends     []BackendConfig    `yaml:"backends"`
	Cache        CacheConfig        `yaml:"cache"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Admin        AdminConfig        `yaml:"admin"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig contains the client-facing listener configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ListenBacklog is validated and logged only; the kernel backlog is not tunable
	// through net.Listen. MaxConnections bounds concurrent handling.
	ListenBacklog   int           `yaml:"listen_backlog"`
	MaxConnections  int           `yaml:"max_connections"`
	BufferSize      int           `yaml:"buffer_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoadBalancerConfig contains routing and timeout configuration
type LoadBalancerConfig struct {
	StickyCookieName  string        `yaml:"sticky_cookie_name"`
	// StickyPoolOnly rejects affinity cookies naming an address outside Backends.
	StickyPoolOnly    bool          `yaml:"sticky_pool_only"`
	ClientReadTimeout time.Duration `yaml:"client_read_timeout"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
}

// BackendConfig contains backend server configuration
type BackendConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// CacheConfig contains on-disk response cache configuration
type CacheConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Dir          string   `yaml:"dir"`
	NoCachePaths []string `yaml:"no_cache_paths"`
}

// RateLimitConfig contains connection admission configuration
type RateLimitConfig struct {
	Enabled              bool    `yaml:"enabled"`
	ConnectionsPerSecond float64 `yaml:"connections_per_second"`
	BurstSize            int     `yaml:"burst_size"`
}

// AdminConfig contains admin API configuration
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8000,
			ListenBacklog:   5,
			MaxConnections:  1000,
			BufferSize:      4096,
			ShutdownTimeout: 30 * time.Second,
		},
		LoadBalancer: LoadBalancerConfig{
			StickyCookieName:  "sticky_backend",
			ClientReadTimeout: 5 * time.Second,
			ConnectTimeout:    5 * time.Second,
			RequestTimeout:    5 * time.Second,
			ProbeTimeout:      1 * time.Second,
		},
		Backends: []BackendConfig{
			{Host: "127.0.0.1", Port: 8001},
			{Host: "127.0.0.1", Port: 8002},
		},
		Cache: CacheConfig{
			Enabled:      true,
			Dir:          "cache",
			NoCachePaths: []string{"/proxy-cgi/trace"},
		},
		RateLimit: RateLimitConfig{
			Enabled:              false,
			ConnectionsPerSecond: 100,
			BurstSize:            200,
		},
		Admin: AdminConfig{
			Enabled: false,
			Address: "127.0.0.1:8090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// LoadFromFile loads configuration from a YAML file. Read and parse failures are
// CONFIG_LOAD_FAILED errors.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, lberrors.NewConfigLoadError(filename, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, lberrors.NewConfigLoadError(filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration for correctness
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.LoadBalancer),
		validation.Field(&c.Backends,
			validation.Required,
			validation.By(uniqueBackends),
		),
		validation.Field(&c.Cache),
		validation.Field(&c.RateLimit),
		validation.Field(&c.Admin),
		validation.Field(&c.Logging),
	)
}

// Validate validates the listener settings
func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Host, validation.Required),
		validation.Field(&s.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&s.ListenBacklog, validation.Required, validation.Min(1)),
		validation.Field(&s.MaxConnections, validation.Required, validation.Min(1)),
		validation.Field(&s.BufferSize, validation.Required, validation.Min(1)),
	)
}

// Validate validates routing and timeout settings
func (l LoadBalancerConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.StickyCookieName, validation.Required),
		validation.Field(&l.ClientReadTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&l.ConnectTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&l.RequestTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&l.ProbeTimeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

// Validate validates a backend address
func (b BackendConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Host, validation.Required, is.Host),
		validation.Field(&b.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

func uniqueBackends(value interface{}) error {
	backends, ok := value.([]BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of backends")
	}

	seen := make(map[domain.BackendAddress]bool, len(backends))
	for _, backend := range backends {
		addr := domain.BackendAddress{Host: backend.Host, Port: backend.Port}
		if seen[addr] {
			return validation.NewError("validation_duplicate_backend", fmt.Sprintf("duplicate address '%s'", addr))
		}
		seen[addr] = true
	}
	return nil
}

// Validate validates cache settings
func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Dir, validation.When(c.Enabled, validation.Required)),
	)
}

// Validate validates connection admission settings
func (r RateLimitConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ConnectionsPerSecond, validation.When(r.Enabled, validation.Required, validation.Min(0.0).Exclusive())),
		validation.Field(&r.BurstSize, validation.When(r.Enabled, validation.Required, validation.Min(1))),
	)
}

// Validate validates admin API settings
func (a AdminConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Address, validation.When(a.Enabled, validation.Required, validation.By(validateHostPort))),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}
	return nil
}

// Validate validates logging settings
func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.Required,
			validation.In("trace", "debug", "info", "warn", "error", "fatal", "panic")),
		validation.Field(&l.Format, validation.Required, validation.In("json", "text")),
		validation.Field(&l.Output, validation.Required, validation.In("stdout", "stderr", "file")),
		validation.Field(&l.File, validation.When(l.Output == "file", validation.Required)),
	)
}

// ListenAddress returns the client-facing listener address
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Server.Host, fmt.Sprintf("%d", c.Server.Port))
}

// ToBackends converts backend configurations to domain addresses, preserving order
func (c *Config) ToBackends() []domain.BackendAddress {
	backends := make([]domain.BackendAddress, len(c.Backends))
	for i, bc := range c.Backends {
		backends[i] = domain.BackendAddress{Host: bc.Host, Port: bc.Port}
	}
	return backends
}

// SaveToFile saves the configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}

	return nil
}
