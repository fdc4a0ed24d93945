// Package config loads the service configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wufi/storefront-checkout/internal/checkout"
)

// Config is the root configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Backend      BackendConfig      `yaml:"backend"`
	Storage      StorageConfig      `yaml:"storage"`
	Checkout     CheckoutConfig     `yaml:"checkout"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

type ServerConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	RequestTimeout  string `yaml:"request_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	MaxInFlight     int    `yaml:"max_in_flight"` // concurrent step submissions across sessions
}

// BackendConfig selects and configures the store API client.
type BackendConfig struct {
	Mode             string `yaml:"mode"` // http, simulated
	BaseURL          string `yaml:"base_url"`
	PublishableKey   string `yaml:"publishable_key"`
	Timeout          string `yaml:"timeout"`
	FailureThreshold uint32 `yaml:"failure_threshold"`
	OpenTimeout      string `yaml:"open_timeout"`
	SimulatedDelay   string `yaml:"simulated_delay"`

	// Random latency and failures of the simulated backend. A zero seed
	// picks a random one.
	SimulatedJitter      string  `yaml:"simulated_jitter"`
	SimulatedFailureRate float64 `yaml:"simulated_failure_rate"`
	SimulatedSeed        uint64  `yaml:"simulated_seed"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite
	Path   string `yaml:"path"`
}

type CheckoutConfig struct {
	AutoAdvancement checkout.AutoAdvancement `yaml:"auto_advancement"`
}

// ConnectivityConfig configures the reachability prober. An empty ProbeURL
// disables probing; connectivity is then reported by clients.
type ConnectivityConfig struct {
	ProbeURL      string `yaml:"probe_url"`
	ProbeInterval string `yaml:"probe_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Backend modes.
const (
	BackendHTTP      = "http"
	BackendSimulated = "simulated"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			RequestTimeout:  "15s",
			ShutdownTimeout: "10s",
			MaxInFlight:     64,
		},
		Backend: BackendConfig{
			Mode:             BackendSimulated,
			BaseURL:          "http://localhost:9000",
			Timeout:          "10s",
			FailureThreshold: 5,
			OpenTimeout:      "30s",
			SimulatedDelay:   "150ms",
		},
		Storage: StorageConfig{
			Driver: "memory",
			Path:   filepath.Join("data", "checkout.db"),
		},
		Checkout: CheckoutConfig{
			AutoAdvancement: checkout.DefaultAutoAdvancement(),
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: "15s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "wufi_checkout",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Redacted returns the YAML encoding with secrets masked.
func (c *Config) Redacted() ([]byte, error) {
	out := *c
	if out.Backend.PublishableKey != "" {
		out.Backend.PublishableKey = "********"
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WUFI_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("WUFI_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("WUFI_BACKEND_MODE"); v != "" {
		c.Backend.Mode = v
	}
	if v := os.Getenv("WUFI_PUBLISHABLE_KEY"); v != "" {
		c.Backend.PublishableKey = v
	}
	if v := os.Getenv("WUFI_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("WUFI_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("WUFI_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("WUFI_MAX_IN_FLIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.MaxInFlight = n
		}
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetRequestTimeout bounds each API request, backend call included.
func (c *Config) GetRequestTimeout() time.Duration {
	return parseDuration(c.Server.RequestTimeout, 15*time.Second)
}

func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

func (c *Config) GetBackendTimeout() time.Duration {
	return parseDuration(c.Backend.Timeout, 10*time.Second)
}

func (c *Config) GetBreakerOpenTimeout() time.Duration {
	return parseDuration(c.Backend.OpenTimeout, 30*time.Second)
}

// GetSimulatedDelay returns the per-call latency of the simulated backend.
// "0" disables it.
func (c *Config) GetSimulatedDelay() time.Duration {
	if c.Backend.SimulatedDelay == "0" {
		return 0
	}
	return parseDuration(c.Backend.SimulatedDelay, 150*time.Millisecond)
}

// GetSimulatedJitter returns the random latency added by the simulated
// backend; zero when unset.
func (c *Config) GetSimulatedJitter() time.Duration {
	return parseDuration(c.Backend.SimulatedJitter, 0)
}

func (c *Config) GetProbeInterval() time.Duration {
	return parseDuration(c.Connectivity.ProbeInterval, 15*time.Second)
}

var (
	validModes    = []string{BackendHTTP, BackendSimulated}
	validDrivers  = []string{"memory", "sqlite"}
	validLevels   = []string{"debug", "info", "warn", "error"}
	validFormats  = []string{"json", "console"}
	durationNames = []string{"server.request_timeout", "server.shutdown_timeout", "backend.timeout", "backend.open_timeout", "backend.simulated_jitter", "connectivity.probe_interval"}
)

func oneOf(v string, valid []string) bool {
	for _, s := range valid {
		if v == s {
			return true
		}
	}
	return false
}

// Validate checks enumerations, required fields and duration syntax.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if !oneOf(c.Backend.Mode, validModes) {
		return fmt.Errorf("invalid backend mode: %s (valid: %v)", c.Backend.Mode, validModes)
	}
	if c.Backend.Mode == BackendHTTP && c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required in http mode")
	}
	if !oneOf(c.Storage.Driver, validDrivers) {
		return fmt.Errorf("invalid storage driver: %s (valid: %v)", c.Storage.Driver, validDrivers)
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for sqlite")
	}
	if !oneOf(c.Logging.Level, validLevels) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, validLevels)
	}
	if !oneOf(c.Logging.Format, validFormats) {
		return fmt.Errorf("invalid log format: %s (valid: %v)", c.Logging.Format, validFormats)
	}
	for i, v := range []string{c.Server.RequestTimeout, c.Server.ShutdownTimeout, c.Backend.Timeout, c.Backend.OpenTimeout, c.Backend.SimulatedJitter, c.Connectivity.ProbeInterval} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", durationNames[i], err)
		}
	}
	if r := c.Backend.SimulatedFailureRate; r < 0 || r > 1 {
		return fmt.Errorf("backend.simulated_failure_rate must be within [0, 1], got %v", r)
	}
	if c.Checkout.AutoAdvancement.DelayMS < 0 {
		return fmt.Errorf("checkout.auto_advancement.delay_ms must not be negative")
	}
	return nil
}
