// Package config loads warden's process settings and rate-limit quotas.
//
// Process settings come from WARDEN_* environment variables. Quotas come
// from a TOML or YAML file named by WARDEN_QUOTA_FILE; without one the
// built-in defaults apply.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

// EnvPrefix is the prefix of every environment variable.
const EnvPrefix = "WARDEN"

// Config holds all process configuration.
type Config struct {
	Log      LogConfig
	Runtime  RuntimeConfig
	Scripts  ScriptsConfig
	Store    StoreConfig
	Quota    QuotaConfig
	Metrics  MetricsConfig
	Dispatch DispatchConfig
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" default:"info"`
	Development bool   `envconfig:"DEV" default:"false"`
}

// RuntimeConfig sizes the Lua runtime and bounds script runs.
type RuntimeConfig struct {
	QueueSize       int           `envconfig:"QUEUE_SIZE" default:"256"`
	CallStackSize   int           `envconfig:"CALL_STACK_SIZE" default:"256"`
	RegistrySize    int           `envconfig:"REGISTRY_SIZE" default:"20480"`
	RegistryMaxSize int           `envconfig:"REGISTRY_MAX_SIZE" default:"1048576"`
	SpawnTimeout    time.Duration `envconfig:"SPAWN_TIMEOUT" default:"30s"`

	// Capabilities is the allow-list of the main isolate.
	Capabilities []string `envconfig:"CAPABILITIES"`
}

// ScriptsConfig locates tenant scripts.
type ScriptsConfig struct {
	Dir   string        `envconfig:"DIR" default:"scripts"`
	Watch bool          `envconfig:"WATCH" default:"true"`
	Delay time.Duration `envconfig:"DEBOUNCE" default:"200ms"`
}

// StoreConfig configures the SQLite key-value store.
type StoreConfig struct {
	DSN string `envconfig:"DSN" default:"file:warden.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"`
}

// QuotaConfig names the rate-limit quota file.
type QuotaConfig struct {
	File string `envconfig:"FILE"`
}

// MetricsConfig configures the metrics endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `envconfig:"ADDR" default:":9090"`
}

// DispatchConfig configures the scheduled execution dispatcher. An empty
// schedule disables it.
type DispatchConfig struct {
	Schedule string `envconfig:"SCHEDULE" default:"@every 1s"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no variable is set.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Runtime: RuntimeConfig{
			QueueSize:       256,
			CallStackSize:   256,
			RegistrySize:    20480,
			RegistryMaxSize: 1048576,
			SpawnTimeout:    30 * time.Second,
		},
		Scripts: ScriptsConfig{
			Dir:   "scripts",
			Watch: true,
			Delay: 200 * time.Millisecond,
		},
		Store: StoreConfig{
			DSN: "file:warden.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Dispatch: DispatchConfig{
			Schedule: "@every 1s",
		},
	}
}

// Validate checks value ranges envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.Runtime.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: runtime queue size must be positive", ErrInvalid))
	}
	if c.Runtime.CallStackSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: call stack size must be positive", ErrInvalid))
	}
	if c.Runtime.RegistrySize <= 0 || c.Runtime.RegistryMaxSize < c.Runtime.RegistrySize {
		errs = append(errs, fmt.Errorf("%w: registry size must be positive and not above the maximum", ErrInvalid))
	}
	if c.Runtime.SpawnTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: spawn timeout must be positive", ErrInvalid))
	}
	if c.Scripts.Dir == "" {
		errs = append(errs, fmt.Errorf("%w: scripts dir must be set", ErrInvalid))
	}
	if c.Dispatch.Schedule != "" {
		if _, err := cron.ParseStandard(c.Dispatch.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("%w: dispatch schedule %q: %v", ErrInvalid, c.Dispatch.Schedule, err))
		}
	}
	return errors.Join(errs...)
}
