// Package config loads Weft service configuration from YAML. The zero
// configuration is fully usable: Default() mirrors the compiled-in defaults,
// a YAML file overrides the fields it names, and unknown fields are rejected
// so typos fail at load time instead of silently keeping a default.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends selectable per store.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the root of the configuration tree.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Stores  StoresConfig  `yaml:"stores"`
	Retry   RetryConfig   `yaml:"retry"`
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig tunes per-invocation limits.
type EngineConfig struct {
	// EventBufferSize sets channel buffering for event delivery.
	EventBufferSize int `yaml:"event_buffer_size"`
	// MaxModelCalls bounds model calls per invocation; 0 means unlimited.
	MaxModelCalls int `yaml:"max_model_calls"`
	// ToolTimeout bounds one tool invocation end to end, retries included.
	// Zero means no overall bound.
	ToolTimeout Duration `yaml:"tool_timeout"`
}

// StoresConfig selects the persistence backend per store. Both stores share
// the same Redis connection settings.
type StoresConfig struct {
	Sessions  StoreConfig `yaml:"sessions"`
	Artifacts StoreConfig `yaml:"artifacts"`
	Redis     RedisConfig `yaml:"redis"`
}

// StoreConfig names the backend for one store.
type StoreConfig struct {
	Backend string `yaml:"backend"`
}

// RedisConfig holds connection settings used when any store backend is
// "redis".
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Prefix   string   `yaml:"prefix"`
	TTL      Duration `yaml:"ttl"`
}

// RetryConfig holds the default tool retry policy plus per-tool overrides.
// Override entries may be partial; unset fields fall back to the defaults.
type RetryConfig struct {
	Defaults RetryPolicyConfig            `yaml:"defaults"`
	Tools    map[string]RetryPolicyConfig `yaml:"tools"`
}

// RetryPolicyConfig is the externally tunable retry policy shape.
type RetryPolicyConfig struct {
	MaxAttempts          int      `yaml:"max_attempts"`
	BaseDelay            Duration `yaml:"base_delay"`
	Multiplier           float64  `yaml:"multiplier"`
	MaxDelay             Duration `yaml:"max_delay"`
	RetryableStatusCodes []int    `yaml:"retryable_status_codes"`
}

// withDefaults fills unset fields from the given defaults.
func (p RetryPolicyConfig) withDefaults(def RetryPolicyConfig) RetryPolicyConfig {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.RetryableStatusCodes == nil {
		p.RetryableStatusCodes = def.RetryableStatusCodes
	}
	return p
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// Default returns the compiled-in configuration: in-memory stores, info-level
// JSON logging and the stock retry policy.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			EventBufferSize: 100,
			MaxModelCalls:   100,
		},
		Stores: StoresConfig{
			Sessions:  StoreConfig{Backend: BackendMemory},
			Artifacts: StoreConfig{Backend: BackendMemory},
			Redis:     RedisConfig{Addr: "localhost:6379", Prefix: "weft"},
		},
		Retry: RetryConfig{
			Defaults: RetryPolicyConfig{
				MaxAttempts:          3,
				BaseDelay:            Duration(500 * time.Millisecond),
				Multiplier:           2.0,
				MaxDelay:             Duration(30 * time.Second),
				RetryableStatusCodes: []int{429, 500, 503, 504},
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Validate reports the first problem with the configuration.
func (c *Config) Validate() error {
	if c.Engine.EventBufferSize < 0 {
		return fmt.Errorf("engine.event_buffer_size must not be negative, got %d", c.Engine.EventBufferSize)
	}
	if c.Engine.MaxModelCalls < 0 {
		return fmt.Errorf("engine.max_model_calls must not be negative, got %d", c.Engine.MaxModelCalls)
	}

	if err := validBackend("stores.sessions", c.Stores.Sessions.Backend); err != nil {
		return err
	}
	if err := validBackend("stores.artifacts", c.Stores.Artifacts.Backend); err != nil {
		return err
	}
	if c.usesRedis() && c.Stores.Redis.Addr == "" {
		return fmt.Errorf("stores.redis.addr is required when a store backend is %q", BackendRedis)
	}

	if c.Retry.Defaults.MaxAttempts < 1 {
		return fmt.Errorf("retry.defaults.max_attempts must be at least 1, got %d", c.Retry.Defaults.MaxAttempts)
	}
	if c.Retry.Defaults.Multiplier < 1 {
		return fmt.Errorf("retry.defaults.multiplier must be at least 1, got %v", c.Retry.Defaults.Multiplier)
	}
	for name, p := range c.Retry.Tools {
		if p.MaxAttempts < 0 {
			return fmt.Errorf("retry.tools.%s.max_attempts must not be negative, got %d", name, p.MaxAttempts)
		}
		if p.Multiplier < 0 {
			return fmt.Errorf("retry.tools.%s.multiplier must not be negative, got %v", name, p.Multiplier)
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	return nil
}

// PolicyFor returns the retry policy in effect for the named tool: the
// per-tool entry with unset fields filled from the configured defaults, or
// the defaults themselves when no entry exists.
func (c *Config) PolicyFor(tool string) RetryPolicyConfig {
	p, ok := c.Retry.Tools[tool]
	if !ok {
		return c.Retry.Defaults
	}
	return p.withDefaults(c.Retry.Defaults)
}

func (c *Config) usesRedis() bool {
	return c.Stores.Sessions.Backend == BackendRedis || c.Stores.Artifacts.Backend == BackendRedis
}

func validBackend(field, backend string) error {
	switch backend {
	case "", BackendMemory, BackendRedis:
		return nil
	default:
		return fmt.Errorf("%s.backend must be %q or %q, got %q", field, BackendMemory, BackendRedis, backend)
	}
}

// Duration is a time.Duration that unmarshals from YAML scalars in Go
// duration syntax ("500ms", "1m30s").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML parses a duration scalar.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back in Go syntax.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
