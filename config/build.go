package config

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/weftworks/weft/artifact"
	"github.com/weftworks/weft/core"
	"github.com/weftworks/weft/logging"
	"github.com/weftworks/weft/session"
	"github.com/weftworks/weft/tool"
)

// Policy converts the config shape to the runtime retry policy.
func (p RetryPolicyConfig) Policy() tool.RetryPolicy {
	return tool.RetryPolicy{
		MaxAttempts:    p.MaxAttempts,
		BaseDelay:      p.BaseDelay.Std(),
		Multiplier:     p.Multiplier,
		MaxDelay:       p.MaxDelay.Std(),
		RetryableCodes: p.RetryableStatusCodes,
	}
}

// ToolInvoker builds a tool invoker carrying the configured default policy,
// per-tool overrides and timeout. Extra option functions run last, so callers
// can attach metrics or a test sleep on top.
func (c *Config) ToolInvoker(optFns ...func(o *tool.InvokerOptions)) *tool.Invoker {
	overrides := make(map[string]tool.RetryPolicy, len(c.Retry.Tools))
	for name := range c.Retry.Tools {
		overrides[name] = c.PolicyFor(name).Policy()
	}

	fns := append([]func(o *tool.InvokerOptions){func(o *tool.InvokerOptions) {
		o.Timeout = c.Engine.ToolTimeout.Std()
		o.Overrides = overrides
	}}, optFns...)

	return tool.NewInvoker(c.Retry.Defaults.Policy(), fns...)
}

// Logger builds the structured logger described by the logging section.
func (c *Config) Logger() logging.Logger {
	cfg := logging.DefaultConfig()
	switch c.Logging.Level {
	case "debug":
		cfg.Level = logging.LevelDebug
	case "warn":
		cfg.Level = logging.LevelWarn
	case "error":
		cfg.Level = logging.LevelError
	}
	if c.Logging.Format != "" {
		cfg.Format = c.Logging.Format
	}
	return logging.New(cfg)
}

// OpenStores builds the session and artifact stores named by the stores
// section. When both backends are redis they share one client.
func (c *Config) OpenStores() (core.SessionStore, core.ArtifactStore, error) {
	var client *redis.Client
	redisClient := func() *redis.Client {
		if client == nil {
			client = redis.NewClient(&redis.Options{
				Addr:     c.Stores.Redis.Addr,
				Password: c.Stores.Redis.Password,
				DB:       c.Stores.Redis.DB,
			})
		}
		return client
	}

	var sessions core.SessionStore
	switch c.Stores.Sessions.Backend {
	case "", BackendMemory:
		sessions = session.NewInMemoryStore()
	case BackendRedis:
		sessions = session.NewRedisStore(redisClient(), func(o *session.RedisOptions) {
			if p := c.Stores.Redis.Prefix; p != "" {
				o.Prefix = p
			}
			o.TTL = c.Stores.Redis.TTL.Std()
		})
	default:
		return nil, nil, fmt.Errorf("unknown session store backend %q", c.Stores.Sessions.Backend)
	}

	var artifacts core.ArtifactStore
	switch c.Stores.Artifacts.Backend {
	case "", BackendMemory:
		artifacts = artifact.NewInMemoryStore()
	case BackendRedis:
		artifacts = artifact.NewRedisStore(redisClient(), func(o *artifact.RedisOptions) {
			if p := c.Stores.Redis.Prefix; p != "" {
				o.Prefix = p
			}
			o.TTL = c.Stores.Redis.TTL.Std()
		})
	default:
		return nil, nil, fmt.Errorf("unknown artifact store backend %q", c.Stores.Artifacts.Backend)
	}

	return sessions, artifacts, nil
}
