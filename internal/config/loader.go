package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "HUNTLINE_"
	envFileVar = "HUNTLINE_CONFIG"

	minSecretLen = 16
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if HUNTLINE_CONFIG is set
//  3. env (prefix HUNTLINE_)
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)
	k := koanf.New(".")

	if path := os.Getenv(envFileVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// HUNTLINE_OP_TIMEOUT_MS -> op_timeout_ms; underscores stay to match the
	// flat koanf tags.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid field wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return invalid("addr must not be empty")
	case c.LogFormat != "text" && c.LogFormat != "json":
		return invalid("log_format %q: want text or json", c.LogFormat)
	case c.Store != StoreMemory && c.Store != StoreSQLite:
		return invalid("store %q: want %s or %s", c.Store, StoreMemory, StoreSQLite)
	case c.Store == StoreSQLite && strings.TrimSpace(c.SQLitePath) == "":
		return invalid("sqlite_path is required for the sqlite store")
	case c.TokenSecret != "" && len(c.TokenSecret) < minSecretLen:
		return invalid("token_secret must be at least %d bytes", minSecretLen)
	case c.OpTimeoutMS <= 0:
		return invalid("op_timeout_ms must be positive")
	case c.StoreRetries <= 0:
		return invalid("store_retries must be positive")
	case c.CommitQueueSize <= 0:
		return invalid("commit_queue_size must be positive")
	case c.SubscriberBuffer <= 0:
		return invalid("subscriber_buffer must be positive")
	case c.DeliveryRetries <= 0:
		return invalid("delivery_retries must be positive")
	case c.MaxLanes <= 0:
		return invalid("max_lanes must be positive")
	}
	return nil
}
