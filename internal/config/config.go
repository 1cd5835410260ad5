// Package config defines the service configuration and how it is loaded.
package config

import (
	"context"
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`
	// PublicBaseURL is the origin used in invitation links.
	PublicBaseURL string `koanf:"public_base_url"`

	// Store selects the repository backend: memory or sqlite.
	Store string `koanf:"store"`
	// SQLitePath is the database file used by the sqlite backend.
	SQLitePath string `koanf:"sqlite_path"`

	// TokenSecret keys checkpoint tokens. Empty means a random per-process key.
	TokenSecret string `koanf:"token_secret"`

	// OpTimeoutMS bounds every repository call.
	OpTimeoutMS int `koanf:"op_timeout_ms"`
	// StoreRetries is the number of attempts for a transient backend failure.
	StoreRetries int `koanf:"store_retries"`

	// CommitQueueSize bounds the queue between commits and broadcasting.
	CommitQueueSize int `koanf:"commit_queue_size"`
	// DispatchWorkers drain the commit queue into the broadcaster.
	DispatchWorkers int `koanf:"dispatch_workers"`
	// SubscriberBuffer bounds the outbound frames of one websocket client.
	SubscriberBuffer int `koanf:"subscriber_buffer"`
	// DeliveryRetries is the number of attempts a failing subscriber gets.
	DeliveryRetries int `koanf:"delivery_retries"`

	// ImageDir is where uploaded checkpoint images are kept.
	ImageDir string `koanf:"image_dir"`

	// MaxLanes caps the lane count of a new hunt.
	MaxLanes int `koanf:"max_lanes"`
}

// New returns a Config holding the defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		PublicBaseURL:    "http://localhost:9080",
		Store:            StoreMemory,
		SQLitePath:       "huntline.db",
		OpTimeoutMS:      5000,
		StoreRetries:     3,
		CommitQueueSize:  4096,
		DispatchWorkers:  runtime.NumCPU(),
		SubscriberBuffer: 64,
		DeliveryRetries:  5,
		ImageDir:         "data/images",
		MaxLanes:         64,
	}
}

// Backend names accepted by Store.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// OpTimeout returns OpTimeoutMS as a duration.
func (c *Config) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutMS) * time.Millisecond
}
