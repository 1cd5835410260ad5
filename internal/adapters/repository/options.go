package repository

import (
	"time"

	"github.com/okian/huntline/pkg/logger"
)

// Option applies a configuration option to the Repository.
type Option func(*Repository)

// WithOpTimeout bounds every repository call.
func WithOpTimeout(d time.Duration) Option {
	return func(r *Repository) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRetries sets how many attempts a transient backend failure gets.
func WithRetries(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.retries = uint(n)
		}
	}
}

// WithRetryInterval sets the first backoff interval between attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(r *Repository) {
		if d > 0 {
			r.retryInterval = d
		}
	}
}

// WithPublisher forwards every committed lane change to p.
func WithPublisher(p Publisher) Option {
	return func(r *Repository) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithMaxLanes caps the lane count accepted by CreateHunt.
func WithMaxLanes(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.maxLanes = n
		}
	}
}

// WithLogger sets a custom logger for the repository.
func WithLogger(l logger.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}
