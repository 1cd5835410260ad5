package service

import (
	"time"

	"github.com/okian/huntline/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithSQLite selects the SQLite backend stored at path.
func WithSQLite(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.sqlitePath = path
		}
	}
}

// WithTokenSecret keys checkpoint tokens. Without it a random key is used.
func WithTokenSecret(secret string) Option {
	return func(s *Service) {
		s.tokenSecret = secret
	}
}

// WithPublicBaseURL sets the origin of invitation links.
func WithPublicBaseURL(base string) Option {
	return func(s *Service) {
		if base != "" {
			s.publicBaseURL = base
		}
	}
}

// WithOpTimeout bounds every repository call.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

// WithStoreRetries sets the attempts for transient backend failures.
func WithStoreRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.storeRetries = n
		}
	}
}

// WithCommitQueueSize bounds the queue between commits and broadcasting.
func WithCommitQueueSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithDispatchWorkers sets the number of workers draining the commit queue.
func WithDispatchWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.dispatchWorkers = n
		}
	}
}

// WithDeliveryRetries sets the attempts a failing subscriber gets.
func WithDeliveryRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.deliveryRetries = n
		}
	}
}

// WithImageDir stores uploaded images under dir.
func WithImageDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.imageDir = dir
		}
	}
}

// WithMaxLanes caps the lane count of a new hunt.
func WithMaxLanes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxLanes = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
