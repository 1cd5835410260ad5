package broadcast

import (
	"time"

	"github.com/okian/huntline/pkg/logger"
)

// Option applies a configuration option to the Hub.
type Option func(*Hub)

// WithDeliveryRetries sets how many attempts a failing handler gets per snapshot.
func WithDeliveryRetries(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.retries = uint(n)
		}
	}
}

// WithRetryInterval sets the first backoff interval between delivery attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.retryInterval = d
		}
	}
}

// WithLogger sets a custom logger for the hub.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}
