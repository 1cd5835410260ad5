package ws

import "github.com/okian/huntline/pkg/logger"

// Option configures a Handler.
type Option func(*Handler)

// WithSendBuffer sets how many encoded views may wait for one slow client.
func WithSendBuffer(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}
