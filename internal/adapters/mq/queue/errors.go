package queue

import "errors"

// Sentinel kinds for enqueue failures.
var (
	ErrFull   = errors.New("commit queue full")
	ErrClosed = errors.New("commit queue closed")
)
