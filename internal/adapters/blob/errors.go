package blob

import "errors"

// Sentinel kinds for image store errors.
var (
	ErrNoRoot   = errors.New("image directory is required")
	ErrNotFound = errors.New("image not found")
	ErrEmpty    = errors.New("empty image")
	ErrTooLarge = errors.New("image too large")
)
