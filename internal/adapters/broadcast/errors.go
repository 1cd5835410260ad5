package broadcast

import "errors"

// Sentinel kinds for subscription failures.
var (
	ErrHubClosed  = errors.New("broadcast hub closed")
	ErrNilHandler = errors.New("nil subscription handler")
)
