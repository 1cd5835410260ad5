package repository

import "errors"

// Sentinel kinds for backend failures. Domain kinds live in model.
var (
	ErrClosed      = errors.New("store closed")
	ErrStorePath   = errors.New("sqlite path is required")
	ErrDuplicateID = errors.New("duplicate id")
)
