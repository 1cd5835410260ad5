package token

import "errors"

// Sentinel kinds for token errors.
var (
	ErrWeakSecret = errors.New("token secret too short")
	ErrIssue      = errors.New("issue token failed")
)
