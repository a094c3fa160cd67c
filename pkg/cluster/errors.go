package cluster

import "errors"

// Configuration errors
var (
	ErrMissingInstanceID = errors.New("local instance ID cannot be empty")
	ErrIntervalTooSmall  = errors.New("check interval must be at least one second")
	ErrInvalidTimeout    = errors.New("check timeout must be positive")
)
