package domain

import "errors"

// Sentinel errors shared across packages. Handlers map these to HTTP
// kinds; internals wrap them with context via fmt.Errorf("...: %w", err).
var (
	ErrProjectionNotFound = errors.New("projection not found")
	ErrNoScorersReady     = errors.New("no scorers ready")
	ErrExplainerBusy      = errors.New("explanation queue full")
	ErrStoreUnavailable   = errors.New("store unavailable")
)
