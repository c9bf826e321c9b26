package types

import "errors"

// Error kinds surfaced by the gateway clients. Remote failures wrap one of
// these together with the upstream *supabase.APIError.
var (
	ErrAuth             = errors.New("authentication failed")
	ErrNotFound         = errors.New("requested item not found")
	ErrValidation       = errors.New("validation failed")
	ErrStorage          = errors.New("storage operation failed")
	ErrInvalidReference = errors.New("invalid stored reference")
)
