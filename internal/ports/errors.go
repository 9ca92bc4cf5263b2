package ports

import (
	"errors"

	"klineKit/internal/domain"
)

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Provider Specific Errors
	ErrProviderUnavailable  = errors.New("history provider is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the remote service")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("authentication failed (check API keys)")
	ErrCorruptRecord        = errors.New("malformed record returned by remote service")

	// Store Specific Errors
	ErrStoreUnavailable = errors.New("kline store is unavailable")
	ErrQueryFailed      = errors.New("store query failed")
	ErrUpdateFailed     = errors.New("store update failed")
	ErrDeleteFailed     = errors.New("store delete failed")

	// Probe Errors
	ErrProbeFailed = errors.New("probe failed")

	// ErrInvalidKline is re-exported so callers only need the ports package.
	ErrInvalidKline = domain.ErrInvalidKline
)
