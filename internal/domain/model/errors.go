package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured means the provider's client id (or secret, where
	// required) is missing from configuration.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrNotAuthenticated means no credential is stored for the provider.
	ErrNotAuthenticated = errors.New("provider not authenticated")

	// ErrOAuthStateMismatch means the callback state did not match the stored
	// nonce, or no nonce was pending. The authorization attempt is void.
	ErrOAuthStateMismatch = errors.New("oauth state mismatch")

	// ErrTokenExchangeFailed means the code or verifier could not be
	// exchanged for tokens.
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrTokenRefreshFailed means an expired credential could not be
	// refreshed. The credential has been cleared.
	ErrTokenRefreshFailed = errors.New("token refresh failed")

	// ErrUnknownProvider means a provider name is outside the closed set.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrUnsupportedCategory means the category name is unknown or the
	// provider does not serve it.
	ErrUnsupportedCategory = errors.New("unsupported category")

	// ErrInvalidDateRange means a requested range is malformed or too long.
	ErrInvalidDateRange = errors.New("invalid date range")

	// ErrSnapshotNotSupported means records were imported for a provider that
	// is served by its own API rather than a local snapshot.
	ErrSnapshotNotSupported = errors.New("provider does not accept snapshot imports")
)

// ProviderAPIError is a non-2xx response from a provider data endpoint.
type ProviderAPIError struct {
	Provider Provider
	Status   int
	Endpoint string
	Message  string
}

func (e *ProviderAPIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s api %s: HTTP %d: %s", e.Provider, e.Endpoint, e.Status, e.Message)
	}
	return fmt.Sprintf("%s api %s: HTTP %d", e.Provider, e.Endpoint, e.Status)
}

// ParseError is a provider response whose shape could not be mapped.
type ParseError struct {
	Provider Provider
	Endpoint string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s api %s: unexpected response: %v", e.Provider, e.Endpoint, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
