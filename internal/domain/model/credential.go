package model

import "time"

// ChallengeTTL bounds how long an authorization redirect may take before its
// callback is rejected.
const ChallengeTTL = 10 * time.Minute

// Credential is the token material authorizing the hub to read one
// provider's data on the user's behalf.
//
// For the authorization-code dialect RefreshToken holds the refresh token.
// For the two-step dialect it holds the access-token secret used for request
// signing, and ExpiresAt is zero because those tokens do not expire.
type Credential struct {
	Provider     Provider
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UserID       string
}

// IsZero reports whether c carries no access token, i.e. the provider is
// unauthenticated.
func (c Credential) IsZero() bool {
	return c.AccessToken == ""
}

// ValidAt reports whether c may be used at now. A zero expiry never expires.
func (c Credential) ValidAt(now time.Time) bool {
	if c.IsZero() {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(c.ExpiresAt)
}

// CanRefresh reports whether an expired c can be renewed without user
// interaction.
func (c Credential) CanRefresh() bool {
	return c.RefreshToken != "" && c.Provider.Dialect() == DialectAuthCode
}

// AuthChallenge binds an authorization redirect to its callback. It is
// single use: the stored copy is deleted the moment it is read back.
type AuthChallenge struct {
	Provider  Provider
	Nonce     string
	CreatedAt time.Time

	// RequestToken and RequestTokenSecret are the temporary pair issued by
	// the first leg of the two-step dialect. The secret is needed to exchange
	// the verifier on callback.
	RequestToken       string
	RequestTokenSecret string
}

// ExpiredAt reports whether the challenge is too old to accept at now.
func (c AuthChallenge) ExpiredAt(now time.Time) bool {
	return now.Sub(c.CreatedAt) > ChallengeTTL
}

// AuthState is a provider's position in the authorization state machine.
type AuthState string

const (
	AuthStateUnauthenticated        AuthState = "unauthenticated"
	AuthStateAuthorizationRequested AuthState = "authorization_requested"
	AuthStateAuthorized             AuthState = "authorized"
	AuthStateExpired                AuthState = "expired"
	AuthStateRefreshing             AuthState = "refreshing"
)

// CallbackParams carries the query parameters a provider redirects back with.
// Authorization-code providers set Code; the two-step dialect sets
// OAuthToken and OAuthVerifier. Error is the provider's error code, if any.
type CallbackParams struct {
	Code          string
	State         string
	OAuthToken    string
	OAuthVerifier string
	Error         string
}

// TokenGrant is what the server-mediated token endpoints return.
type TokenGrant struct {
	AccessToken string
	// RefreshToken is the refresh token or, for the two-step dialect, the
	// access-token secret.
	RefreshToken string
	ExpiresIn    time.Duration
	UserID       string
}

// RequestToken is the temporary token pair issued by the first leg of the
// two-step dialect.
type RequestToken struct {
	Token  string
	Secret string
}
