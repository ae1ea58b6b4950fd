package driven

import (
	"context"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

// TokenBroker is the server-mediated token service. Exchanging secrets for
// tokens happens there, never in this process, so provider client secrets
// for the authorization-code dialect stay on the broker.
type TokenBroker interface {
	// ExchangeCode trades an authorization code for tokens.
	ExchangeCode(ctx context.Context, provider model.Provider, code, redirectURI string) (model.TokenGrant, error)

	// Refresh trades a refresh token for a new token pair.
	Refresh(ctx context.Context, provider model.Provider, refreshToken string) (model.TokenGrant, error)

	// RequestToken performs the first leg of the two-step dialect.
	RequestToken(ctx context.Context, provider model.Provider, callbackURL string) (model.RequestToken, error)

	// ExchangeVerifier performs the second leg of the two-step dialect.
	ExchangeVerifier(ctx context.Context, provider model.Provider, requestToken model.RequestToken, verifier string) (model.TokenGrant, error)
}
