package application

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

// TwoStepConfig is the static configuration of a request-token/access-token
// provider.
type TwoStepConfig struct {
	ConsumerKey    string
	ConsumerSecret string

	// ConfirmURL is the provider page the user approves the request token on.
	ConfirmURL  string
	CallbackURL string
}

// TwoStepFlow runs the request-token/access-token dialect. Both legs go
// through the broker; the resulting access token and secret never expire.
type TwoStepFlow struct {
	*tokenManager
	cfg TwoStepConfig
}

// NewTwoStepFlow creates a flow manager for a two-step provider.
func NewTwoStepFlow(p model.Provider, cfg TwoStepConfig, deps FlowDeps) *TwoStepFlow {
	return &TwoStepFlow{
		tokenManager: newTokenManager(p, deps),
		cfg:          cfg,
	}
}

// IsConfigured reports whether the consumer key and secret are set.
func (f *TwoStepFlow) IsConfigured() bool {
	return f.cfg.ConsumerKey != "" && f.cfg.ConsumerSecret != ""
}

// AuthorizationURL obtains a request token from the broker, stores it with a
// fresh nonce, and returns the confirmation URL.
func (f *TwoStepFlow) AuthorizationURL(ctx context.Context) (string, error) {
	if !f.IsConfigured() {
		return "", fmt.Errorf("%s: %w", f.provider, model.ErrNotConfigured)
	}

	nonce := uuid.NewString()
	callback, err := withQuery(f.cfg.CallbackURL, url.Values{"state": {nonce}})
	if err != nil {
		return "", fmt.Errorf("%s: callback url: %w", f.provider, err)
	}

	rt, err := f.deps.Broker.RequestToken(ctx, f.provider, callback)
	if err != nil {
		return "", fmt.Errorf("%s: request token: %w", f.provider, err)
	}

	ch := model.AuthChallenge{
		Provider:           f.provider,
		Nonce:              nonce,
		CreatedAt:          f.deps.Now(),
		RequestToken:       rt.Token,
		RequestTokenSecret: rt.Secret,
	}
	if err := f.deps.Store.SaveChallenge(ctx, ch); err != nil {
		return "", err
	}

	return withQuery(f.cfg.ConfirmURL, url.Values{
		"oauth_token":    {rt.Token},
		"oauth_callback": {callback},
	})
}

// HandleCallback consumes the pending challenge, checks state and the echoed
// request token, then exchanges the verifier for the access token pair.
func (f *TwoStepFlow) HandleCallback(ctx context.Context, params model.CallbackParams) error {
	ch, err := f.takeMatchingChallenge(ctx, params.State)
	if err != nil {
		return err
	}
	if params.OAuthToken != "" && !constantTimeEqual(params.OAuthToken, ch.RequestToken) {
		return fmt.Errorf("%s: request token mismatch: %w", f.provider, model.ErrOAuthStateMismatch)
	}

	if params.Error != "" {
		return fmt.Errorf("%s: provider returned %q: %w", f.provider, params.Error, model.ErrTokenExchangeFailed)
	}
	if params.OAuthVerifier == "" {
		return fmt.Errorf("%s: callback without verifier: %w", f.provider, model.ErrTokenExchangeFailed)
	}

	rt := model.RequestToken{Token: ch.RequestToken, Secret: ch.RequestTokenSecret}
	grant, err := f.deps.Broker.ExchangeVerifier(ctx, f.provider, rt, params.OAuthVerifier)
	if err != nil {
		return exchangeFailed(f.provider, err)
	}
	if grant.AccessToken == "" || grant.RefreshToken == "" {
		return fmt.Errorf("%s: grant without token pair: %w", f.provider, model.ErrTokenExchangeFailed)
	}

	// Tokens from this dialect do not expire unless the broker says otherwise.
	cred := credentialFromGrant(f.provider, grant, f.deps.Now(), 0)
	if err := f.deps.Store.Save(ctx, f.provider, cred); err != nil {
		return err
	}

	f.deps.Logger.Info("provider connected", "provider", f.provider, "user_id", cred.UserID)
	return nil
}

func withQuery(raw string, extra url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range extra {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
