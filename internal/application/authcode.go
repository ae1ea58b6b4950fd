package application

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

// AuthCodeConfig is the static configuration of one authorization-code
// provider.
type AuthCodeConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	RedirectURL  string
	Scopes       []string

	// ExtraParams are appended to the authorization URL, e.g. Google's
	// access_type=offline.
	ExtraParams map[string]string
}

// AuthCodeFlow runs the redirect-based authorization-code dialect. Token
// exchange and refresh go through the broker so the client secret never
// leaves the server side.
type AuthCodeFlow struct {
	*tokenManager
	cfg AuthCodeConfig
}

// NewAuthCodeFlow creates a flow manager for an authorization-code provider.
func NewAuthCodeFlow(p model.Provider, cfg AuthCodeConfig, deps FlowDeps) *AuthCodeFlow {
	return &AuthCodeFlow{
		tokenManager: newTokenManager(p, deps),
		cfg:          cfg,
	}
}

// IsConfigured reports whether both client id and secret are set.
func (f *AuthCodeFlow) IsConfigured() bool {
	return f.cfg.ClientID != "" && f.cfg.ClientSecret != ""
}

// AuthorizationURL stores a fresh nonce and returns the provider's consent
// URL carrying it as state. Any earlier pending nonce is replaced.
func (f *AuthCodeFlow) AuthorizationURL(ctx context.Context) (string, error) {
	if !f.IsConfigured() {
		return "", fmt.Errorf("%s: %w", f.provider, model.ErrNotConfigured)
	}

	ch := model.AuthChallenge{
		Provider:  f.provider,
		Nonce:     uuid.NewString(),
		CreatedAt: f.deps.Now(),
	}
	if err := f.deps.Store.SaveChallenge(ctx, ch); err != nil {
		return "", err
	}

	oc := oauth2.Config{
		ClientID:    f.cfg.ClientID,
		Endpoint:    oauth2.Endpoint{AuthURL: f.cfg.AuthURL},
		RedirectURL: f.cfg.RedirectURL,
		Scopes:      f.cfg.Scopes,
	}
	opts := make([]oauth2.AuthCodeOption, 0, len(f.cfg.ExtraParams))
	for k, v := range f.cfg.ExtraParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return oc.AuthCodeURL(ch.Nonce, opts...), nil
}

// HandleCallback consumes the pending nonce, checks it against the returned
// state, then exchanges the code for tokens.
func (f *AuthCodeFlow) HandleCallback(ctx context.Context, params model.CallbackParams) error {
	if _, err := f.takeMatchingChallenge(ctx, params.State); err != nil {
		return err
	}

	if params.Error != "" {
		return fmt.Errorf("%s: provider returned %q: %w", f.provider, params.Error, model.ErrTokenExchangeFailed)
	}
	if params.Code == "" {
		return fmt.Errorf("%s: callback without code: %w", f.provider, model.ErrTokenExchangeFailed)
	}

	grant, err := f.deps.Broker.ExchangeCode(ctx, f.provider, params.Code, f.cfg.RedirectURL)
	if err != nil {
		return exchangeFailed(f.provider, err)
	}
	if grant.AccessToken == "" {
		return fmt.Errorf("%s: grant without access token: %w", f.provider, model.ErrTokenExchangeFailed)
	}

	cred := credentialFromGrant(f.provider, grant, f.deps.Now(), defaultTokenLifetime)
	if err := f.deps.Store.Save(ctx, f.provider, cred); err != nil {
		return err
	}

	f.deps.Logger.Info("provider connected", "provider", f.provider, "user_id", cred.UserID)
	return nil
}

func exchangeFailed(p model.Provider, err error) error {
	if errors.Is(err, model.ErrTokenExchangeFailed) {
		return fmt.Errorf("%s: %w", p, err)
	}
	return fmt.Errorf("%s: %w: %w", p, model.ErrTokenExchangeFailed, err)
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
