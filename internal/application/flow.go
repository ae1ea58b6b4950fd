package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
	"github.com/ericfisherdev/fitsync/internal/domain/port/driven"
)

// refreshTimeout bounds a single refresh round trip. The refresh runs
// detached from the first caller's cancellation because other callers may be
// waiting on the same flight.
const refreshTimeout = 30 * time.Second

// defaultTokenLifetime applies when the broker grants a token without saying
// when it expires.
const defaultTokenLifetime = time.Hour

// FlowManager drives one provider through the authorization state machine:
// Unauthenticated -> AuthorizationRequested -> Authorized -> Expired ->
// Refreshing -> (Authorized | Unauthenticated).
type FlowManager interface {
	driven.CredentialSource

	// IsConfigured reports whether the static client credentials the flow
	// needs are present. It performs no I/O.
	IsConfigured() bool

	// IsAuthenticated reports whether a credential exists and is valid now.
	IsAuthenticated(ctx context.Context) (bool, error)

	// State reports the provider's current position in the state machine.
	State(ctx context.Context) (model.AuthState, error)

	// AuthorizationURL starts an authorization attempt and returns the URL to
	// send the user to. Some dialects need a network round trip first.
	AuthorizationURL(ctx context.Context) (string, error)

	// HandleCallback completes the attempt started by AuthorizationURL.
	HandleCallback(ctx context.Context, params model.CallbackParams) error

	// Logout removes the provider's credential.
	Logout(ctx context.Context) error
}

// Metrics receives observations from flows and the hub.
type Metrics interface {
	ObserveFetch(provider model.Provider, category model.Category, err error, elapsed time.Duration)
	ObserveRefresh(provider model.Provider, err error)
}

type noopMetrics struct{}

func (noopMetrics) ObserveFetch(model.Provider, model.Category, error, time.Duration) {}
func (noopMetrics) ObserveRefresh(model.Provider, error)                              {}

// FlowDeps are the collaborators every flow manager needs.
type FlowDeps struct {
	Store   *CredentialStore
	Broker  driven.TokenBroker
	Logger  *slog.Logger
	Metrics Metrics
	Now     func() time.Time
}

func (d FlowDeps) withDefaults() FlowDeps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = noopMetrics{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// tokenManager holds the credential lifecycle shared by both dialects:
// validity checks, single-flight refresh, forced logout.
type tokenManager struct {
	provider model.Provider
	deps     FlowDeps

	refreshes  singleflight.Group
	refreshing atomic.Bool
}

func newTokenManager(p model.Provider, deps FlowDeps) *tokenManager {
	return &tokenManager{provider: p, deps: deps.withDefaults()}
}

// Provider returns the provider this flow manages.
func (m *tokenManager) Provider() model.Provider { return m.provider }

// IsAuthenticated reports whether a valid credential is stored.
func (m *tokenManager) IsAuthenticated(ctx context.Context) (bool, error) {
	cred, ok, err := m.deps.Store.Load(ctx, m.provider)
	if err != nil {
		return false, err
	}
	return ok && cred.ValidAt(m.deps.Now()), nil
}

// State derives the state-machine position from what is stored.
func (m *tokenManager) State(ctx context.Context) (model.AuthState, error) {
	if m.refreshing.Load() {
		return model.AuthStateRefreshing, nil
	}

	cred, ok, err := m.deps.Store.Load(ctx, m.provider)
	if err != nil {
		return "", err
	}
	if ok {
		if cred.ValidAt(m.deps.Now()) {
			return model.AuthStateAuthorized, nil
		}
		return model.AuthStateExpired, nil
	}

	pending, err := m.deps.Store.HasPendingChallenge(ctx, m.provider, m.deps.Now())
	if err != nil {
		return "", err
	}
	if pending {
		return model.AuthStateAuthorizationRequested, nil
	}
	return model.AuthStateUnauthenticated, nil
}

// EnsureValidToken returns a credential that is valid now. An expired
// credential is refreshed once; concurrent callers share that one refresh.
// A failed refresh clears the credential and returns ErrTokenRefreshFailed.
func (m *tokenManager) EnsureValidToken(ctx context.Context) (model.Credential, error) {
	cred, ok, err := m.deps.Store.Load(ctx, m.provider)
	if err != nil {
		return model.Credential{}, err
	}
	if !ok {
		return model.Credential{}, fmt.Errorf("%s: %w", m.provider, model.ErrNotAuthenticated)
	}
	if cred.ValidAt(m.deps.Now()) {
		return cred, nil
	}

	ch := m.refreshes.DoChan(string(m.provider), func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.refresh(refreshCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return model.Credential{}, res.Err
		}
		return res.Val.(model.Credential), nil
	case <-ctx.Done():
		return model.Credential{}, ctx.Err()
	}
}

// refresh runs inside the single flight. It re-reads the credential first:
// a flight that finished just before this one started may already have
// replaced it, and its refresh token may have been rotated.
func (m *tokenManager) refresh(ctx context.Context) (model.Credential, error) {
	m.refreshing.Store(true)
	defer m.refreshing.Store(false)

	cred, ok, err := m.deps.Store.Load(ctx, m.provider)
	if err != nil {
		return model.Credential{}, err
	}
	if !ok {
		return model.Credential{}, fmt.Errorf("%s: %w", m.provider, model.ErrNotAuthenticated)
	}
	now := m.deps.Now()
	if cred.ValidAt(now) {
		return cred, nil
	}

	if !cred.CanRefresh() {
		return model.Credential{}, m.forceLogout(ctx, errors.New("credential expired and cannot be refreshed"))
	}

	grant, err := m.deps.Broker.Refresh(ctx, m.provider, cred.RefreshToken)
	if err != nil {
		m.deps.Metrics.ObserveRefresh(m.provider, err)
		return model.Credential{}, m.forceLogout(ctx, err)
	}

	next := credentialFromGrant(m.provider, grant, now, defaultTokenLifetime)
	if next.RefreshToken == "" {
		next.RefreshToken = cred.RefreshToken
	}
	if next.UserID == "" {
		next.UserID = cred.UserID
	}

	if err := m.deps.Store.Save(ctx, m.provider, next); err != nil {
		m.deps.Metrics.ObserveRefresh(m.provider, err)
		return model.Credential{}, err
	}

	m.deps.Metrics.ObserveRefresh(m.provider, nil)
	m.deps.Logger.Info("token refreshed", "provider", m.provider, "expires_at", next.ExpiresAt)
	return next, nil
}

// forceLogout clears the provider's credential after an unrecoverable
// refresh failure and returns the error to report.
func (m *tokenManager) forceLogout(ctx context.Context, cause error) error {
	m.deps.Logger.Warn("token refresh failed, logging out provider",
		"provider", m.provider,
		"error", cause,
	)
	if err := m.deps.Store.Clear(ctx, m.provider); err != nil {
		m.deps.Logger.Error("failed to clear credential after refresh failure",
			"provider", m.provider,
			"error", err,
		)
	}
	return fmt.Errorf("%s: %w: %w", m.provider, model.ErrTokenRefreshFailed, cause)
}

// Logout removes the provider's credential and pending challenge.
func (m *tokenManager) Logout(ctx context.Context) error {
	return m.deps.Store.Clear(ctx, m.provider)
}

// takeMatchingChallenge consumes the stored challenge and checks state
// against it. Any mismatch, including a missing or stale challenge, is
// ErrOAuthStateMismatch.
func (m *tokenManager) takeMatchingChallenge(ctx context.Context, state string) (model.AuthChallenge, error) {
	ch, ok, err := m.deps.Store.TakeChallenge(ctx, m.provider)
	if err != nil {
		return model.AuthChallenge{}, err
	}
	if !ok {
		return model.AuthChallenge{}, fmt.Errorf("%s: no pending authorization: %w", m.provider, model.ErrOAuthStateMismatch)
	}
	if ch.ExpiredAt(m.deps.Now()) {
		return model.AuthChallenge{}, fmt.Errorf("%s: authorization expired: %w", m.provider, model.ErrOAuthStateMismatch)
	}
	if !constantTimeEqual(ch.Nonce, state) {
		return model.AuthChallenge{}, fmt.Errorf("%s: %w", m.provider, model.ErrOAuthStateMismatch)
	}
	return ch, nil
}

func credentialFromGrant(p model.Provider, g model.TokenGrant, now time.Time, fallback time.Duration) model.Credential {
	cred := model.Credential{
		Provider:     p,
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		UserID:       g.UserID,
	}
	switch {
	case g.ExpiresIn > 0:
		cred.ExpiresAt = now.Add(g.ExpiresIn)
	case fallback > 0:
		cred.ExpiresAt = now.Add(fallback)
	}
	return cred
}
