package application_test

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ericfisherdev/fitsync/internal/adapter/driven/memory"
	"github.com/ericfisherdev/fitsync/internal/application"
	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

// --- Mock implementations ---

type mockBroker struct {
	exchangeCode     func(ctx context.Context, p model.Provider, code, redirectURI string) (model.TokenGrant, error)
	refresh          func(ctx context.Context, p model.Provider, refreshToken string) (model.TokenGrant, error)
	requestToken     func(ctx context.Context, p model.Provider, callbackURL string) (model.RequestToken, error)
	exchangeVerifier func(ctx context.Context, p model.Provider, rt model.RequestToken, verifier string) (model.TokenGrant, error)

	refreshCalls atomic.Int32
}

func (m *mockBroker) ExchangeCode(ctx context.Context, p model.Provider, code, redirectURI string) (model.TokenGrant, error) {
	return m.exchangeCode(ctx, p, code, redirectURI)
}

func (m *mockBroker) Refresh(ctx context.Context, p model.Provider, refreshToken string) (model.TokenGrant, error) {
	m.refreshCalls.Add(1)
	return m.refresh(ctx, p, refreshToken)
}

func (m *mockBroker) RequestToken(ctx context.Context, p model.Provider, callbackURL string) (model.RequestToken, error) {
	return m.requestToken(ctx, p, callbackURL)
}

func (m *mockBroker) ExchangeVerifier(ctx context.Context, p model.Provider, rt model.RequestToken, verifier string) (model.TokenGrant, error) {
	return m.exchangeVerifier(ctx, p, rt, verifier)
}

type fakeClock struct {
	now atomic.Pointer[time.Time]
}

func newFakeClock(t time.Time) *fakeClock {
	c := &fakeClock{}
	c.now.Store(&t)
	return c
}

func (c *fakeClock) Now() time.Time { return *c.now.Load() }

func (c *fakeClock) Advance(d time.Duration) {
	t := c.Now().Add(d)
	c.now.Store(&t)
}

var testNow = time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

func newTestStore() *application.CredentialStore {
	return application.NewCredentialStore(memory.NewKV())
}

func mustRange(start, end string) model.DateRange {
	r, err := model.NewDateRange(start, end)
	if err != nil {
		panic(err)
	}
	return r
}
