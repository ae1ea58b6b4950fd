package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
	"github.com/ericfisherdev/fitsync/internal/domain/port/driven"
)

// DefaultProviderTimeout bounds each provider call in a fan-out.
const DefaultProviderTimeout = 15 * time.Second

// ProviderStatus describes one provider for the dashboard. Redirect-based
// providers report Configured and Authenticated; snapshot-backed providers
// report Supported and LastSynced.
type ProviderStatus struct {
	Provider      model.Provider
	Dialect       model.Dialect
	Configured    bool
	Authenticated bool
	State         model.AuthState
	Supported     bool
	LastSynced    *time.Time
}

// MarshalJSON emits the field set that applies to the provider's dialect.
func (s ProviderStatus) MarshalJSON() ([]byte, error) {
	if s.Dialect == model.DialectNone {
		return json.Marshal(struct {
			Supported  bool       `json:"supported"`
			LastSynced *time.Time `json:"last_synced"`
		}{s.Supported, s.LastSynced})
	}
	return json.Marshal(struct {
		Configured    bool            `json:"configured"`
		Authenticated bool            `json:"authenticated"`
		State         model.AuthState `json:"state,omitempty"`
	}{s.Configured, s.Authenticated, s.State})
}

// HubConfig collects the hub's collaborators.
type HubConfig struct {
	Flows       []FlowManager
	Clients     []driven.DataClient
	Snapshots   driven.SnapshotStore
	Credentials *CredentialStore
	Policy      Policy

	ProviderTimeout time.Duration
	Logger          *slog.Logger
	Metrics         Metrics
	Now             func() time.Time
}

// Hub is the single entry point the dashboard uses: provider status,
// authorization, and unified reads across every connected provider.
type Hub struct {
	flows     map[model.Provider]FlowManager
	clients   map[model.Provider]driven.DataClient
	snapshots driven.SnapshotStore
	creds     *CredentialStore
	policy    Policy

	timeout time.Duration
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time
}

// NewHub creates a Hub. Flows and clients are indexed by their Provider().
func NewHub(cfg HubConfig) *Hub {
	h := &Hub{
		flows:     make(map[model.Provider]FlowManager, len(cfg.Flows)),
		clients:   make(map[model.Provider]driven.DataClient, len(cfg.Clients)),
		snapshots: cfg.Snapshots,
		creds:     cfg.Credentials,
		policy:    cfg.Policy,
		timeout:   cfg.ProviderTimeout,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}
	for _, f := range cfg.Flows {
		h.flows[f.Provider()] = f
	}
	for _, c := range cfg.Clients {
		h.clients[c.Provider()] = c
	}
	if h.policy.primary == nil {
		h.policy = DefaultPolicy()
	}
	if h.timeout <= 0 {
		h.timeout = DefaultProviderTimeout
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.metrics == nil {
		h.metrics = noopMetrics{}
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// sources lists every provider plus the manual source, in enumeration order.
func sources() []model.Provider {
	return append(model.Providers(), model.SourceManual)
}

// Status reports every provider. Errors reading one provider's state are
// logged and reported as unauthenticated.
func (h *Hub) Status(ctx context.Context) map[model.Provider]ProviderStatus {
	out := make(map[model.Provider]ProviderStatus, len(model.Providers()))
	for _, p := range model.Providers() {
		st := ProviderStatus{Provider: p, Dialect: p.Dialect()}

		if p.Dialect() == model.DialectNone {
			_, st.Supported = h.clients[p]
			if h.creds != nil {
				at, ok, err := h.creds.LastSynced(ctx, p)
				if err != nil {
					h.logger.Warn("failed to read last synced", "provider", p, "error", err)
				} else if ok {
					st.LastSynced = &at
				}
			}
			out[p] = st
			continue
		}

		flow, ok := h.flows[p]
		if !ok {
			out[p] = st
			continue
		}
		st.Configured = flow.IsConfigured()
		state, err := flow.State(ctx)
		if err != nil {
			h.logger.Warn("failed to read auth state", "provider", p, "error", err)
			state = model.AuthStateUnauthenticated
		}
		st.State = state
		st.Authenticated = state == model.AuthStateAuthorized
		out[p] = st
	}
	return out
}

// AuthorizationURLs returns a consent URL for every configured provider and
// nil for the rest. A provider whose URL cannot be built is logged and
// reported as nil.
func (h *Hub) AuthorizationURLs(ctx context.Context) map[model.Provider]*string {
	out := make(map[model.Provider]*string, len(h.flows))
	for _, p := range model.Providers() {
		flow, ok := h.flows[p]
		if !ok {
			continue
		}
		if !flow.IsConfigured() {
			out[p] = nil
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, h.timeout)
		u, err := flow.AuthorizationURL(pctx)
		cancel()
		if err != nil {
			h.logger.Warn("failed to build authorization url", "provider", p, "error", err)
			out[p] = nil
			continue
		}
		out[p] = &u
	}
	return out
}

// HandleCallback routes a provider redirect to its flow manager.
func (h *Hub) HandleCallback(ctx context.Context, p model.Provider, params model.CallbackParams) error {
	flow, ok := h.flows[p]
	if !ok {
		return fmt.Errorf("callback for %q: %w", p, model.ErrUnknownProvider)
	}
	return flow.HandleCallback(ctx, params)
}

// Logout disconnects one provider. For snapshot-backed providers this drops
// the stored snapshot and the last-synced stamp.
func (h *Hub) Logout(ctx context.Context, p model.Provider) error {
	if flow, ok := h.flows[p]; ok {
		if err := flow.Logout(ctx); err != nil {
			return err
		}
		h.logger.Info("provider logged out", "provider", p)
		return nil
	}

	if p.Dialect() != model.DialectNone {
		return fmt.Errorf("logout %q: %w", p, model.ErrUnknownProvider)
	}
	if h.snapshots != nil {
		if err := h.snapshots.Clear(ctx, p); err != nil {
			return fmt.Errorf("logout %s: %w", p, err)
		}
	}
	if h.creds != nil {
		if err := h.creds.ClearLastSynced(ctx, p); err != nil {
			return fmt.Errorf("logout %s: %w", p, err)
		}
	}
	h.logger.Info("provider logged out", "provider", p)
	return nil
}

// LogoutAll disconnects every provider, continuing past individual failures.
func (h *Hub) LogoutAll(ctx context.Context) error {
	var errs []error
	for _, p := range model.Providers() {
		_, hasFlow := h.flows[p]
		if !hasFlow && p.Dialect() != model.DialectNone {
			continue
		}
		if err := h.Logout(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ImportSnapshot stores records for a snapshot-backed source, replacing
// everything held for it between the snapshot's first and last dates.
// Records are tagged with p whatever source they arrived with.
func (h *Hub) ImportSnapshot(ctx context.Context, p model.Provider, snap model.Snapshot) (int, error) {
	if p.Dialect() != model.DialectNone {
		return 0, fmt.Errorf("import %s: %w", p, model.ErrSnapshotNotSupported)
	}
	if h.snapshots == nil {
		return 0, fmt.Errorf("import %s: no snapshot store", p)
	}

	tagged := snap.WithSource(p)
	if err := h.snapshots.Put(ctx, p, tagged); err != nil {
		return 0, fmt.Errorf("import %s: %w", p, err)
	}
	if p == model.ProviderAppleHealth && h.creds != nil {
		if err := h.creds.SetLastSynced(ctx, p, h.now()); err != nil {
			return 0, err
		}
	}

	h.logger.Info("snapshot imported", "provider", p, "records", tagged.Len())
	return tagged.Len(), nil
}

// ActivityData returns unified activity records for r.
func (h *Hub) ActivityData(ctx context.Context, r model.DateRange) ([]model.ActivityRecord, error) {
	return collect(ctx, h, model.CategoryActivity, r, func(c driven.DataClient) (fetchFunc[model.ActivityRecord], bool) {
		f, ok := c.(driven.ActivityFetcher)
		if !ok {
			return nil, false
		}
		return f.FetchActivity, true
	})
}

// SleepData returns unified sleep records for r.
func (h *Hub) SleepData(ctx context.Context, r model.DateRange) ([]model.SleepRecord, error) {
	return collect(ctx, h, model.CategorySleep, r, func(c driven.DataClient) (fetchFunc[model.SleepRecord], bool) {
		f, ok := c.(driven.SleepFetcher)
		if !ok {
			return nil, false
		}
		return f.FetchSleep, true
	})
}

// HeartRateData returns unified heart-rate records for r.
func (h *Hub) HeartRateData(ctx context.Context, r model.DateRange) ([]model.HeartRateRecord, error) {
	return collect(ctx, h, model.CategoryHeartRate, r, func(c driven.DataClient) (fetchFunc[model.HeartRateRecord], bool) {
		f, ok := c.(driven.HeartRateFetcher)
		if !ok {
			return nil, false
		}
		return f.FetchHeartRate, true
	})
}

// NutritionData returns unified nutrition records for r.
func (h *Hub) NutritionData(ctx context.Context, r model.DateRange) ([]model.NutritionRecord, error) {
	return collect(ctx, h, model.CategoryNutrition, r, func(c driven.DataClient) (fetchFunc[model.NutritionRecord], bool) {
		f, ok := c.(driven.NutritionFetcher)
		if !ok {
			return nil, false
		}
		return f.FetchNutrition, true
	})
}

// WaterData returns unified water records for r.
func (h *Hub) WaterData(ctx context.Context, r model.DateRange) ([]model.WaterRecord, error) {
	return collect(ctx, h, model.CategoryWater, r, func(c driven.DataClient) (fetchFunc[model.WaterRecord], bool) {
		f, ok := c.(driven.WaterFetcher)
		if !ok {
			return nil, false
		}
		return f.FetchWater, true
	})
}

// WeightData returns unified weight records for r.
func (h *Hub) WeightData(ctx context.Context, r model.DateRange) ([]model.WeightRecord, error) {
	return collect(ctx, h, model.CategoryWeight, r, func(c driven.DataClient) (fetchFunc[model.WeightRecord], bool) {
		f, ok := c.(driven.WeightFetcher)
		if !ok {
			return nil, false
		}
		return f.FetchWeight, true
	})
}

// Data dispatches to the per-category read for c. The concrete slice type
// depends on c.
func (h *Hub) Data(ctx context.Context, c model.Category, r model.DateRange) (any, error) {
	switch c {
	case model.CategoryActivity:
		return h.ActivityData(ctx, r)
	case model.CategorySleep:
		return h.SleepData(ctx, r)
	case model.CategoryHeartRate:
		return h.HeartRateData(ctx, r)
	case model.CategoryNutrition:
		return h.NutritionData(ctx, r)
	case model.CategoryWater:
		return h.WaterData(ctx, r)
	case model.CategoryWeight:
		return h.WeightData(ctx, r)
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedCategory, c)
	}
}

type fetchFunc[R Record] func(ctx context.Context, r model.DateRange) ([]R, error)

type participant[R Record] struct {
	provider model.Provider
	fetch    fetchFunc[R]
}

// participants returns, in enumeration order, every source that serves the
// category and can be read now. Snapshot-backed sources always take part;
// API providers take part while they hold a credential, expired or not, so
// the fetch gets a chance to refresh it.
func participants[R Record](ctx context.Context, h *Hub, pick func(driven.DataClient) (fetchFunc[R], bool)) []participant[R] {
	var out []participant[R]
	for _, p := range sources() {
		client, ok := h.clients[p]
		if !ok {
			continue
		}
		fetch, ok := pick(client)
		if !ok {
			continue
		}

		if p.Dialect() != model.DialectNone {
			flow, ok := h.flows[p]
			if !ok {
				continue
			}
			state, err := flow.State(ctx)
			if err != nil {
				h.logger.Warn("failed to read auth state", "provider", p, "error", err)
				continue
			}
			switch state {
			case model.AuthStateAuthorized, model.AuthStateExpired, model.AuthStateRefreshing:
			default:
				continue
			}
		}
		out = append(out, participant[R]{provider: p, fetch: fetch})
	}
	return out
}

// collect fans a read out to every participant concurrently, each under its
// own timeout, and merges whatever succeeds. A failing provider is logged
// and left out; only cancellation of ctx fails the whole read.
func collect[R Record](ctx context.Context, h *Hub, c model.Category, r model.DateRange, pick func(driven.DataClient) (fetchFunc[R], bool)) ([]R, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	parts := participants(ctx, h, pick)
	results := make([][]R, len(parts))

	var wg sync.WaitGroup
	for i, part := range parts {
		wg.Add(1)
		go func() {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			start := time.Now()
			recs, err := part.fetch(pctx, r)
			h.metrics.ObserveFetch(part.provider, c, err, time.Since(start))
			if err != nil {
				h.logger.Warn("provider fetch failed",
					"provider", part.provider,
					"category", c,
					"error", err,
				)
				return
			}
			results[i] = recs
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Merge(h.policy, c, results...), nil
}
