package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

// refreshRequest represents a manual refresh trigger.
type refreshRequest struct {
	provider model.Provider
	done     chan error
}

// RefreshService periodically renews expired credentials so the next read
// does not pay for the refresh round trip, and so a dead refresh token logs
// the provider out before a user notices.
type RefreshService struct {
	flows     []FlowManager
	interval  time.Duration
	logger    *slog.Logger
	refreshCh chan refreshRequest
}

// NewRefreshService creates a RefreshService over flows.
func NewRefreshService(flows []FlowManager, interval time.Duration, logger *slog.Logger) *RefreshService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshService{
		flows:     flows,
		interval:  interval,
		logger:    logger,
		refreshCh: make(chan refreshRequest),
	}
}

// Start runs an immediate sweep, then sweeps on the configured interval. It
// also serves manual refresh requests. Start blocks until the context is
// canceled.
func (s *RefreshService) Start(ctx context.Context) {
	s.refreshAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("refresh service stopped")
			return
		case <-ticker.C:
			s.refreshAll(ctx)
		case req := <-s.refreshCh:
			req.done <- s.refreshProvider(ctx, req.provider)
		}
	}
}

// RefreshProvider triggers a refresh for one provider outside the interval.
// It blocks until the refresh completes or the context is canceled.
func (s *RefreshService) RefreshProvider(ctx context.Context, p model.Provider) error {
	done := make(chan error, 1)
	req := refreshRequest{provider: p, done: done}

	select {
	case s.refreshCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refreshAll sweeps every flow once.
func (s *RefreshService) refreshAll(ctx context.Context) {
	start := time.Now()

	var refreshed, failed int
	for _, flow := range s.flows {
		if ctx.Err() != nil {
			return
		}

		did, err := s.renew(ctx, flow)
		switch {
		case err != nil:
			s.logger.Error("credential refresh failed", "provider", flow.Provider(), "error", err)
			failed++
		case did:
			refreshed++
		}
	}

	s.logger.Info("refresh sweep complete",
		"providers", len(s.flows),
		"refreshed", refreshed,
		"errors", failed,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

func (s *RefreshService) refreshProvider(ctx context.Context, p model.Provider) error {
	for _, flow := range s.flows {
		if flow.Provider() == p {
			_, err := s.renew(ctx, flow)
			return err
		}
	}
	return fmt.Errorf("refresh %s: %w", p, model.ErrUnknownProvider)
}

// renew refreshes flow's credential if it has expired. It reports whether a
// refresh ran.
func (s *RefreshService) renew(ctx context.Context, flow FlowManager) (bool, error) {
	if !flow.IsConfigured() {
		return false, nil
	}

	state, err := flow.State(ctx)
	if err != nil {
		return false, err
	}
	if state != model.AuthStateExpired {
		return false, nil
	}

	if _, err := flow.EnsureValidToken(ctx); err != nil {
		if errors.Is(err, model.ErrNotAuthenticated) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
