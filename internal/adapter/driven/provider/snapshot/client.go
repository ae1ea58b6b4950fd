// Package snapshot serves records for sources the hub cannot call over the
// network. Apple Health exports and manual entries are imported into a
// driven.SnapshotStore and read back here, without credentials.
package snapshot

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
	"github.com/ericfisherdev/fitsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.ActivityFetcher  = (*Client)(nil)
	_ driven.SleepFetcher     = (*Client)(nil)
	_ driven.HeartRateFetcher = (*Client)(nil)
	_ driven.WeightFetcher    = (*Client)(nil)

	_ driven.NutritionFetcher = (*ManualClient)(nil)
	_ driven.WaterFetcher     = (*ManualClient)(nil)
)

// Client reads the body-metric categories of one snapshot source.
type Client struct {
	source model.Provider
	store  driven.SnapshotStore
}

// NewAppleHealth returns the Apple Health client. Exports carry activity,
// sleep, heart rate and weight.
func NewAppleHealth(store driven.SnapshotStore) *Client {
	return &Client{source: model.ProviderAppleHealth, store: store}
}

// ManualClient reads hand-entered records, which may cover every category.
type ManualClient struct {
	*Client
}

// NewManual returns the client for manually entered records.
func NewManual(store driven.SnapshotStore) *ManualClient {
	return &ManualClient{Client: &Client{source: model.SourceManual, store: store}}
}

// Provider returns the snapshot source this client reads.
func (c *Client) Provider() model.Provider { return c.source }

func (c *Client) load(ctx context.Context, r model.DateRange) (model.Snapshot, error) {
	snap, err := c.store.Load(ctx, c.source, r)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("load %s snapshot: %w", c.source, err)
	}
	return snap, nil
}

func (c *Client) FetchActivity(ctx context.Context, r model.DateRange) ([]model.ActivityRecord, error) {
	snap, err := c.load(ctx, r)
	return snap.Activity, err
}

func (c *Client) FetchSleep(ctx context.Context, r model.DateRange) ([]model.SleepRecord, error) {
	snap, err := c.load(ctx, r)
	return snap.Sleep, err
}

func (c *Client) FetchHeartRate(ctx context.Context, r model.DateRange) ([]model.HeartRateRecord, error) {
	snap, err := c.load(ctx, r)
	return snap.HeartRate, err
}

func (c *Client) FetchWeight(ctx context.Context, r model.DateRange) ([]model.WeightRecord, error) {
	snap, err := c.load(ctx, r)
	return snap.Weight, err
}

func (c *ManualClient) FetchNutrition(ctx context.Context, r model.DateRange) ([]model.NutritionRecord, error) {
	snap, err := c.load(ctx, r)
	return snap.Nutrition, err
}

func (c *ManualClient) FetchWater(ctx context.Context, r model.DateRange) ([]model.WaterRecord, error) {
	snap, err := c.load(ctx, r)
	return snap.Water, err
}
