package driven

import (
	"context"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

// DataClient is the part every provider data client shares. Category support
// is expressed by also implementing the fetcher interfaces below; the hub
// discovers it with type assertions.
type DataClient interface {
	Provider() model.Provider
}

// ActivityFetcher reads daily activity totals.
type ActivityFetcher interface {
	DataClient
	FetchActivity(ctx context.Context, r model.DateRange) ([]model.ActivityRecord, error)
}

// SleepFetcher reads nightly sleep records.
type SleepFetcher interface {
	DataClient
	FetchSleep(ctx context.Context, r model.DateRange) ([]model.SleepRecord, error)
}

// HeartRateFetcher reads heart-rate summaries or samples.
type HeartRateFetcher interface {
	DataClient
	FetchHeartRate(ctx context.Context, r model.DateRange) ([]model.HeartRateRecord, error)
}

// NutritionFetcher reads daily food logs.
type NutritionFetcher interface {
	DataClient
	FetchNutrition(ctx context.Context, r model.DateRange) ([]model.NutritionRecord, error)
}

// WaterFetcher reads daily water intake.
type WaterFetcher interface {
	DataClient
	FetchWater(ctx context.Context, r model.DateRange) ([]model.WaterRecord, error)
}

// WeightFetcher reads body weight entries.
type WeightFetcher interface {
	DataClient
	FetchWeight(ctx context.Context, r model.DateRange) ([]model.WeightRecord, error)
}
