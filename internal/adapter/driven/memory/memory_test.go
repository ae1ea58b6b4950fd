package memory_test

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/fitsync/internal/adapter/driven/memory"
	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

func TestKV_RoundTrip(t *testing.T) {
	kv := memory.NewKV()
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.SetMany(ctx, map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, kv.Set(ctx, "a", "3"))

	v, ok, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	require.NoError(t, kv.Delete(ctx, "a", "b", "never-set"))
	assert.Equal(t, 0, kv.Len())
}

func TestSnapshots_LoadSortsAndFilters(t *testing.T) {
	store := memory.NewSnapshots()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, model.SourceManual, model.Snapshot{
		HeartRate: []model.HeartRateRecord{
			{Date: "2024-01-02", Time: "09:00", HeartRate: 80},
			{Date: "2024-01-02", Time: "07:00", HeartRate: 60},
			{Date: "2024-03-01", Time: "07:00", HeartRate: 99},
		},
	}))
	require.NoError(t, store.Put(ctx, model.ProviderAppleHealth, model.Snapshot{
		HeartRate: []model.HeartRateRecord{{Date: "2024-01-02", Time: "07:00", HeartRate: 1}},
	}))

	r, err := model.NewDateRange("2024-01-01", "2024-01-31")
	require.NoError(t, err)

	got, err := store.Load(ctx, model.SourceManual, r)
	require.NoError(t, err)
	require.Len(t, got.HeartRate, 2)
	assert.Equal(t, 60, got.HeartRate[0].HeartRate)
	assert.Equal(t, 80, got.HeartRate[1].HeartRate)

	require.NoError(t, store.Clear(ctx, model.SourceManual))
	got, err = store.Load(ctx, model.SourceManual, r)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())

	other, err := store.Load(ctx, model.ProviderAppleHealth, r)
	require.NoError(t, err)
	assert.Len(t, other.HeartRate, 1, "clearing one source leaves others intact")
}

func TestSnapshots_PutReplacesCoveredSpan(t *testing.T) {
	store := memory.NewSnapshots()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, model.ProviderAppleHealth, model.Snapshot{
		Weight: []model.WeightRecord{
			{Date: "2024-01-01", WeightKg: 71},
			{Date: "2024-01-02", WeightKg: 72},
			{Date: "2024-01-04", WeightKg: 74},
		},
		Water: []model.WaterRecord{{Date: "2024-01-03", AmountML: 900}},
	}))
	require.NoError(t, store.Put(ctx, model.ProviderAppleHealth, model.Snapshot{
		Weight: []model.WeightRecord{{Date: "2024-01-02", WeightKg: 82}, {Date: "2024-01-03", WeightKg: 83}},
	}))

	r, err := model.NewDateRange("2024-01-01", "2024-01-31")
	require.NoError(t, err)

	got, err := store.Load(ctx, model.ProviderAppleHealth, r)
	require.NoError(t, err)
	require.Len(t, got.Weight, 4)
	assert.InDelta(t, 71, got.Weight[0].WeightKg, 0.001)
	assert.InDelta(t, 82, got.Weight[1].WeightKg, 0.001)
	assert.InDelta(t, 83, got.Weight[2].WeightKg, 0.001)
	assert.InDelta(t, 74, got.Weight[3].WeightKg, 0.001)
	assert.Empty(t, got.Water, "water inside the covered span is replaced")
}

func TestKV_GetMany(t *testing.T) {
	kv := memory.NewKV()
	ctx := context.Background()
	require.NoError(t, kv.SetMany(ctx, map[string]string{"a": "1", "b": "2"}))

	got, err := kv.GetMany(ctx, "a", "b", "missing")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got)
}

func TestKV_GetManySeesWholeBatches(t *testing.T) {
	kv := memory.NewKV()
	ctx := context.Background()
	require.NoError(t, kv.SetMany(ctx, map[string]string{"a": "0", "b": "0"}))

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			v := strconv.Itoa(i % 2)
			_ = kv.SetMany(ctx, map[string]string{"a": v, "b": v})
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	for range 20000 {
		got, err := kv.GetMany(ctx, "a", "b")
		require.NoError(t, err)
		require.Equal(t, got["a"], got["b"])
	}
}
