package redis_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisadapter "github.com/ericfisherdev/fitsync/internal/adapter/driven/redis"
	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

// setupStore connects to the Redis named by FITSYNC_TEST_REDIS_ADDR under a
// random prefix. Tests skip when no server is configured.
func setupStore(t *testing.T) *redisadapter.Store {
	t.Helper()

	addr := os.Getenv("FITSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FITSYNC_TEST_REDIS_ADDR not set")
	}

	store, err := redisadapter.New(context.Background(), addr, "", 0, "fitsync-test:"+uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_KV(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "a", "1"))
	require.NoError(t, store.SetMany(ctx, map[string]string{"b": "2", "c": "3"}))

	v, ok, err := store.Get(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", v)

	many, err := store.GetMany(ctx, "a", "b", "never-set")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, many)

	require.NoError(t, store.Delete(ctx, "a", "b", "never-set"))
	_, ok, err = store.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err = store.Get(ctx, "c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", v)

	require.NoError(t, store.Delete(ctx, "c"))
}

func TestStore_Snapshots(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	t.Cleanup(func() { _ = store.Clear(ctx, model.ProviderAppleHealth) })

	require.NoError(t, store.Put(ctx, model.ProviderAppleHealth, model.Snapshot{
		Weight: []model.WeightRecord{
			{Date: "2024-03-02", WeightKg: 70.1, Source: model.ProviderAppleHealth},
			{Date: "2024-03-01", WeightKg: 70.4, Source: model.ProviderAppleHealth},
			{Date: "2024-02-28", WeightKg: 70.9, Source: model.ProviderAppleHealth},
		},
	}))
	// Same key replaces the earlier value.
	require.NoError(t, store.Put(ctx, model.ProviderAppleHealth, model.Snapshot{
		Weight: []model.WeightRecord{{Date: "2024-03-02", WeightKg: 69.8, Source: model.ProviderAppleHealth}},
	}))

	r, err := model.NewDateRange("2024-03-01", "2024-03-02")
	require.NoError(t, err)

	snap, err := store.Load(ctx, model.ProviderAppleHealth, r)
	require.NoError(t, err)
	require.Len(t, snap.Weight, 2)
	assert.Equal(t, "2024-03-01", snap.Weight[0].Date)
	assert.InDelta(t, 69.8, snap.Weight[1].WeightKg, 0.001)

	// A later export covering 02-28..03-01 drops whatever it does not carry.
	require.NoError(t, store.Put(ctx, model.ProviderAppleHealth, model.Snapshot{
		Weight: []model.WeightRecord{{Date: "2024-02-28", WeightKg: 71.0, Source: model.ProviderAppleHealth}},
		Water:  []model.WaterRecord{{Date: "2024-03-01", AmountML: 750, Source: model.ProviderAppleHealth}},
	}))
	snap, err = store.Load(ctx, model.ProviderAppleHealth, r)
	require.NoError(t, err)
	require.Len(t, snap.Weight, 1)
	assert.Equal(t, "2024-03-02", snap.Weight[0].Date)
	require.Len(t, snap.Water, 1)

	require.NoError(t, store.Clear(ctx, model.ProviderAppleHealth))
	snap, err = store.Load(ctx, model.ProviderAppleHealth, r)
	require.NoError(t, err)
	assert.Zero(t, snap.Len())
}
