package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

// allConfigKeys lists every FITSYNC_ env var that Load() reads.
func allConfigKeys() []string {
	keys := []string{
		"FITSYNC_LISTEN_ADDR",
		"FITSYNC_APP_ORIGIN",
		"FITSYNC_BROKER_URL",
		"FITSYNC_PROVIDER_TIMEOUT",
		"FITSYNC_REFRESH_INTERVAL",
		"FITSYNC_TIMEZONE",
		"FITSYNC_STORE",
		"FITSYNC_DB_PATH",
		"FITSYNC_REDIS_ADDR",
		"FITSYNC_REDIS_PASSWORD",
		"FITSYNC_REDIS_DB",
		"FITSYNC_REDIS_PREFIX",
		"FITSYNC_MERGE_POLICY_FILE",
	}
	for _, p := range model.Providers() {
		keys = append(keys,
			ProviderEnvKey(p, "CLIENT_ID"),
			ProviderEnvKey(p, "CLIENT_SECRET"),
			ProviderEnvKey(p, "BASE_URL"),
		)
	}
	for _, c := range model.Categories() {
		keys = append(keys, "FITSYNC_PRIMARY_"+strings.ToUpper(string(c)))
	}
	return keys
}

// isolateConfigEnv saves and unsets all FITSYNC_ env vars so tests don't
// inherit values from the host environment (e.g. a running dev server).
// t.Cleanup restores original values after the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys() {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "http://localhost:8080", cfg.AppOrigin)
	assert.Equal(t, cfg.AppOrigin, cfg.BrokerURL)
	assert.Equal(t, 15*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 5*time.Minute, cfg.RefreshInterval)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "fitsync.db", cfg.DBPath)
	assert.Equal(t, "fitsync:", cfg.Redis.Prefix)
	assert.Empty(t, cfg.PrimaryOverrides)
	assert.False(t, cfg.Providers[model.ProviderFitbit].Configured())
	assert.NotContains(t, cfg.Providers, model.ProviderAppleHealth)
}

func TestLoad_Success(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("FITSYNC_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("FITSYNC_APP_ORIGIN", "https://fit.example.com/")
	t.Setenv("FITSYNC_BROKER_URL", "https://broker.example.com")
	t.Setenv("FITSYNC_PROVIDER_TIMEOUT", "5s")
	t.Setenv("FITSYNC_REFRESH_INTERVAL", "0")
	t.Setenv("FITSYNC_TIMEZONE", "America/New_York")
	t.Setenv("FITSYNC_STORE", "Redis")
	t.Setenv("FITSYNC_REDIS_DB", "3")
	t.Setenv("FITSYNC_FITBIT_CLIENT_ID", "fb-id")
	t.Setenv("FITSYNC_FITBIT_CLIENT_SECRET", "fb-secret")
	t.Setenv("FITSYNC_SAMSUNGHEALTH_CLIENT_ID", "only-id")
	t.Setenv("FITSYNC_GARMIN_BASE_URL", "http://127.0.0.1:9999")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "https://broker.example.com", cfg.BrokerURL)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.Zero(t, cfg.RefreshInterval)
	require.NotNil(t, cfg.Location)
	assert.Equal(t, "America/New_York", cfg.Location.String())
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.Providers[model.ProviderFitbit].Configured())
	assert.False(t, cfg.Providers[model.ProviderSamsungHealth].Configured())
	assert.Equal(t, "http://127.0.0.1:9999", cfg.BaseURLs[model.ProviderGarmin])
	assert.Equal(t, "https://fit.example.com/fitness-tracker/fitbit/callback", cfg.RedirectURL(model.ProviderFitbit))
	assert.Equal(t, "https://fit.example.com/fitness-tracker", cfg.DashboardURL())
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad timeout", "FITSYNC_PROVIDER_TIMEOUT", "soon"},
		{"zero timeout", "FITSYNC_PROVIDER_TIMEOUT", "0s"},
		{"negative refresh interval", "FITSYNC_REFRESH_INTERVAL", "-1m"},
		{"unknown timezone", "FITSYNC_TIMEZONE", "Mars/Olympus_Mons"},
		{"bad store", "FITSYNC_STORE", "postgres"},
		{"bad redis db", "FITSYNC_REDIS_DB", "-1"},
		{"unknown primary", "FITSYNC_PRIMARY_ACTIVITY", "strava"},
		{"manual primary", "FITSYNC_PRIMARY_WEIGHT", "manual"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateConfigEnv(t)
			t.Setenv(tt.key, tt.val)

			cfg, err := Load()

			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_PrimaryOverrides(t *testing.T) {
	isolateConfigEnv(t)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("primary:\n  activity: garmin\n  heart-rate: samsunghealth\n"), 0o600))
	t.Setenv("FITSYNC_MERGE_POLICY_FILE", path)
	t.Setenv("FITSYNC_PRIMARY_ACTIVITY", "googlefit")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, map[model.Category]model.Provider{
		model.CategoryActivity:  model.ProviderGoogleFit,
		model.CategoryHeartRate: model.ProviderSamsungHealth,
	}, cfg.PrimaryOverrides, "environment wins over the policy file")
}

func TestLoadPolicyFile_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	_, err := LoadPolicyFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadPolicyFile(write("bad.yaml", "primary: [unterminated"))
	assert.ErrorContains(t, err, "parse merge policy")

	_, err = LoadPolicyFile(write("category.yaml", "primary:\n  steps: fitbit\n"))
	assert.ErrorIs(t, err, model.ErrUnsupportedCategory)

	_, err = LoadPolicyFile(write("provider.yaml", "primary:\n  sleep: whoop\n"))
	assert.ErrorIs(t, err, model.ErrUnknownProvider)
}

func TestLoadDotEnv(t *testing.T) {
	isolateConfigEnv(t)

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FITSYNC_DB_PATH=/data/fit.db\nFITSYNC_LISTEN_ADDR=:7000\n"), 0o600))
	t.Setenv("FITSYNC_LISTEN_ADDR", ":6000")

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env"), path))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/fit.db", cfg.DBPath)
	assert.Equal(t, ":6000", cfg.ListenAddr, "existing environment wins")
}
