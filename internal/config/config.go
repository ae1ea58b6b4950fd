// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	// Embedded zone database for FITSYNC_TIMEZONE on hosts without one.
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

const envPrefix = "FITSYNC_"

// StoreKind selects the durable medium behind the credential and snapshot
// stores.
type StoreKind string

const (
	StoreSQLite StoreKind = "sqlite"
	StoreRedis  StoreKind = "redis"
	StoreMemory StoreKind = "memory"
)

// ProviderCredentials are the client registration values for one provider.
// For the two-step dialect they are the consumer key and secret.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
}

// Configured reports whether both halves of the registration are present.
func (c ProviderCredentials) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// RedisConfig holds connection settings used when Store is StoreRedis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr      string
	AppOrigin       string
	BrokerURL       string
	ProviderTimeout time.Duration

	Store  StoreKind
	DBPath string
	Redis  RedisConfig

	// Providers is keyed by every API provider; unset entries are zero.
	Providers map[model.Provider]ProviderCredentials
	// BaseURLs overrides provider API roots, mostly for staging and tests.
	BaseURLs map[model.Provider]string

	// PrimaryOverrides replaces entries of the default merge policy. Values
	// from FITSYNC_MERGE_POLICY_FILE are applied first, then
	// FITSYNC_PRIMARY_<CATEGORY> variables.
	PrimaryOverrides map[model.Category]model.Provider
	MergePolicyFile  string

	// RefreshInterval is how often expired credentials are renewed in the
	// background. Zero disables the sweep.
	RefreshInterval time.Duration

	// Location is the user's calendar. Timestamped provider data is dated
	// in this zone.
	Location *time.Location
}

// RedirectURL is where provider p sends the user back after authorization.
func (c *Config) RedirectURL(p model.Provider) string {
	return strings.TrimRight(c.AppOrigin, "/") + "/fitness-tracker/" + string(p) + "/callback"
}

// DashboardURL is the page the callback handler redirects to when done.
func (c *Config) DashboardURL() string {
	return strings.TrimRight(c.AppOrigin, "/") + "/fitness-tracker"
}

// LoadDotEnv preloads variables from the given .env files. Missing files are
// skipped; variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ProviderEnvKey returns the variable name holding field for provider p,
// e.g. FITSYNC_SAMSUNGHEALTH_CLIENT_ID.
func ProviderEnvKey(p model.Provider, field string) string {
	return envPrefix + strings.ToUpper(string(p)) + "_" + field
}

// Load reads configuration from environment variables and returns a validated Config.
// Provider registrations are optional; a provider without both
// FITSYNC_<PROVIDER>_CLIENT_ID and FITSYNC_<PROVIDER>_CLIENT_SECRET reports
// itself as not configured. Optional variables with defaults:
// FITSYNC_LISTEN_ADDR (127.0.0.1:8080), FITSYNC_APP_ORIGIN (http://localhost:8080),
// FITSYNC_BROKER_URL (FITSYNC_APP_ORIGIN), FITSYNC_PROVIDER_TIMEOUT (15s),
// FITSYNC_REFRESH_INTERVAL (5m), FITSYNC_TIMEZONE (UTC),
// FITSYNC_STORE (sqlite), FITSYNC_DB_PATH (fitsync.db),
// FITSYNC_REDIS_ADDR (127.0.0.1:6379), FITSYNC_REDIS_DB (0),
// FITSYNC_REDIS_PREFIX (fitsync:).
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      envOr("LISTEN_ADDR", "127.0.0.1:8080"),
		AppOrigin:       envOr("APP_ORIGIN", "http://localhost:8080"),
		ProviderTimeout: 15 * time.Second,
		RefreshInterval: 5 * time.Minute,
		Location:        time.UTC,
		Store:           StoreKind(strings.ToLower(envOr("STORE", string(StoreSQLite)))),
		DBPath:          envOr("DB_PATH", "fitsync.db"),
		Redis: RedisConfig{
			Addr:     envOr("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv(envPrefix + "REDIS_PASSWORD"),
			Prefix:   envOr("REDIS_PREFIX", "fitsync:"),
		},
		Providers:        make(map[model.Provider]ProviderCredentials),
		BaseURLs:         make(map[model.Provider]string),
		PrimaryOverrides: make(map[model.Category]model.Provider),
		MergePolicyFile:  os.Getenv(envPrefix + "MERGE_POLICY_FILE"),
	}
	cfg.BrokerURL = envOr("BROKER_URL", cfg.AppOrigin)

	if v, ok := lookup("PROVIDER_TIMEOUT"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("FITSYNC_PROVIDER_TIMEOUT has invalid duration %q: %w", v, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("FITSYNC_PROVIDER_TIMEOUT must be positive, got %s", parsed)
		}
		cfg.ProviderTimeout = parsed
	}

	if v, ok := lookup("REFRESH_INTERVAL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("FITSYNC_REFRESH_INTERVAL has invalid duration %q: %w", v, err)
		}
		if parsed < 0 {
			return nil, fmt.Errorf("FITSYNC_REFRESH_INTERVAL must not be negative, got %s", parsed)
		}
		cfg.RefreshInterval = parsed
	}

	if v, ok := lookup("TIMEZONE"); ok && v != "" {
		loc, err := time.LoadLocation(v)
		if err != nil {
			return nil, fmt.Errorf("FITSYNC_TIMEZONE has unknown zone %q: %w", v, err)
		}
		cfg.Location = loc
	}

	switch cfg.Store {
	case StoreSQLite, StoreRedis, StoreMemory:
	default:
		return nil, fmt.Errorf("FITSYNC_STORE must be one of sqlite, redis, memory; got %q", cfg.Store)
	}

	if v, ok := lookup("REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil || db < 0 {
			return nil, fmt.Errorf("FITSYNC_REDIS_DB has invalid database number %q", v)
		}
		cfg.Redis.DB = db
	}

	for _, p := range model.Providers() {
		if p.Dialect() == model.DialectNone {
			continue
		}
		cfg.Providers[p] = ProviderCredentials{
			ClientID:     strings.TrimSpace(os.Getenv(ProviderEnvKey(p, "CLIENT_ID"))),
			ClientSecret: strings.TrimSpace(os.Getenv(ProviderEnvKey(p, "CLIENT_SECRET"))),
		}
		if v := os.Getenv(ProviderEnvKey(p, "BASE_URL")); v != "" {
			cfg.BaseURLs[p] = v
		}
	}

	if cfg.MergePolicyFile != "" {
		overrides, err := LoadPolicyFile(cfg.MergePolicyFile)
		if err != nil {
			return nil, fmt.Errorf("FITSYNC_MERGE_POLICY_FILE: %w", err)
		}
		for c, p := range overrides {
			cfg.PrimaryOverrides[c] = p
		}
	}

	for _, c := range model.Categories() {
		key := "PRIMARY_" + strings.ToUpper(string(c))
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		p, err := parsePrimary(v)
		if err != nil {
			return nil, fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		cfg.PrimaryOverrides[c] = p
	}

	return cfg, nil
}

// policyFile is the on-disk merge policy:
//
//	primary:
//	  activity: garmin
//	  weight: fitbit
type policyFile struct {
	Primary map[string]string `yaml:"primary"`
}

// LoadPolicyFile reads primary-provider overrides from a YAML file.
func LoadPolicyFile(path string) (map[model.Category]model.Provider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read merge policy: %w", err)
	}

	var f policyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse merge policy: %w", err)
	}

	out := make(map[model.Category]model.Provider, len(f.Primary))
	for rawCategory, rawProvider := range f.Primary {
		c, err := model.ParseCategory(rawCategory)
		if err != nil {
			return nil, fmt.Errorf("merge policy: %w", err)
		}
		p, err := parsePrimary(rawProvider)
		if err != nil {
			return nil, fmt.Errorf("merge policy %s: %w", c, err)
		}
		out[c] = p
	}
	return out, nil
}

// parsePrimary accepts any provider except the manual source, which can
// never take precedence over a real one.
func parsePrimary(s string) (model.Provider, error) {
	p, err := model.ParseProvider(s)
	if err != nil {
		return "", err
	}
	if p == model.SourceManual {
		return "", fmt.Errorf("%w: manual cannot be a primary provider", model.ErrUnknownProvider)
	}
	return p, nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	return strings.TrimSpace(v), ok
}

func envOr(key, def string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return def
}
