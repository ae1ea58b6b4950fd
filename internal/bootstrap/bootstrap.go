// Package bootstrap is the composition root shared by the fitsync binaries.
// It turns a config.Config into a ready Hub with its stores, flows and
// provider clients.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ericfisherdev/fitsync/internal/adapter/driven/broker"
	"github.com/ericfisherdev/fitsync/internal/adapter/driven/memory"
	"github.com/ericfisherdev/fitsync/internal/adapter/driven/provider/api"
	"github.com/ericfisherdev/fitsync/internal/adapter/driven/provider/fitbit"
	"github.com/ericfisherdev/fitsync/internal/adapter/driven/provider/garmin"
	"github.com/ericfisherdev/fitsync/internal/adapter/driven/provider/googlefit"
	"github.com/ericfisherdev/fitsync/internal/adapter/driven/provider/myfitnesspal"
	"github.com/ericfisherdev/fitsync/internal/adapter/driven/provider/samsung"
	"github.com/ericfisherdev/fitsync/internal/adapter/driven/provider/snapshot"
	redisadapter "github.com/ericfisherdev/fitsync/internal/adapter/driven/redis"
	sqliteadapter "github.com/ericfisherdev/fitsync/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/fitsync/internal/application"
	"github.com/ericfisherdev/fitsync/internal/config"
	"github.com/ericfisherdev/fitsync/internal/domain/model"
	"github.com/ericfisherdev/fitsync/internal/domain/port/driven"
	"github.com/ericfisherdev/fitsync/internal/observability"
)

// App is a wired hub plus everything that must be closed with it.
type App struct {
	Hub     *application.Hub
	Metrics *observability.Metrics

	// Refresher renews expired credentials in the background. It is nil
	// when the configured refresh interval is zero.
	Refresher *application.RefreshService

	closers []func() error
}

// Options carry process-level collaborators that do not come from the
// environment.
type Options struct {
	Logger   *slog.Logger
	Registry *prometheus.Registry

	// HTTPClient is the base client for provider and broker calls. Nil uses
	// each adapter's default.
	HTTPClient *http.Client
}

// New opens the configured store and wires every provider into a Hub.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := observability.NewMetrics(opts.Registry)
	if err != nil {
		return nil, err
	}

	app := &App{Metrics: metrics}

	kv, snaps, err := app.openStores(ctx, cfg, logger)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	var tokenBroker *broker.Client
	if opts.HTTPClient != nil {
		tokenBroker, err = broker.NewClientWithHTTPClient(opts.HTTPClient, cfg.BrokerURL)
	} else {
		tokenBroker, err = broker.NewClient(cfg.BrokerURL)
	}
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("create token broker: %w", err)
	}

	creds := application.NewCredentialStore(kv)
	deps := application.FlowDeps{
		Store:   creds,
		Broker:  tokenBroker,
		Logger:  logger,
		Metrics: metrics,
	}

	flows, clients, err := buildProviders(cfg, deps, opts.HTTPClient, logger)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	clients = append(clients, snapshot.NewAppleHealth(snaps), snapshot.NewManual(snaps))

	app.Hub = application.NewHub(application.HubConfig{
		Flows:           flows,
		Clients:         clients,
		Snapshots:       snaps,
		Credentials:     creds,
		Policy:          application.DefaultPolicy().WithOverrides(cfg.PrimaryOverrides),
		ProviderTimeout: cfg.ProviderTimeout,
		Logger:          logger,
		Metrics:         metrics,
	})
	if cfg.RefreshInterval > 0 {
		app.Refresher = application.NewRefreshService(flows, cfg.RefreshInterval, logger)
	}
	return app, nil
}

// Close releases the store connections in reverse opening order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (driven.KVStore, driven.SnapshotStore, error) {
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store, credentials are lost on restart")
		return memory.NewKV(), memory.NewSnapshots(), nil

	case config.StoreRedis:
		store, err := redisadapter.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, store.Close)
		logger.Info("redis store connected", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
		return store, store, nil

	default:
		db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db.Close)
		logger.Info("database opened", "path", cfg.DBPath)

		version, err := db.Migrate(logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("schema ready", "version", version)
		return sqliteadapter.NewKVRepo(db), sqliteadapter.NewSnapshotRepo(db), nil
	}
}

// buildProviders creates one flow manager and one data client per API
// provider. A provider whose client cannot be built still gets its flow so
// its status reads as not configured.
func buildProviders(cfg *config.Config, deps application.FlowDeps, hc *http.Client, logger *slog.Logger) ([]application.FlowManager, []driven.DataClient, error) {
	authCode := func(p model.Provider, authURL string, scopes []string, extra map[string]string) *application.AuthCodeFlow {
		reg := cfg.Providers[p]
		return application.NewAuthCodeFlow(p, application.AuthCodeConfig{
			ClientID:     reg.ClientID,
			ClientSecret: reg.ClientSecret,
			AuthURL:      authURL,
			RedirectURL:  cfg.RedirectURL(p),
			Scopes:       scopes,
			ExtraParams:  extra,
		}, deps)
	}

	fitbitFlow := authCode(model.ProviderFitbit, fitbit.AuthURL, fitbit.Scopes, nil)
	googleFlow := authCode(model.ProviderGoogleFit, googlefit.AuthURL, googlefit.Scopes, googlefit.AuthParams)
	samsungFlow := authCode(model.ProviderSamsungHealth, samsung.AuthURL, samsung.Scopes, nil)
	mfpFlow := authCode(model.ProviderMyFitnessPal, myfitnesspal.AuthURL, myfitnesspal.Scopes, nil)

	garminReg := cfg.Providers[model.ProviderGarmin]
	garminFlow := application.NewTwoStepFlow(model.ProviderGarmin, application.TwoStepConfig{
		ConsumerKey:    garminReg.ClientID,
		ConsumerSecret: garminReg.ClientSecret,
		ConfirmURL:     garmin.ConfirmURL,
		CallbackURL:    cfg.RedirectURL(model.ProviderGarmin),
	}, deps)

	flows := []application.FlowManager{fitbitFlow, googleFlow, samsungFlow, garminFlow, mfpFlow}

	var clients []driven.DataClient
	add := func(p model.Provider, c driven.DataClient, err error) error {
		switch {
		case errors.Is(err, model.ErrNotConfigured):
			logger.Info("provider not configured, data client disabled", "provider", p)
			return nil
		case err != nil:
			return fmt.Errorf("create %s client: %w", p, err)
		}
		clients = append(clients, c)
		return nil
	}

	opts := func(p model.Provider) api.Options {
		return api.Options{
			BaseURL:    cfg.BaseURLs[p],
			HTTPClient: hc,
			Logger:     logger,
			Location:   cfg.Location,
		}
	}

	fb, err := fitbit.NewClient(fitbitFlow, opts(model.ProviderFitbit))
	if err := add(model.ProviderFitbit, fb, err); err != nil {
		return nil, nil, err
	}
	gf, err := googlefit.NewClient(googleFlow, opts(model.ProviderGoogleFit))
	if err := add(model.ProviderGoogleFit, gf, err); err != nil {
		return nil, nil, err
	}
	sh, err := samsung.NewClient(samsungFlow, opts(model.ProviderSamsungHealth))
	if err := add(model.ProviderSamsungHealth, sh, err); err != nil {
		return nil, nil, err
	}
	gc, err := garmin.NewClient(garminFlow, garminReg.ClientID, garminReg.ClientSecret, opts(model.ProviderGarmin))
	if err := add(model.ProviderGarmin, gc, err); err != nil {
		return nil, nil, err
	}
	mfp, err := myfitnesspal.NewClient(mfpFlow, opts(model.ProviderMyFitnessPal))
	if err := add(model.ProviderMyFitnessPal, mfp, err); err != nil {
		return nil, nil, err
	}

	return flows, clients, nil
}
