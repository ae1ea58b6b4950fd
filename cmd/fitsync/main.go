package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	httphandler "github.com/ericfisherdev/fitsync/internal/adapter/driving/http"
	"github.com/ericfisherdev/fitsync/internal/bootstrap"
	"github.com/ericfisherdev/fitsync/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration, with .env files filling in unset variables.
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"app_origin", cfg.AppOrigin,
		"store", cfg.Store,
		"provider_timeout", cfg.ProviderTimeout,
		"timezone", cfg.Location,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Metrics registry with Go runtime and process collectors.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 4. Open the store and wire flows, clients and the hub.
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:   slog.Default(),
		Registry: registry,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			slog.Error("error closing stores", "error", closeErr)
		}
	}()

	for p, reg := range cfg.Providers {
		if !reg.Configured() {
			slog.Info("provider not configured", "provider", p)
		}
	}

	if app.Refresher != nil {
		go app.Refresher.Start(ctx)
		slog.Info("refresh service started", "interval", cfg.RefreshInterval)
	}

	// 5. Create HTTP handler and register routes.
	apiHandler := httphandler.NewHandler(app.Hub, cfg.DashboardURL(), slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default(), httphandler.ServerOptions{
		Metrics:  app.Metrics.Handler(),
		Observer: app.Metrics,
	})

	// WriteTimeout leaves room for a fan-out that runs up to the provider timeout.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.ProviderTimeout + 15*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	// 6. Log startup complete.
	slog.Info("fitsync started", "listen_addr", cfg.ListenAddr)

	// 7. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 8. Graceful shutdown with 10s timeout for in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
