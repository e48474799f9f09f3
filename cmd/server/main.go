package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	httpAdapter "github.com/iho/eventledger/internal/adapter/http"
	"github.com/iho/eventledger/internal/adapter/http/handler"
	"github.com/iho/eventledger/internal/app"
	"github.com/iho/eventledger/internal/infrastructure/config"
	"github.com/iho/eventledger/internal/infrastructure/logger"
)

const purgeInterval = time.Hour

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("relay stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.SetGlobalLevel(cfg.LogLevel)
	lg := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Component: "relay"})
	log.Logger = lg

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, lg, app.WithRegisterer(prometheus.DefaultRegisterer))
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			lg.Warn().Err(err).Msg("failed to close connections")
		}
	}()

	publisher, err := a.Publisher()
	if err != nil {
		return err
	}
	dispatcher := a.Dispatcher(publisher)
	server := newOpsServer(a, prometheus.DefaultGatherer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(dispatcher.Start(gctx))
	})

	g.Go(func() error {
		return ignoreCanceled(purgeLoop(gctx, a, purgeInterval))
	})

	g.Go(func() error {
		lg.Info().Str("port", cfg.OpsPort).Msg("starting ops server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		lg.Info().Msg("shutting down relay...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	lg.Info().Msg("relay stopped")
	return nil
}

func newOpsServer(a *app.App, gatherer prometheus.Gatherer) *http.Server {
	checks := []handler.Check{{Name: a.Storage.Driver, Ping: a.Storage.Ping}}
	if a.Redis != nil {
		checks = append(checks, handler.Check{
			Name: "redis",
			Ping: func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() },
		})
	}

	router := httpAdapter.NewRouter(httpAdapter.RouterConfig{
		HealthHandler: handler.NewHealthHandler(checks...),
		OutboxHandler: handler.NewOutboxHandler(a.Storage.Outbox),
		Logger:        a.Logger.With().Str("component", "ops").Logger(),
		Metrics:       a.Metrics,
		Gatherer:      gatherer,
	})

	return &http.Server{
		Addr:              ":" + a.Config.OpsPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// purgeLoop drops old processed outbox records every interval until ctx is done.
func purgeLoop(ctx context.Context, a *app.App, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.PurgeOutbox(ctx, time.Now()); err != nil {
				a.Logger.Error().Err(err).Msg("outbox purge failed")
			}
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
