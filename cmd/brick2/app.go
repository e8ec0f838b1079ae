package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/brick2/internal/dispatcher"
	"github.com/ajitpratap0/brick2/pkg/config"
	"github.com/ajitpratap0/brick2/pkg/connpool"
	"github.com/ajitpratap0/brick2/pkg/dal"
	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/driver"
	"github.com/ajitpratap0/brick2/pkg/loadtest"
	"github.com/ajitpratap0/brick2/pkg/logger"
	"github.com/ajitpratap0/brick2/pkg/observability"
)

// fixtureRows is the listing size the sim driver answers with
const fixtureRows = 50

// app holds the process-wide stack from driver to dispatcher
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	obs        *observability.Provider
	driver     datastore.Driver
	pool       *connpool.Pool
	dispatcher *dispatcher.Dispatcher
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, err
	}
	log := logger.Get()

	obs, err := observability.Init(observability.Options{
		Config:      cfg.Observability,
		Version:     version,
		Environment: cfg.Server.Environment,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}

	drv, err := driver.Open(cfg.Database, loadtest.NewFixture(fixtureRows).Respond, log)
	if err != nil {
		return nil, err
	}

	pool, err := connpool.New(drv, cfg.Pool, log)
	if err != nil {
		_ = drv.Close()
		return nil, err
	}
	if err := pool.Warm(ctx); err != nil {
		log.Warn("failed to warm connection pool", zap.Error(err))
	}

	d, err := dispatcher.New(dispatcher.Options{
		Pool:     pool,
		Executor: dal.NewExecutor(cfg.Pool, log),
		Config:   cfg.Dispatcher,
		Logger:   log,
		Tracer:   obs.Tracer(),
		Metrics:  obs.Metrics(),
	})
	if err != nil {
		_ = pool.Close(ctx)
		_ = drv.Close()
		return nil, err
	}

	log.Info("data access stack ready",
		zap.String("driver", drv.Name()),
		zap.String("dialect", drv.Dialect().Name),
		zap.Int("pool_min", cfg.Pool.Min),
		zap.Int("pool_max", cfg.Pool.Max),
		zap.Int("max_in_flight", cfg.Dispatcher.MaxInFlight))

	return &app{cfg: cfg, log: log, obs: obs, driver: drv, pool: pool, dispatcher: d}, nil
}

// close drains the dispatcher, then closes the driver and flushes telemetry
func (a *app) close(ctx context.Context) error {
	err := a.dispatcher.Shutdown(ctx)
	if cerr := a.driver.Close(); cerr != nil {
		a.log.Warn("failed to close driver", zap.Error(cerr))
	}
	if serr := a.obs.Shutdown(ctx); serr != nil {
		a.log.Warn("failed to flush telemetry", zap.Error(serr))
	}
	_ = logger.Sync()
	return err
}
