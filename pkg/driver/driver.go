// Package driver selects a datastore.Driver implementation from configuration.
package driver

import (
	"go.uber.org/zap"

	"github.com/ajitpratap0/brick2/pkg/config"
	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/driver/postgres"
	"github.com/ajitpratap0/brick2/pkg/driver/sim"
	"github.com/ajitpratap0/brick2/pkg/driver/sqldb"
	"github.com/ajitpratap0/brick2/pkg/errors"
)

// Open returns the driver named by cfg.Driver. The sim driver answers with
// fixture rows produced by responder, or echoes arguments when responder is nil.
func Open(cfg config.DatabaseConfig, responder sim.Responder, logger *zap.Logger) (datastore.Driver, error) {
	switch cfg.Driver {
	case "postgres":
		d, err := postgres.New(cfg.ConnString(), logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "mysql":
		d, err := sqldb.NewMySQL(cfg.ConnString(), logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "sqlite":
		d, err := sqldb.NewSQLite(cfg.ConnString(), logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "sim":
		return sim.New(sim.Options{
			Latency:   cfg.SimLatency,
			Jitter:    cfg.SimLatency / 2,
			Responder: responder,
		}), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported database driver %q", cfg.Driver)
	}
}
