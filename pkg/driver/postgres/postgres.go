// Package postgres implements datastore.Driver on top of pgx. Each pooled
// connection is a dedicated *pgx.Conn; pooling is left to pkg/connpool.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/errors"
)

const closeTimeout = 5 * time.Second

// Driver dials PostgreSQL connections
type Driver struct {
	config *pgx.ConnConfig
	logger *zap.Logger
}

// New parses connString and returns a driver. No connection is opened.
func New(connString string, logger *zap.Logger) (*Driver, error) {
	cfg, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid postgres connection string")
	}

	return &Driver{
		config: cfg,
		logger: logger.With(zap.String("component", "postgres_driver")),
	}, nil
}

// Name implements datastore.Driver
func (d *Driver) Name() string { return "postgres" }

// Dialect implements datastore.Driver
func (d *Driver) Dialect() datastore.Dialect { return datastore.Postgres }

// Dial implements datastore.Driver
func (d *Driver) Dial(ctx context.Context) (datastore.Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, d.config.Copy())
	if err != nil {
		return nil, datastore.BadConn(err)
	}
	d.logger.Debug("connection established",
		zap.String("host", d.config.Host),
		zap.Uint32("pid", conn.PgConn().PID()))
	return &Conn{conn: conn}, nil
}

// Close implements datastore.Driver
func (d *Driver) Close() error { return nil }

// Conn adapts *pgx.Conn to datastore.Conn
type Conn struct {
	conn *pgx.Conn
}

// Query implements datastore.Conn
func (c *Conn) Query(ctx context.Context, statement string, args ...interface{}) (datastore.Rows, error) {
	rows, err := c.conn.Query(ctx, statement, args...)
	if err != nil {
		return nil, c.classify(err)
	}
	return &Rows{rows: rows, conn: c}, nil
}

// Exec implements datastore.Conn
func (c *Conn) Exec(ctx context.Context, statement string, args ...interface{}) (datastore.ExecResult, error) {
	tag, err := c.conn.Exec(ctx, statement, args...)
	if err != nil {
		return datastore.ExecResult{}, c.classify(err)
	}
	return datastore.ExecResult{RowsAffected: tag.RowsAffected()}, nil
}

// Ping implements datastore.Conn
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.conn.Ping(ctx); err != nil {
		return c.classify(err)
	}
	return nil
}

// Close implements datastore.Conn
func (c *Conn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return c.conn.Close(ctx)
}

// classify marks errors that leave the connection unusable
func (c *Conn) classify(err error) error {
	if err == nil {
		return nil
	}
	if isContextError(err) {
		// pgx tears the connection down when a query is interrupted
		if c.conn.IsClosed() {
			return datastore.BadConn(err)
		}
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}
	if c.conn.IsClosed() || pgconn.SafeToRetry(err) {
		return datastore.BadConn(err)
	}
	return err
}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		pgconn.Timeout(err)
}

// Rows adapts pgx.Rows to datastore.Rows
type Rows struct {
	rows    pgx.Rows
	conn    *Conn
	columns []string
}

// Columns implements datastore.Rows
func (r *Rows) Columns() []string {
	if r.columns == nil {
		fields := r.rows.FieldDescriptions()
		r.columns = make([]string, len(fields))
		for i, f := range fields {
			r.columns[i] = f.Name
		}
	}
	return r.columns
}

// Next implements datastore.Rows
func (r *Rows) Next() bool { return r.rows.Next() }

// Scan implements datastore.Rows. NUMERIC values are converted to float64
// so record mappers only see plain Go types.
func (r *Rows) Scan(dest []interface{}) error {
	values, err := r.rows.Values()
	if err != nil {
		return err
	}
	for i := range dest {
		if i >= len(values) {
			dest[i] = nil
			continue
		}
		dest[i] = normalize(values[i])
	}
	return nil
}

// Err implements datastore.Rows
func (r *Rows) Err() error { return r.conn.classify(r.rows.Err()) }

// Close implements datastore.Rows
func (r *Rows) Close() error {
	r.rows.Close()
	return nil
}

func normalize(v interface{}) interface{} {
	switch n := v.(type) {
	case pgtype.Numeric:
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case int32:
		return int64(n)
	case int16:
		return int64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}
