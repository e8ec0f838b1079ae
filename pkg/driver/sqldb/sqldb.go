// Package sqldb adapts database/sql drivers (MySQL, SQLite) to
// datastore.Driver. Every pooled connection is a dedicated *sql.Conn and the
// *sql.DB keeps no idle connections of its own, so reuse is owned entirely by
// pkg/connpool.
package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/errors"
)

// Driver dials connections through a *sql.DB
type Driver struct {
	name    string
	db      *sql.DB
	dialect datastore.Dialect
	logger  *zap.Logger

	// go-sql-driver/mysql closes the network connection when a statement's
	// context ends, so an interrupted call leaves the *sql.Conn dead
	cancelKills bool
}

// NewMySQL opens a MySQL driver. parseTime is forced on so DATETIME columns
// arrive as time.Time.
func NewMySQL(dsn string, logger *zap.Logger) (*Driver, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid mysql dsn")
	}
	cfg.ParseTime = true
	d, err := open("mysql", "mysql", cfg.FormatDSN(), datastore.MySQL, logger)
	if err != nil {
		return nil, err
	}
	d.cancelKills = true
	return d, nil
}

// NewSQLite opens a SQLite driver on the given file or URI.
// A bare ":memory:" path is not shared between connections.
func NewSQLite(path string, logger *zap.Logger) (*Driver, error) {
	if path == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "sqlite path is required")
	}
	if !strings.Contains(path, "_busy_timeout") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		path += sep + "_busy_timeout=5000"
	}
	return open("sqlite", "sqlite3", path, datastore.SQLite, logger)
}

func open(name, sqlDriver, dsn string, dialect datastore.Dialect, logger *zap.Logger) (*Driver, error) {
	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to open "+name)
	}
	db.SetMaxIdleConns(0)

	return &Driver{
		name:    name,
		db:      db,
		dialect: dialect,
		logger:  logger.With(zap.String("component", name+"_driver")),
	}, nil
}

// Name implements datastore.Driver
func (d *Driver) Name() string { return d.name }

// Dialect implements datastore.Driver
func (d *Driver) Dialect() datastore.Dialect { return d.dialect }

// Dial implements datastore.Driver
func (d *Driver) Dial(ctx context.Context) (datastore.Conn, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, datastore.BadConn(err)
	}
	// database/sql opens lazily; ping forces the physical connection now.
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, datastore.BadConn(err)
	}
	d.logger.Debug("connection established")
	return &Conn{conn: conn, cancelKills: d.cancelKills}, nil
}

// Close implements datastore.Driver
func (d *Driver) Close() error {
	return d.db.Close()
}

// Conn adapts *sql.Conn to datastore.Conn
type Conn struct {
	conn        *sql.Conn
	cancelKills bool
}

// Query implements datastore.Conn
func (c *Conn) Query(ctx context.Context, statement string, args ...interface{}) (datastore.Rows, error) {
	rows, err := c.conn.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, c.classify(err)
	}
	return &Rows{rows: rows, conn: c}, nil
}

// Exec implements datastore.Conn
func (c *Conn) Exec(ctx context.Context, statement string, args ...interface{}) (datastore.ExecResult, error) {
	res, err := c.conn.ExecContext(ctx, statement, args...)
	if err != nil {
		return datastore.ExecResult{}, c.classify(err)
	}
	var out datastore.ExecResult
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	return out, nil
}

// Ping implements datastore.Conn
func (c *Conn) Ping(ctx context.Context) error {
	return c.classify(c.conn.PingContext(ctx))
}

// Close implements datastore.Conn
func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) classify(err error) error {
	if c.cancelKills && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return datastore.BadConn(err)
	}
	return classify(err)
}

// classify marks errors that leave the connection unusable
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) {
		return datastore.BadConn(err)
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrIoErr, sqlite3.ErrCorrupt, sqlite3.ErrCantOpen, sqlite3.ErrNotADB:
			return datastore.BadConn(err)
		}
	}
	return err
}

// Rows adapts *sql.Rows to datastore.Rows
type Rows struct {
	rows    *sql.Rows
	conn    *Conn
	columns []string
	ptrs    []interface{}
}

// Columns implements datastore.Rows
func (r *Rows) Columns() []string {
	if r.columns == nil {
		cols, err := r.rows.Columns()
		if err != nil {
			return nil
		}
		r.columns = cols
	}
	return r.columns
}

// Next implements datastore.Rows
func (r *Rows) Next() bool { return r.rows.Next() }

// Scan implements datastore.Rows
func (r *Rows) Scan(dest []interface{}) error {
	if len(r.ptrs) != len(dest) {
		r.ptrs = make([]interface{}, len(dest))
	}
	for i := range dest {
		r.ptrs[i] = &dest[i]
	}
	return r.rows.Scan(r.ptrs...)
}

// Err implements datastore.Rows
func (r *Rows) Err() error { return r.conn.classify(r.rows.Err()) }

// Close implements datastore.Rows
func (r *Rows) Close() error { return r.rows.Close() }
