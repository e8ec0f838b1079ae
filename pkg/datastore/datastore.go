// Package datastore defines the generic connection abstraction the pool and
// data access layer are built on. Drivers in pkg/driver implement it for
// PostgreSQL, MySQL, SQLite and an in-process simulator.
package datastore

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrBadConn is wrapped by drivers when the underlying connection is no
// longer usable. The data access layer reports such failures as
// connection_lost and the pool discards the connection.
var ErrBadConn = stderrors.New("datastore: bad connection")

// BadConn wraps cause so that errors.Is(err, ErrBadConn) holds
func BadConn(cause error) error {
	if cause == nil {
		return ErrBadConn
	}
	return fmt.Errorf("%w: %v", ErrBadConn, cause)
}

// Driver dials connections to one data store
type Driver interface {
	// Name returns the driver name (postgres, mysql, sqlite, sim)
	Name() string
	// Dialect describes the SQL flavour spoken by connections of this driver
	Dialect() Dialect
	// Dial opens a new connection
	Dial(ctx context.Context) (Conn, error)
	// Close releases driver-wide resources
	Close() error
}

// Conn is a single connection. Implementations need not be safe for
// concurrent use; the pool guarantees exclusive access.
type Conn interface {
	Query(ctx context.Context, statement string, args ...interface{}) (Rows, error)
	Exec(ctx context.Context, statement string, args ...interface{}) (ExecResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// Rows is a forward-only cursor over a result set
type Rows interface {
	Columns() []string
	Next() bool
	// Scan copies the current row into dest, which has len(Columns()) slots
	Scan(dest []interface{}) error
	Err() error
	Close() error
}

// ExecResult reports the effect of a command
type ExecResult struct {
	RowsAffected int64
	LastInsertID int64
}

// Row is one materialized result row handed to record mappers.
// Values is only valid for the duration of the mapper call.
type Row struct {
	Index   int
	Columns []string
	Values  []interface{}
}

// Get returns the value of the named column
func (r Row) Get(column string) (interface{}, bool) {
	for i, c := range r.Columns {
		if c == column {
			if i < len(r.Values) {
				return r.Values[i], true
			}
			return nil, false
		}
	}
	return nil, false
}

// PlaceholderStyle is how positional parameters are written
type PlaceholderStyle int

const (
	// PlaceholderDollar writes $1, $2, ...
	PlaceholderDollar PlaceholderStyle = iota
	// PlaceholderQuestion writes ?, ?, ...
	PlaceholderQuestion
)

// Dialect captures the SQL differences between supported engines
type Dialect struct {
	Name              string
	Placeholders      PlaceholderStyle
	SupportsReturning bool
}

// Placeholder returns the n-th (1-based) parameter marker
func (d Dialect) Placeholder(n int) string {
	if d.Placeholders == PlaceholderQuestion {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

var (
	// Postgres is the PostgreSQL dialect
	Postgres = Dialect{Name: "postgres", Placeholders: PlaceholderDollar, SupportsReturning: true}
	// MySQL is the MySQL dialect
	MySQL = Dialect{Name: "mysql", Placeholders: PlaceholderQuestion}
	// SQLite is the SQLite dialect (RETURNING requires 3.35+)
	SQLite = Dialect{Name: "sqlite", Placeholders: PlaceholderQuestion, SupportsReturning: true}
)
