// Package sim provides an in-process simulated data store implementing
// datastore.Driver. It is used by the pool, data access and dispatcher tests
// and by the load harness when no real database is configured.
//
// The simulator can inject per-call latency, fail upcoming calls or dials,
// ignore cancellation (modelling a driver that cannot abort an in-flight
// call) and detects concurrent use of a single connection.
package sim

import (
	"context"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/errors"
)

// CallKind identifies the connection method being simulated
type CallKind string

const (
	CallQuery CallKind = "query"
	CallExec  CallKind = "exec"
	CallPing  CallKind = "ping"
)

// Call describes one simulated driver call
type Call struct {
	Kind      CallKind
	ConnID    int64
	Statement string
	Args      []interface{}
}

// Result is what a Responder returns for a call
type Result struct {
	Columns      []string
	Rows         [][]interface{}
	RowsAffected int64
	LastInsertID int64
}

// Responder produces the result of a call
type Responder func(ctx context.Context, call Call) (*Result, error)

// Options configures the simulator
type Options struct {
	// Latency is added to every query and exec
	Latency time.Duration
	// Jitter adds a uniformly random extra delay in [0, Jitter)
	Jitter time.Duration
	// DialLatency is added to every Dial
	DialLatency time.Duration
	// Uncancellable makes calls run their full latency regardless of ctx
	Uncancellable bool
	// Dialect defaults to datastore.Postgres
	Dialect *datastore.Dialect
	// Responder defaults to EchoResponder
	Responder Responder
}

// Stats reports driver-wide counters
type Stats struct {
	Dials          int64 `json:"dials"`
	Closes         int64 `json:"closes"`
	Open           int64 `json:"open"`
	Calls          int64 `json:"calls"`
	PeakConcurrent int64 `json:"peak_concurrent"`
	ConcurrentUse  int64 `json:"concurrent_use_violations"`
	InjectedFaults int64 `json:"injected_faults"`
	CancelledCalls int64 `json:"cancelled_calls"`
}

// Driver is the simulated datastore.Driver
type Driver struct {
	opts    Options
	latency atomic.Int64

	mu         sync.Mutex
	callFaults []error
	dialFaults []error

	nextConnID     atomic.Int64
	nextInsertID   atomic.Int64
	dials          atomic.Int64
	closes         atomic.Int64
	calls          atomic.Int64
	concurrent     atomic.Int64
	peakConcurrent atomic.Int64
	violations     atomic.Int64
	faults         atomic.Int64
	cancelled      atomic.Int64
}

// New creates a simulator
func New(opts Options) *Driver {
	if opts.Responder == nil {
		opts.Responder = EchoResponder
	}
	d := &Driver{opts: opts}
	d.latency.Store(int64(opts.Latency))
	return d
}

// Name implements datastore.Driver
func (d *Driver) Name() string { return "sim" }

// Dialect implements datastore.Driver
func (d *Driver) Dialect() datastore.Dialect {
	if d.opts.Dialect != nil {
		return *d.opts.Dialect
	}
	return datastore.Postgres
}

// Dial implements datastore.Driver
func (d *Driver) Dial(ctx context.Context) (datastore.Conn, error) {
	if d.opts.DialLatency > 0 {
		if err := sleep(ctx, d.opts.DialLatency, false); err != nil {
			return nil, err
		}
	}
	if err := d.take(&d.dialFaults); err != nil {
		return nil, err
	}
	d.dials.Add(1)
	return &Conn{driver: d, id: d.nextConnID.Add(1)}, nil
}

// Close implements datastore.Driver
func (d *Driver) Close() error { return nil }

// SetLatency changes the per-call latency of subsequent calls
func (d *Driver) SetLatency(latency time.Duration) {
	d.latency.Store(int64(latency))
}

// FailNextCalls makes the next n query/exec/ping calls fail with err.
// Use datastore.BadConn to simulate a lost connection.
func (d *Driver) FailNextCalls(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		d.callFaults = append(d.callFaults, err)
	}
}

// FailNextDials makes the next n dials fail with err
func (d *Driver) FailNextDials(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		d.dialFaults = append(d.dialFaults, err)
	}
}

// Stats returns a snapshot of the driver counters
func (d *Driver) Stats() Stats {
	dials, closes := d.dials.Load(), d.closes.Load()
	return Stats{
		Dials:          dials,
		Closes:         closes,
		Open:           dials - closes,
		Calls:          d.calls.Load(),
		PeakConcurrent: d.peakConcurrent.Load(),
		ConcurrentUse:  d.violations.Load(),
		InjectedFaults: d.faults.Load(),
		CancelledCalls: d.cancelled.Load(),
	}
}

func (d *Driver) take(queue *[]error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	d.faults.Add(1)
	return err
}

func (d *Driver) delay() time.Duration {
	lat := time.Duration(d.latency.Load())
	if d.opts.Jitter > 0 {
		lat += time.Duration(rand.Int64N(int64(d.opts.Jitter)))
	}
	return lat
}

func sleep(ctx context.Context, dur time.Duration, uncancellable bool) error {
	if dur <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	if uncancellable {
		<-t.C
		return nil
	}
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Conn is a simulated connection
type Conn struct {
	driver *Driver
	id     int64
	busy   atomic.Bool
	closed atomic.Bool
}

// ID returns the connection id assigned at dial time
func (c *Conn) ID() int64 { return c.id }

func (c *Conn) call(ctx context.Context, kind CallKind, statement string, args []interface{}) (*Result, error) {
	d := c.driver
	if c.closed.Load() {
		return nil, datastore.BadConn(errors.New(errors.ErrorTypeConnectionLost, "connection closed"))
	}
	if c.busy.CompareAndSwap(false, true) {
		defer c.busy.Store(false)
	} else {
		d.violations.Add(1)
	}

	d.calls.Add(1)
	n := d.concurrent.Add(1)
	defer d.concurrent.Add(-1)
	for {
		peak := d.peakConcurrent.Load()
		if n <= peak || d.peakConcurrent.CompareAndSwap(peak, n) {
			break
		}
	}

	if err := d.take(&d.callFaults); err != nil {
		return nil, err
	}

	if kind == CallPing {
		return &Result{}, ctx.Err()
	}
	if err := sleep(ctx, d.delay(), d.opts.Uncancellable); err != nil {
		d.cancelled.Add(1)
		return nil, err
	}

	res, err := d.opts.Responder(ctx, Call{Kind: kind, ConnID: c.id, Statement: statement, Args: args})
	if err == nil && res == nil {
		res = &Result{}
	}
	return res, err
}

// Query implements datastore.Conn
func (c *Conn) Query(ctx context.Context, statement string, args ...interface{}) (datastore.Rows, error) {
	res, err := c.call(ctx, CallQuery, statement, args)
	if err != nil {
		return nil, err
	}
	return &Rows{columns: res.Columns, rows: res.Rows, pos: -1}, nil
}

// Exec implements datastore.Conn
func (c *Conn) Exec(ctx context.Context, statement string, args ...interface{}) (datastore.ExecResult, error) {
	res, err := c.call(ctx, CallExec, statement, args)
	if err != nil {
		return datastore.ExecResult{}, err
	}
	return datastore.ExecResult{RowsAffected: res.RowsAffected, LastInsertID: res.LastInsertID}, nil
}

// Ping implements datastore.Conn
func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.call(ctx, CallPing, "", nil)
	return err
}

// Close implements datastore.Conn
func (c *Conn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.driver.closes.Add(1)
	}
	return nil
}

// Rows iterates a simulated result set
type Rows struct {
	columns []string
	rows    [][]interface{}
	pos     int
	closed  bool
}

// Columns implements datastore.Rows
func (r *Rows) Columns() []string { return r.columns }

// Next implements datastore.Rows
func (r *Rows) Next() bool {
	if r.closed || r.pos+1 >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

// Scan implements datastore.Rows
func (r *Rows) Scan(dest []interface{}) error {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return errors.New(errors.ErrorTypeQuery, "scan called without a current row")
	}
	row := r.rows[r.pos]
	for i := range dest {
		if i < len(row) {
			dest[i] = row[i]
		} else {
			dest[i] = nil
		}
	}
	return nil
}

// Err implements datastore.Rows
func (r *Rows) Err() error { return nil }

// Close implements datastore.Rows
func (r *Rows) Close() error {
	r.closed = true
	return nil
}

// EchoResponder answers queries with a single row holding the call's
// arguments (columns arg1..argN) and commands with one affected row.
func EchoResponder(_ context.Context, call Call) (*Result, error) {
	if call.Kind == CallExec {
		return &Result{RowsAffected: 1}, nil
	}
	cols := make([]string, len(call.Args))
	for i := range call.Args {
		cols[i] = "arg" + strconv.Itoa(i+1)
	}
	return &Result{Columns: cols, Rows: [][]interface{}{append([]interface{}(nil), call.Args...)}}, nil
}

// StaticResponder returns the same result for every query and exec
func StaticResponder(res *Result) Responder {
	return func(_ context.Context, _ Call) (*Result, error) {
		return res, nil
	}
}

// NextInsertID returns a monotonically increasing id for responders that
// simulate inserts
func (d *Driver) NextInsertID() int64 {
	return d.nextInsertID.Add(1)
}

// IsStatement reports whether statement starts with the given SQL verb,
// ignoring case and leading whitespace
func IsStatement(statement, verb string) bool {
	s := strings.TrimSpace(statement)
	return len(s) >= len(verb) && strings.EqualFold(s[:len(verb)], verb)
}
