// Package dispatcher admits operations, leases a connection for each one,
// hands it to the data access layer and reports the outcome. It is the only
// entry point the HTTP layer and the load harness use to reach the store.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/brick2/pkg/config"
	"github.com/ajitpratap0/brick2/pkg/connpool"
	"github.com/ajitpratap0/brick2/pkg/dal"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/logger"
	"github.com/ajitpratap0/brick2/pkg/metrics"
	"github.com/ajitpratap0/brick2/pkg/observability"
)

// Options wires a Dispatcher. Pool and Executor are required; the rest
// fall back to no-op implementations.
type Options struct {
	Pool     *connpool.Pool
	Executor *dal.Executor
	Config   config.DispatcherConfig
	Logger   *zap.Logger
	Tracer   trace.Tracer
	Metrics  *metrics.Registry
}

// Dispatcher runs operations under admission control
type Dispatcher struct {
	pool     *connpool.Pool
	executor *dal.Executor
	inflight *InFlightSet
	logger   *zap.Logger
	tracer   trace.Tracer
	metrics  *metrics.Registry
	slow     *observability.LatencyLogger

	received  atomic.Int64
	rejected  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	mu       sync.Mutex
	failures map[string]int64
}

// Stats is a point-in-time view of the dispatcher
type Stats struct {
	InFlight     int              `json:"in_flight"`
	Ceiling      int              `json:"ceiling"`
	PeakInFlight int              `json:"peak_in_flight"`
	ShuttingDown bool             `json:"shutting_down"`
	Received     int64            `json:"received"`
	Rejected     int64            `json:"rejected"`
	Completed    int64            `json:"completed"`
	Failed       int64            `json:"failed"`
	Failures     map[string]int64 `json:"failures_by_type"`
	States       map[string]int   `json:"in_flight_by_state"`
	Pool         connpool.Stats   `json:"pool"`
	Executor     dal.Stats        `json:"executor"`
}

// New creates a dispatcher
func New(opts Options) (*Dispatcher, error) {
	if opts.Pool == nil || opts.Executor == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "dispatcher requires a pool and an executor")
	}
	if opts.Config.MaxInFlight < 1 {
		return nil, errors.New(errors.ErrorTypeConfig, "max_in_flight must be >= 1").
			WithDetail("max_in_flight", opts.Config.MaxInFlight)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = (*observability.Provider)(nil).Tracer()
	}

	d := &Dispatcher{
		pool:     opts.Pool,
		executor: opts.Executor,
		inflight: NewInFlightSet(opts.Config.MaxInFlight),
		logger:   log.With(zap.String("component", "dispatcher")),
		tracer:   tracer,
		metrics:  opts.Metrics,
		slow:     observability.NewLatencyLogger(log, opts.Config.SlowThreshold),
		failures: make(map[string]int64),
	}
	d.metrics.RegisterPool(opts.Pool.Stats)
	return d, nil
}

// Dispatch admits op, leases a connection, executes op and releases the
// connection before returning. A full or shutting-down dispatcher rejects op
// without touching the pool.
func (d *Dispatcher) Dispatch(ctx context.Context, op *dal.Operation) (*dal.Result, error) {
	start := time.Now()
	d.received.Add(1)

	name := operationName(op)
	ctx, span := observability.StartSpan(ctx, d.tracer, "dispatch "+name)
	span.SetAttribute("operation", name)

	e, reason := d.inflight.admit(name, logger.RequestID(ctx), start)
	if e == nil {
		d.rejected.Add(1)
		d.metrics.ObserveRejected()
		err := errors.Rejected(reason, d.inflight.Ceiling())
		d.finish(ctx, span, name, StateRejected, start, err)
		return nil, err
	}
	d.metrics.SetInFlight(d.inflight.Len())
	defer func() {
		d.inflight.remove(e)
		d.metrics.SetInFlight(d.inflight.Len())
	}()

	if err := op.Validate(); err != nil {
		d.finish(ctx, span, name, StateFailed, start, err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		err = cancelledWhileQueued(err)
		d.finish(ctx, span, name, StateFailed, start, err)
		return nil, err
	}

	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		d.finish(ctx, span, name, StateFailed, start, err)
		return nil, err
	}
	span.AddEvent("acquired", attribute.Int64("conn_id", conn.ID()))
	d.inflight.transition(e, StateExecuting)

	res, err := d.executor.Execute(ctx, op, conn)
	conn.Release()
	if err != nil {
		d.finish(ctx, span, name, StateFailed, start, err)
		return nil, err
	}

	span.SetAttribute("rows", res.RowsAffected)
	d.finish(ctx, span, name, StateCompleted, start, nil)
	return res, nil
}

func (d *Dispatcher) finish(ctx context.Context, span *observability.Span, name string, state State, start time.Time, err error) {
	elapsed := time.Since(start)

	switch state {
	case StateCompleted:
		d.completed.Add(1)
	case StateFailed:
		d.failed.Add(1)
		kind := string(errors.TypeOf(err))
		d.mu.Lock()
		d.failures[kind]++
		d.mu.Unlock()

		level := zapcore.DebugLevel
		switch errors.TypeOf(err) {
		case errors.ErrorTypeConnectionLost, errors.ErrorTypeInternal:
			level = zapcore.WarnLevel
		}
		fields := append([]zap.Field{zap.String("operation", name), zap.Duration("elapsed", elapsed)}, errors.Fields(err)...)
		logger.FromContext(ctx, d.logger).Log(level, "dispatch failed", fields...)
	}

	span.SetAttribute("outcome", state.String())
	span.End(err)
	d.metrics.ObserveDispatch(name, state.String(), elapsed)
	if state != StateRejected {
		d.slow.Log(name, elapsed, zap.String("request_id", logger.RequestID(ctx)))
	}
}

// InFlight returns the number of admitted, unfinished requests
func (d *Dispatcher) InFlight() int {
	return d.inflight.Len()
}

// Snapshot lists the in-flight requests with their state and age
func (d *Dispatcher) Snapshot() []RequestInfo {
	return d.inflight.Snapshot(time.Now())
}

// Stats returns dispatcher, pool and executor counters
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	failures := make(map[string]int64, len(d.failures))
	for k, v := range d.failures {
		failures[k] = v
	}
	d.mu.Unlock()

	return Stats{
		InFlight:     d.inflight.Len(),
		Ceiling:      d.inflight.Ceiling(),
		PeakInFlight: d.inflight.Peak(),
		ShuttingDown: d.inflight.Closed(),
		Received:     d.received.Load(),
		Rejected:     d.rejected.Load(),
		Completed:    d.completed.Load(),
		Failed:       d.failed.Load(),
		Failures:     failures,
		States:       d.inflight.counts(),
		Pool:         d.pool.Stats(),
		Executor:     d.executor.Stats(),
	}
}

// Pool returns the connection pool behind the dispatcher
func (d *Dispatcher) Pool() *connpool.Pool { return d.pool }

// Shutdown stops admitting requests, waits for in-flight requests to finish
// and closes the pool. When ctx ends first the pool is still closed and the
// drain error is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.logger.Info("dispatcher shutting down", zap.Int("in_flight", d.inflight.Len()))

	drained := d.inflight.close()
	select {
	case <-drained:
	case <-ctx.Done():
		_ = d.pool.Close(ctx)
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "in-flight requests did not drain").
			WithDetail("in_flight", d.inflight.Len())
	}

	if err := d.pool.Close(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "connection pool did not close")
	}
	d.logger.Info("dispatcher stopped",
		zap.Int64("completed", d.completed.Load()),
		zap.Int64("failed", d.failed.Load()),
		zap.Int64("rejected", d.rejected.Load()))
	return nil
}

func operationName(op *dal.Operation) string {
	if op == nil || op.Name == "" {
		return "unnamed"
	}
	return op.Name
}

func cancelledWhileQueued(err error) error {
	if err == context.DeadlineExceeded {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "deadline elapsed before execution")
	}
	return errors.Wrap(err, errors.ErrorTypeCancelled, "cancelled before execution")
}
