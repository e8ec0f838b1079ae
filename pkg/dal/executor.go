// Package dal executes operations on leased connections: it bounds each
// driver call by a deadline, maps rows to records and translates driver
// failures into the error taxonomy.
package dal

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/brick2/pkg/config"
	"github.com/ajitpratap0/brick2/pkg/connpool"
	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/logger"
	"github.com/ajitpratap0/brick2/pkg/models"
	"github.com/ajitpratap0/brick2/pkg/pool"
)

// Executor runs operations. It is safe for concurrent use; the exclusivity
// of each connection is guaranteed by the pool lease.
type Executor struct {
	logger       *zap.Logger
	queryTimeout time.Duration
	cancelGrace  time.Duration
	maxRows      int

	executed       atomic.Int64
	failed         atomic.Int64
	timeouts       atomic.Int64
	cancelled      atomic.Int64
	connectionLost atomic.Int64
	decodeErrors   atomic.Int64
	abandoned      atomic.Int64
	rowsRead       atomic.Int64
}

// Stats counts executor outcomes
type Stats struct {
	Executed       int64 `json:"executed"`
	Failed         int64 `json:"failed"`
	Timeouts       int64 `json:"timeouts"`
	Cancelled      int64 `json:"cancelled"`
	ConnectionLost int64 `json:"connection_lost"`
	DecodeErrors   int64 `json:"decode_errors"`
	Abandoned      int64 `json:"abandoned"`
	RowsRead       int64 `json:"rows_read"`
}

// NewExecutor creates an executor using the pool's query settings
func NewExecutor(cfg config.PoolConfig, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		logger:       logger.With(zap.String("component", "dal")),
		queryTimeout: cfg.QueryTimeout,
		cancelGrace:  cfg.CancelGrace,
		maxRows:      cfg.MaxResultRows,
	}
}

// Execute runs op on conn, which must be leased by the caller. The caller
// keeps ownership and releases the connection afterwards.
//
// The call is bounded by the earliest of the context deadline, op.Deadline
// and the query timeout. When that bound fires, Execute returns a timeout
// (or cancellation) error promptly and gives the driver cancel_grace to
// confirm; a call still running after that is abandoned and the connection
// is closed once it returns.
func (e *Executor) Execute(ctx context.Context, op *Operation, conn *connpool.Conn) (*Result, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, errors.New(errors.ErrorTypeQuery, "no connection").WithDetail("operation", op.Name)
	}

	start := time.Now()
	e.executed.Add(1)

	deadline := start.Add(e.queryTimeout)
	if !op.Deadline.IsZero() && op.Deadline.Before(deadline) {
		deadline = op.Deadline
	}
	ectx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var (
		res  *Result
		err  error
		done = make(chan struct{})
	)
	go func() {
		defer close(done)
		res, err = e.run(ectx, op, conn)
	}()

	select {
	case <-done:
	case <-ectx.Done():
		failure := e.interrupted(ctx, op, start)
		grace := time.NewTimer(e.cancelGrace)
		defer grace.Stop()
		select {
		case <-done:
			if err != nil && errors.Is(err, datastore.ErrBadConn) {
				conn.MarkUnhealthy()
			}
		case <-grace.C:
			conn.CloseAfter(done)
			e.abandoned.Add(1)
			logger.FromContext(ctx, e.logger).Warn("driver did not confirm cancellation, abandoning connection",
				zap.String("operation", op.Name),
				zap.Int64("conn_id", conn.ID()),
				zap.Duration("grace", e.cancelGrace))
		}
		e.failed.Add(1)
		return nil, failure
	}

	if err != nil {
		if ectx.Err() != nil {
			if errors.Is(err, datastore.ErrBadConn) {
				conn.MarkUnhealthy()
			}
			e.failed.Add(1)
			return nil, e.interrupted(ctx, op, start)
		}
		e.failed.Add(1)
		return nil, e.classify(ctx, op, conn, err)
	}

	res.Duration = time.Since(start)
	e.rowsRead.Add(int64(len(res.Records)))
	return res, nil
}

// Stats returns a snapshot of the executor counters
func (e *Executor) Stats() Stats {
	return Stats{
		Executed:       e.executed.Load(),
		Failed:         e.failed.Load(),
		Timeouts:       e.timeouts.Load(),
		Cancelled:      e.cancelled.Load(),
		ConnectionLost: e.connectionLost.Load(),
		DecodeErrors:   e.decodeErrors.Load(),
		Abandoned:      e.abandoned.Load(),
		RowsRead:       e.rowsRead.Load(),
	}
}

func (e *Executor) run(ctx context.Context, op *Operation, conn *connpool.Conn) (*Result, error) {
	raw := conn.Raw()

	if op.Kind == KindCommand {
		out, err := raw.Exec(ctx, op.Statement, op.Args...)
		if err != nil {
			return nil, err
		}
		return &Result{RowsAffected: out.RowsAffected, LastInsertID: out.LastInsertID}, nil
	}

	rows, err := raw.Query(ctx, op.Statement, op.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	limit := e.maxRows
	if op.MaxRows > 0 {
		limit = op.MaxRows
	}

	columns := rows.Columns()
	vals := pool.GetValues(len(columns))
	defer pool.PutValues(vals)

	var records []models.Record
	for index := 0; rows.Next(); index++ {
		if limit > 0 && index >= limit {
			return nil, errors.Newf(errors.ErrorTypeQuery, "result exceeds %d rows", limit).
				WithDetail("operation", op.Name)
		}
		if err := rows.Scan(*vals); err != nil {
			return nil, err
		}
		rec, err := decode(op.Mapper, datastore.Row{Index: index, Columns: columns, Values: *vals})
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &Result{Records: records, RowsAffected: int64(len(records))}, nil
}

// decode invokes the mapper, turning failures and panics into decode errors
func decode(mapper models.Decoder, row datastore.Row) (rec models.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = errors.Newf(errors.ErrorTypeDecode, "mapper panicked: %v", r).
				WithDetail("row", row.Index)
		}
	}()

	rec, err = mapper(row)
	if err != nil && !errors.IsType(err, errors.ErrorTypeDecode) {
		err = errors.Wrap(err, errors.ErrorTypeDecode, "failed to decode row").WithDetail("row", row.Index)
	}
	return rec, err
}

func (e *Executor) interrupted(ctx context.Context, op *Operation, start time.Time) error {
	if ctx.Err() == context.Canceled {
		e.cancelled.Add(1)
		return errors.New(errors.ErrorTypeCancelled, "operation cancelled by caller").
			WithDetail("operation", op.Name)
	}
	e.timeouts.Add(1)
	return errors.New(errors.ErrorTypeTimeout, "operation deadline elapsed").
		WithDetail("operation", op.Name).
		WithDetail("elapsed", time.Since(start).String())
}

func (e *Executor) classify(ctx context.Context, op *Operation, conn *connpool.Conn, err error) error {
	switch {
	case errors.Is(err, datastore.ErrBadConn):
		conn.MarkUnhealthy()
		e.connectionLost.Add(1)
		return errors.Wrap(err, errors.ErrorTypeConnectionLost, "connection lost during operation").
			WithDetail("operation", op.Name).
			WithDetail("conn_id", conn.ID())
	case errors.IsType(err, errors.ErrorTypeDecode):
		e.decodeErrors.Add(1)
		fields := []zap.Field{zap.String("operation", op.Name), zap.Error(err)}
		var typed *errors.Error
		if errors.As(err, &typed) {
			fields = append(fields, zap.Any("details", typed.Details))
		}
		logger.FromContext(ctx, e.logger).Error("failed to map row", fields...)
		return err
	case errors.IsType(err, errors.ErrorTypeQuery):
		return err
	default:
		return errors.Wrap(err, errors.ErrorTypeQuery, "statement failed").
			WithDetail("operation", op.Name)
	}
}
