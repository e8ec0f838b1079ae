package dal

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/brick2/pkg/config"
	"github.com/ajitpratap0/brick2/pkg/connpool"
	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/driver/sim"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/models"
)

func poolConfig() config.PoolConfig {
	return config.PoolConfig{
		Max:            4,
		AcquireTimeout: time.Second,
		QueryTimeout:   time.Second,
		CancelGrace:    50 * time.Millisecond,
		MaxResultRows:  100,
	}
}

type fixture struct {
	drv  *sim.Driver
	pool *connpool.Pool
	exec *Executor
}

func newFixture(t *testing.T, opts sim.Options, cfg config.PoolConfig) *fixture {
	t.Helper()
	drv := sim.New(opts)
	p, err := connpool.New(drv, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return &fixture{drv: drv, pool: p, exec: NewExecutor(cfg, zaptest.NewLogger(t))}
}

func (f *fixture) execute(t *testing.T, ctx context.Context, op *Operation) (*Result, *connpool.Conn, error) {
	t.Helper()
	conn, err := f.pool.Acquire(context.Background())
	require.NoError(t, err)
	defer conn.Release()
	res, err := f.exec.Execute(ctx, op, conn)
	return res, conn, err
}

func countRows(n int) *sim.Result {
	res := &sim.Result{Columns: []string{"count"}}
	for i := 0; i < n; i++ {
		res.Rows = append(res.Rows, []interface{}{int64(i)})
	}
	return res
}

func countQuery() *Operation {
	return &Operation{Name: "count", Kind: KindQuery, Statement: "SELECT count", Mapper: models.DecodeCount}
}

func TestExecuteQueryMapsRows(t *testing.T) {
	f := newFixture(t, sim.Options{Responder: sim.StaticResponder(countRows(3))}, poolConfig())

	res, _, err := f.execute(t, context.Background(), countQuery())
	require.NoError(t, err)
	require.Len(t, res.Records, 3)
	assert.Equal(t, models.Count{N: 2}, res.Records[2])
	assert.Equal(t, int64(3), res.RowsAffected)
	assert.Greater(t, res.Duration, time.Duration(0))

	first, ok := res.First()
	require.True(t, ok)
	assert.Equal(t, models.Count{N: 0}, first)
	assert.Equal(t, int64(3), f.exec.Stats().RowsRead)
}

func TestExecuteCommand(t *testing.T) {
	f := newFixture(t, sim.Options{
		Responder: sim.StaticResponder(&sim.Result{RowsAffected: 4, LastInsertID: 9}),
	}, poolConfig())

	res, _, err := f.execute(t, context.Background(), &Operation{
		Name: "touch", Kind: KindCommand, Statement: "UPDATE campaigns SET status = $1", Args: []interface{}{"paused"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.RowsAffected)
	assert.Equal(t, int64(9), res.LastInsertID)
	assert.Empty(t, res.Records)
}

func TestMalformedOperationsNeverReachDriver(t *testing.T) {
	f := newFixture(t, sim.Options{}, poolConfig())

	ops := map[string]*Operation{
		"empty statement": {Name: "a", Kind: KindQuery, Statement: "  ", Mapper: models.DecodeCount},
		"no mapper":       {Name: "b", Kind: KindQuery, Statement: "SELECT 1"},
		"bad kind":        {Name: "c", Kind: Kind(9), Statement: "SELECT 1"},
		"negative limit":  {Name: "d", Kind: KindCommand, Statement: "DELETE", MaxRows: -1},
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			_, conn, err := f.execute(t, context.Background(), op)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
			assert.False(t, conn.Unhealthy())
		})
	}
	assert.Zero(t, f.drv.Stats().Calls)

	_, err := f.exec.Execute(context.Background(), nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
}

func TestDeadlineElapsesWithTimeout(t *testing.T) {
	cfg := poolConfig()
	cfg.QueryTimeout = 30 * time.Millisecond
	f := newFixture(t, sim.Options{Latency: time.Second}, cfg)

	start := time.Now()
	_, conn, err := f.execute(t, context.Background(), countQuery())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.False(t, conn.Unhealthy(), "a confirmed cancellation keeps the connection")

	stats := f.pool.Stats()
	assert.Equal(t, 0, stats.Leased)
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, int64(1), f.exec.Stats().Timeouts)
}

func TestOperationDeadlineIsHonoured(t *testing.T) {
	f := newFixture(t, sim.Options{Latency: time.Second}, poolConfig())

	op := countQuery()
	op.Deadline = time.Now().Add(20 * time.Millisecond)
	_, _, err := f.execute(t, context.Background(), op)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func TestCallerCancellation(t *testing.T) {
	f := newFixture(t, sim.Options{Latency: time.Second}, poolConfig())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, _, err := f.execute(t, ctx, countQuery())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
	assert.Equal(t, int64(1), f.exec.Stats().Cancelled)
}

func TestUnconfirmedCancellationAbandonsConnection(t *testing.T) {
	cfg := poolConfig()
	cfg.QueryTimeout = 20 * time.Millisecond
	cfg.CancelGrace = 10 * time.Millisecond
	f := newFixture(t, sim.Options{Latency: 200 * time.Millisecond, Uncancellable: true}, cfg)

	start := time.Now()
	_, conn, err := f.execute(t, context.Background(), countQuery())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.Less(t, elapsed, 150*time.Millisecond)
	assert.True(t, conn.Unhealthy())
	assert.Equal(t, int64(1), f.exec.Stats().Abandoned)

	// The slot stays reserved until the driver call returns
	assert.Equal(t, 1, f.pool.Stats().Total)
	assert.Eventually(t, func() bool {
		return f.pool.Stats().Total == 0 && f.drv.Stats().Closes == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBadConnectionIsConnectionLost(t *testing.T) {
	f := newFixture(t, sim.Options{}, poolConfig())
	f.drv.FailNextCalls(1, datastore.BadConn(stderrors.New("reset by peer")))

	_, conn, err := f.execute(t, context.Background(), countQuery())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnectionLost))
	assert.True(t, errors.Is(err, datastore.ErrBadConn))
	assert.True(t, conn.Unhealthy())

	assert.Equal(t, 0, f.pool.Stats().Idle)
}

func TestStatementFailureIsQueryError(t *testing.T) {
	f := newFixture(t, sim.Options{}, poolConfig())
	f.drv.FailNextCalls(1, stderrors.New("syntax error at or near FORM"))

	_, conn, err := f.execute(t, context.Background(), countQuery())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
	assert.False(t, conn.Unhealthy())
}

func TestMapperFailures(t *testing.T) {
	f := newFixture(t, sim.Options{Responder: sim.StaticResponder(countRows(2))}, poolConfig())

	t.Run("error", func(t *testing.T) {
		op := countQuery()
		op.Mapper = func(row datastore.Row) (models.Record, error) {
			return nil, stderrors.New("boom")
		}
		_, _, err := f.execute(t, context.Background(), op)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeDecode))
	})

	t.Run("panic", func(t *testing.T) {
		op := countQuery()
		op.Mapper = func(row datastore.Row) (models.Record, error) {
			if row.Index == 1 {
				panic("index out of range")
			}
			return models.DecodeCount(row)
		}
		_, conn, err := f.execute(t, context.Background(), op)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeDecode))
		assert.False(t, conn.Unhealthy())

		var e *errors.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, 1, e.Details["row"])
	})

	assert.Equal(t, int64(2), f.exec.Stats().DecodeErrors)
}

func TestResultSizeIsBounded(t *testing.T) {
	cfg := poolConfig()
	cfg.MaxResultRows = 5
	f := newFixture(t, sim.Options{Responder: sim.StaticResponder(countRows(6))}, cfg)

	_, _, err := f.execute(t, context.Background(), countQuery())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))

	op := countQuery()
	op.MaxRows = 10
	res, _, err := f.execute(t, context.Background(), op)
	require.NoError(t, err)
	assert.Len(t, res.Records, 6)
}

func TestConcurrentExecutionKeepsConnectionsExclusive(t *testing.T) {
	f := newFixture(t, sim.Options{Latency: time.Millisecond, Jitter: time.Millisecond}, poolConfig())

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				conn, err := f.pool.Acquire(context.Background())
				if !assert.NoError(t, err) {
					return
				}
				_, err = f.exec.Execute(context.Background(), &Operation{
					Name: "echo", Kind: KindQuery, Statement: "SELECT $1", Args: []interface{}{int64(w)},
					Mapper: models.DecodeCount,
				}, conn)
				conn.Release()
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	assert.Zero(t, f.drv.Stats().ConcurrentUse)
	assert.LessOrEqual(t, f.pool.Stats().PeakLeased, 4)
	assert.Equal(t, int64(320), f.exec.Stats().Executed)
}

func BenchmarkExecuteQuery(b *testing.B) {
	drv := sim.New(sim.Options{Responder: sim.StaticResponder(countRows(10))})
	cfg := poolConfig()
	p, err := connpool.New(drv, cfg, nil)
	require.NoError(b, err)
	defer func() { _ = p.Close(context.Background()) }()
	exec := NewExecutor(cfg, nil)
	op := countQuery()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		conn, err := p.Acquire(context.Background())
		if err != nil {
			b.Fatal(err)
		}
		if _, err := exec.Execute(context.Background(), op, conn); err != nil {
			b.Fatal(err)
		}
		conn.Release()
	}
}
