package dispatcher

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/brick2/pkg/config"
	"github.com/ajitpratap0/brick2/pkg/connpool"
	"github.com/ajitpratap0/brick2/pkg/dal"
	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/driver/sim"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/logger"
	"github.com/ajitpratap0/brick2/pkg/metrics"
	"github.com/ajitpratap0/brick2/pkg/models"
)

type harness struct {
	drv  *sim.Driver
	pool *connpool.Pool
	d    *Dispatcher
}

func poolConfig(max int) config.PoolConfig {
	return config.PoolConfig{
		Max:            max,
		AcquireTimeout: time.Second,
		QueryTimeout:   time.Second,
		CancelGrace:    50 * time.Millisecond,
		MaxResultRows:  100,
	}
}

func newHarness(t *testing.T, opts sim.Options, pcfg config.PoolConfig, maxInFlight int, reg *metrics.Registry) *harness {
	t.Helper()
	if opts.Responder == nil {
		opts.Responder = sim.StaticResponder(&sim.Result{Columns: []string{"count"}, Rows: [][]interface{}{{int64(7)}}})
	}
	drv := sim.New(opts)
	log := zaptest.NewLogger(t)
	p, err := connpool.New(drv, pcfg, log)
	require.NoError(t, err)

	d, err := New(Options{
		Pool:     p,
		Executor: dal.NewExecutor(pcfg, log),
		Config:   config.DispatcherConfig{MaxInFlight: maxInFlight, SlowThreshold: time.Second},
		Logger:   log,
		Metrics:  reg,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	return &harness{drv: drv, pool: p, d: d}
}

func countOp() *dal.Operation {
	return &dal.Operation{Name: "campaigns.count", Kind: dal.KindQuery, Statement: "SELECT COUNT(*) AS count FROM campaigns", Mapper: models.DecodeCount}
}

// occupy starts a dispatch in the background and waits until it is executing
func (h *harness) occupy(t *testing.T) <-chan error {
	t.Helper()
	before := h.d.InFlight()
	done := make(chan error, 1)
	go func() {
		_, err := h.d.Dispatch(context.Background(), countOp())
		done <- err
	}()
	require.Eventually(t, func() bool {
		return h.d.InFlight() > before && h.pool.Stats().Leased > 0
	}, time.Second, time.Millisecond)
	return done
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	p, err := connpool.New(sim.New(sim.Options{}), poolConfig(1), nil)
	require.NoError(t, err)
	_, err = New(Options{Pool: p, Executor: dal.NewExecutor(poolConfig(1), nil)})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestDispatchCompletes(t *testing.T) {
	h := newHarness(t, sim.Options{}, poolConfig(2), 8, nil)

	res, err := h.d.Dispatch(context.Background(), countOp())
	require.NoError(t, err)
	first, ok := res.First()
	require.True(t, ok)
	assert.Equal(t, models.Count{N: 7}, first)

	s := h.d.Stats()
	assert.Equal(t, int64(1), s.Received)
	assert.Equal(t, int64(1), s.Completed)
	assert.Equal(t, 0, s.InFlight)
	assert.Equal(t, 8, s.Ceiling)
	assert.Equal(t, 0, s.Pool.Leased, "connection released before Dispatch returns")
	assert.Equal(t, int64(1), s.Executor.Executed)
}

func TestAdmissionRejectsWithoutAcquire(t *testing.T) {
	h := newHarness(t, sim.Options{Latency: 200 * time.Millisecond}, poolConfig(4), 1, nil)
	done := h.occupy(t)

	_, err := h.d.Dispatch(context.Background(), countOp())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRejected))
	assert.True(t, errors.IsRetryable(err))

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "at_capacity", e.Details["reason"])

	assert.Equal(t, int64(1), h.pool.Stats().Acquired)
	assert.Equal(t, int64(1), h.d.Stats().Rejected)

	require.NoError(t, <-done)
	_, err = h.d.Dispatch(context.Background(), countOp())
	assert.NoError(t, err)
}

func TestPoolMaxBoundsConcurrentOperations(t *testing.T) {
	h := newHarness(t, sim.Options{Latency: 50 * time.Millisecond}, poolConfig(2), 16, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.d.Dispatch(context.Background(), countOp())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	s := h.d.Stats()
	assert.Equal(t, 2, s.Pool.PeakLeased)
	assert.Equal(t, 3, s.PeakInFlight)
	assert.Equal(t, int64(3), s.Completed)
	assert.Zero(t, h.drv.Stats().ConcurrentUse)
}

func TestCancelledWhileQueued(t *testing.T) {
	h := newHarness(t, sim.Options{Latency: 300 * time.Millisecond}, poolConfig(1), 4, nil)
	done := h.occupy(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	_, err := h.d.Dispatch(ctx, countOp())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))

	pre, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	_, err = h.d.Dispatch(pre, countOp())
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))

	require.NoError(t, <-done)
	assert.Equal(t, int64(1), h.drv.Stats().Calls, "cancelled requests never reach the driver")
	assert.Equal(t, int64(2), h.d.Stats().Failures["cancelled"])
}

func TestMalformedOperationFailsWithoutAcquire(t *testing.T) {
	h := newHarness(t, sim.Options{}, poolConfig(1), 4, nil)

	_, err := h.d.Dispatch(context.Background(), &dal.Operation{Name: "broken", Kind: dal.KindQuery})
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
	_, err = h.d.Dispatch(context.Background(), nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))

	assert.Zero(t, h.pool.Stats().Acquired)
	assert.Equal(t, int64(2), h.d.Stats().Failed)
}

func TestFailuresAreCountedByType(t *testing.T) {
	h := newHarness(t, sim.Options{}, poolConfig(1), 4, nil)
	h.drv.FailNextCalls(1, datastore.BadConn(stderrors.New("broken pipe")))

	_, err := h.d.Dispatch(context.Background(), countOp())
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnectionLost))

	_, err = h.d.Dispatch(context.Background(), countOp())
	require.NoError(t, err)

	s := h.d.Stats()
	assert.Equal(t, int64(1), s.Failures["connection_lost"])
	assert.Equal(t, int64(1), s.Pool.Discarded)
	assert.Equal(t, int64(2), s.Pool.Created)
}

func TestSnapshotListsInFlightRequests(t *testing.T) {
	h := newHarness(t, sim.Options{Latency: 200 * time.Millisecond}, poolConfig(1), 4, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx := logger.WithRequestID(context.Background(), "req-1")
		_, _ = h.d.Dispatch(ctx, countOp())
	}()

	require.Eventually(t, func() bool {
		snap := h.d.Snapshot()
		return len(snap) == 1 && snap[0].State == StateExecuting.String()
	}, time.Second, time.Millisecond)

	snap := h.d.Snapshot()
	assert.Equal(t, "campaigns.count", snap[0].Operation)
	assert.Equal(t, "req-1", snap[0].RequestID)
	assert.Equal(t, 1, h.d.Stats().States["executing"])

	<-done
	assert.Empty(t, h.d.Snapshot())
}

func TestShutdownDrainsThenClosesPool(t *testing.T) {
	h := newHarness(t, sim.Options{Latency: 100 * time.Millisecond}, poolConfig(2), 4, nil)
	done := h.occupy(t)

	shut := make(chan error, 1)
	go func() { shut <- h.d.Shutdown(context.Background()) }()

	require.Eventually(t, func() bool { return h.d.Stats().ShuttingDown }, time.Second, time.Millisecond)
	_, err := h.d.Dispatch(context.Background(), countOp())
	assert.True(t, errors.IsType(err, errors.ErrorTypeRejected))

	require.NoError(t, <-done, "in-flight work completes during shutdown")
	require.NoError(t, <-shut)
	assert.True(t, h.pool.Stats().Closed)
	assert.Equal(t, 0, h.pool.Stats().Total)
	assert.NoError(t, h.d.Shutdown(context.Background()), "shutdown is idempotent")
}

func TestShutdownHonoursContext(t *testing.T) {
	h := newHarness(t, sim.Options{Latency: 300 * time.Millisecond}, poolConfig(1), 4, nil)
	done := h.occupy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.d.Shutdown(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))

	<-done
}

func TestDispatchRecordsMetrics(t *testing.T) {
	reg := metrics.New("brick2_test")
	h := newHarness(t, sim.Options{}, poolConfig(1), 4, reg)

	_, err := h.d.Dispatch(context.Background(), countOp())
	require.NoError(t, err)
	_, err = h.d.Dispatch(context.Background(), &dal.Operation{Name: "broken"})
	require.Error(t, err)

	n, err := testutil.GatherAndCount(reg.Gatherer(), "brick2_test_dispatcher_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = testutil.GatherAndCount(reg.Gatherer(), "brick2_test_pool_acquired_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func BenchmarkDispatch(b *testing.B) {
	drv := sim.New(sim.Options{Responder: sim.StaticResponder(&sim.Result{Columns: []string{"count"}, Rows: [][]interface{}{{int64(1)}}})})
	cfg := poolConfig(8)
	p, err := connpool.New(drv, cfg, nil)
	require.NoError(b, err)
	d, err := New(Options{Pool: p, Executor: dal.NewExecutor(cfg, nil), Config: config.DispatcherConfig{MaxInFlight: 64}})
	require.NoError(b, err)
	defer func() { _ = d.Shutdown(context.Background()) }()
	op := countOp()

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := d.Dispatch(context.Background(), op); err != nil {
				b.Fatal(err)
			}
		}
	})
}
