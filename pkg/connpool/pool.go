// Package connpool provides a bounded pool of exclusive datastore
// connections with acquire timeouts, idle reaping, optional liveness checks
// and graceful shutdown.
//
// All bookkeeping is guarded by a single mutex. Dialling, pinging and
// closing connections always happen outside it; a dial reserves its slot
// first so the total never exceeds the configured maximum.
package connpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/brick2/pkg/config"
	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/errors"
)

// Pool manages a bounded set of reusable connections
type Pool struct {
	driver datastore.Driver
	logger *zap.Logger

	mu               sync.Mutex
	min              int
	max              int
	acquireTimeout   time.Duration
	idleTTL          time.Duration
	healthCheckAfter time.Duration

	// idle is ordered oldest first; Acquire pops from the end (MRU)
	idle       []*Conn
	total      int // idle + leased + dialling + awaiting deferred close
	leased     int
	peakLeased int
	waiters    []chan struct{}
	closed     bool
	drained    chan struct{}
	drainDone  bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
	nextID     atomic.Int64

	// Counters
	acquired       int64
	created        int64
	reused         int64
	discarded      int64
	reaped         int64
	exhausted      int64
	closedErrors   int64
	healthFailures int64
	waitTotal      time.Duration
}

// Stats provides a point-in-time view of pool utilization
type Stats struct {
	Leased              int           `json:"leased"`
	Idle                int           `json:"idle"`
	Total               int           `json:"total"`
	Min                 int           `json:"min"`
	Max                 int           `json:"max"`
	Waiting             int           `json:"waiting"`
	PeakLeased          int           `json:"peak_leased"`
	Acquired            int64         `json:"acquired"`
	Created             int64         `json:"created"`
	Reused              int64         `json:"reused"`
	Discarded           int64         `json:"discarded"`
	Reaped              int64         `json:"reaped"`
	Exhausted           int64         `json:"exhausted"`
	ClosedErrors        int64         `json:"closed_errors"`
	HealthCheckFailures int64         `json:"health_check_failures"`
	AverageWait         time.Duration `json:"average_wait"`
	Utilization         float64       `json:"utilization"`
	Closed              bool          `json:"closed"`
}

// New creates a pool over driver. No connection is dialled until Warm or
// the first Acquire; the reaper starts immediately when ReapInterval > 0.
func New(driver datastore.Driver, cfg config.PoolConfig, logger *zap.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		driver:           driver,
		logger:           logger.With(zap.String("component", "connection_pool"), zap.String("driver", driver.Name())),
		min:              cfg.Min,
		max:              cfg.Max,
		acquireTimeout:   cfg.AcquireTimeout,
		idleTTL:          cfg.IdleTTL,
		healthCheckAfter: cfg.HealthCheckAfter,
		drained:          make(chan struct{}),
		stopCh:           make(chan struct{}),
	}

	if cfg.ReapInterval > 0 {
		p.wg.Add(1)
		go p.reapLoop(cfg.ReapInterval)
	}

	return p, nil
}

// Warm dials connections until the pool holds at least min of them
func (p *Pool) Warm(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errPoolClosed()
	}
	need := p.min - p.total
	if need <= 0 {
		p.mu.Unlock()
		return nil
	}
	p.total += need
	p.mu.Unlock()

	for i := 0; i < need; i++ {
		c, err := p.dial(ctx)
		if err != nil {
			p.mu.Lock()
			p.total -= need - i
			p.signalLocked()
			p.mu.Unlock()
			return errors.Wrap(err, errors.ErrorTypeConnectionLost, "failed to warm connection pool")
		}
		p.putIdle(c)
	}

	p.logger.Info("connection pool warmed", zap.Int("connections", need))
	return nil
}

// Acquire leases a connection, waiting at most the acquire timeout (or
// until ctx ends, whichever comes first). It returns a pool_exhausted error
// when no connection became available in time, pool_closed once Close has
// been called, and cancelled or timeout when ctx ended first.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	start := time.Now()

	p.mu.Lock()
	timeout := p.acquireTimeout
	p.mu.Unlock()

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		p.mu.Lock()
		if p.closed {
			p.closedErrors++
			p.mu.Unlock()
			return nil, errPoolClosed()
		}

		if n := len(p.idle); n > 0 {
			c := p.idle[n-1]
			p.idle[n-1] = nil
			p.idle = p.idle[:n-1]
			stale := p.healthCheckAfter > 0 && start.Sub(c.lastUsed) > p.healthCheckAfter
			p.reused++
			p.leaseLocked(c, start)
			p.mu.Unlock()

			if stale && !p.checkHealth(actx, c) {
				continue
			}
			return c, nil
		}

		if p.total < p.max {
			p.total++
			p.mu.Unlock()

			c, err := p.dial(actx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.signalLocked()
				p.mu.Unlock()
				return nil, p.acquireError(ctx, actx, err)
			}

			p.mu.Lock()
			p.created++
			if p.closed {
				p.total--
				p.closedErrors++
				p.mu.Unlock()
				_ = c.raw.Close()
				return nil, errPoolClosed()
			}
			p.leaseLocked(c, start)
			p.mu.Unlock()

			p.logger.Debug("created new connection",
				zap.Int64("conn_id", c.id),
				zap.Duration("wait", time.Since(start)))
			return c, nil
		}

		w := make(chan struct{}, 1)
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()

		select {
		case <-w:
		case <-actx.Done():
			p.mu.Lock()
			if !p.removeWaiterLocked(w) {
				// Woken concurrently with the timeout; hand the wakeup on.
				p.signalLocked()
			}
			p.mu.Unlock()
			return nil, p.acquireError(ctx, actx, actx.Err())
		}
	}
}

// Release returns a leased connection. Unhealthy connections, connections
// above the current maximum and any connection released after Close are
// closed and discarded; a replacement is dialled lazily by a later Acquire.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}
	if !c.leased.CompareAndSwap(true, false) {
		p.logger.Warn("ignoring release of connection that is not leased", zap.Int64("conn_id", c.id))
		return
	}
	c.lastUsed = time.Now()
	c.useCount++

	p.mu.Lock()
	if !c.unhealthy.Load() && !p.closed && p.total <= p.max {
		p.leased--
		p.idle = append(p.idle, c)
		p.signalLocked()
		p.mu.Unlock()
		return
	}
	closed := p.closed
	p.mu.Unlock()

	reason := "unhealthy"
	if closed {
		reason = "pool closed"
	} else if !c.unhealthy.Load() {
		reason = "above max"
	}
	p.discard(c, reason)
}

// MarkUnhealthy flags a leased connection so it is discarded on release
func (p *Pool) MarkUnhealthy(c *Conn) {
	if c != nil {
		c.MarkUnhealthy()
	}
}

// Resize changes the pool bounds. Only idle connections are closed to meet
// a smaller maximum; leased connections above it are discarded on release.
func (p *Pool) Resize(min, max int) error {
	if min < 0 || max <= 0 || min > max {
		return errors.Newf(errors.ErrorTypeConfig, "invalid pool bounds min=%d max=%d", min, max)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errPoolClosed()
	}
	grew := max > p.max
	p.min, p.max = min, max

	var trimmed []*Conn
	for p.total > p.max && len(p.idle) > 0 {
		trimmed = append(trimmed, p.idle[0])
		p.idle[0] = nil
		p.idle = p.idle[1:]
		p.total--
		p.discarded++
	}
	if grew {
		for len(p.waiters) > 0 {
			p.signalLocked()
		}
	}
	total := p.total
	p.mu.Unlock()

	for _, c := range trimmed {
		p.closeRaw(c)
	}

	p.logger.Info("connection pool resized",
		zap.Int("min", min),
		zap.Int("max", max),
		zap.Int("trimmed", len(trimmed)),
		zap.Int("total", total))
	return nil
}

// Close stops the pool. New acquires fail with pool_closed, waiters are
// woken, idle connections are closed and Close blocks until every leased
// connection has been released and closed, including connections whose
// close waits on an abandoned driver call, or until ctx ends.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.stopCh)

		idle := p.idle
		p.idle = nil
		p.total -= len(idle)
		for len(p.waiters) > 0 {
			p.signalLocked()
		}
		leased := p.leased
		p.checkDrainedLocked()
		p.mu.Unlock()

		for _, c := range idle {
			p.closeRaw(c)
		}
		p.logger.Info("connection pool closing",
			zap.Int("closed_idle", len(idle)),
			zap.Int("awaiting_leased", leased))
	} else {
		p.mu.Unlock()
	}

	select {
	case <-p.drained:
	case <-ctx.Done():
		return ctx.Err()
	}

	// The reaper and the closes deferred for abandoned connections
	stopped := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Leased:              p.leased,
		Idle:                len(p.idle),
		Total:               p.total,
		Min:                 p.min,
		Max:                 p.max,
		Waiting:             len(p.waiters),
		PeakLeased:          p.peakLeased,
		Acquired:            p.acquired,
		Created:             p.created,
		Reused:              p.reused,
		Discarded:           p.discarded,
		Reaped:              p.reaped,
		Exhausted:           p.exhausted,
		ClosedErrors:        p.closedErrors,
		HealthCheckFailures: p.healthFailures,
		Closed:              p.closed,
	}
	if p.acquired > 0 {
		s.AverageWait = p.waitTotal / time.Duration(p.acquired)
	}
	if p.max > 0 {
		s.Utilization = float64(p.leased) / float64(p.max)
	}
	return s
}

// Driver returns the driver the pool dials through
func (p *Pool) Driver() datastore.Driver { return p.driver }

func (p *Pool) dial(ctx context.Context) (*Conn, error) {
	raw, err := p.driver.Dial(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Conn{
		raw:       raw,
		pool:      p,
		id:        p.nextID.Add(1),
		createdAt: now,
		lastUsed:  now,
	}, nil
}

// putIdle adds a freshly dialled connection whose slot is already reserved
func (p *Pool) putIdle(c *Conn) {
	p.mu.Lock()
	p.created++
	if p.closed {
		p.total--
		p.mu.Unlock()
		p.closeRaw(c)
		return
	}
	p.idle = append(p.idle, c)
	p.signalLocked()
	p.mu.Unlock()
}

func (p *Pool) leaseLocked(c *Conn, start time.Time) {
	c.leased.Store(true)
	p.leased++
	if p.leased > p.peakLeased {
		p.peakLeased = p.leased
	}
	p.acquired++
	p.waitTotal += time.Since(start)
}

// checkHealth pings a stale idle connection that has just been leased. On
// failure the connection is discarded and false is returned.
func (p *Pool) checkHealth(ctx context.Context, c *Conn) bool {
	err := c.raw.Ping(ctx)
	if err == nil {
		return true
	}

	p.mu.Lock()
	p.healthFailures++
	p.mu.Unlock()

	p.logger.Warn("idle connection failed liveness check",
		zap.Int64("conn_id", c.id),
		zap.Error(err))

	c.leased.Store(false)
	p.discard(c, "liveness check failed")
	return false
}

// discard closes a connection that was leased and frees its slot
func (p *Pool) discard(c *Conn, reason string) {
	p.logger.Debug("discarding connection",
		zap.Int64("conn_id", c.id),
		zap.String("reason", reason),
		zap.Int64("use_count", c.useCount))

	if done := c.closeAfter; done != nil {
		// Counted before the lease ends so Close, once drained, also
		// waits for this close.
		p.wg.Add(1)
		p.mu.Lock()
		p.leased--
		p.discarded++
		p.checkDrainedLocked()
		p.mu.Unlock()

		go func() {
			defer p.wg.Done()
			<-done
			p.closeRaw(c)
			p.mu.Lock()
			p.total--
			p.signalLocked()
			p.mu.Unlock()
		}()
		return
	}

	p.closeRaw(c)

	p.mu.Lock()
	p.leased--
	p.total--
	p.discarded++
	p.signalLocked()
	p.checkDrainedLocked()
	p.mu.Unlock()
}

func (p *Pool) closeRaw(c *Conn) {
	if err := c.raw.Close(); err != nil {
		p.logger.Debug("error closing connection", zap.Int64("conn_id", c.id), zap.Error(err))
	}
}

// signalLocked wakes one waiter, if any
func (p *Pool) signalLocked() {
	if len(p.waiters) == 0 {
		return
	}
	w := p.waiters[0]
	p.waiters[0] = nil
	p.waiters = p.waiters[1:]
	w <- struct{}{}
}

func (p *Pool) removeWaiterLocked(w chan struct{}) bool {
	for i, x := range p.waiters {
		if x == w {
			copy(p.waiters[i:], p.waiters[i+1:])
			p.waiters[len(p.waiters)-1] = nil
			p.waiters = p.waiters[:len(p.waiters)-1]
			return true
		}
	}
	return false
}

func (p *Pool) checkDrainedLocked() {
	if p.closed && p.leased == 0 && !p.drainDone {
		p.drainDone = true
		close(p.drained)
	}
}

func (p *Pool) acquireError(parent, actx context.Context, cause error) error {
	if err := parent.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.Wrap(err, errors.ErrorTypeCancelled, "cancelled while acquiring connection")
		}
		return errors.Wrap(err, errors.ErrorTypeTimeout, "deadline elapsed while acquiring connection")
	}
	if actx.Err() != nil {
		p.mu.Lock()
		p.exhausted++
		timeout := p.acquireTimeout
		waiting := len(p.waiters)
		p.mu.Unlock()
		return errors.New(errors.ErrorTypePoolExhausted, "no connection available within acquire timeout").
			WithDetail("acquire_timeout", timeout.String()).
			WithDetail("waiting", waiting)
	}
	return errors.Wrap(cause, errors.ErrorTypeConnectionLost, "failed to dial connection")
}

func errPoolClosed() error {
	return errors.New(errors.ErrorTypePoolClosed, "connection pool is closed")
}

func (p *Pool) reapLoop(interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.reap()
		case <-p.stopCh:
			return
		}
	}
}

// reap closes idle connections beyond min that exceeded the idle TTL and
// dials replacements when the pool has dropped below min
func (p *Pool) reap() {
	now := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	var expired []*Conn
	if p.idleTTL > 0 {
		kept := p.idle[:0]
		for _, c := range p.idle {
			if p.total > p.min && now.Sub(c.lastUsed) > p.idleTTL {
				expired = append(expired, c)
				p.total--
				p.reaped++
				continue
			}
			kept = append(kept, c)
		}
		for i := len(kept); i < len(p.idle); i++ {
			p.idle[i] = nil
		}
		p.idle = kept
	}

	need := p.min - p.total
	if need > 0 {
		p.total += need
	}
	timeout := p.acquireTimeout
	p.mu.Unlock()

	for _, c := range expired {
		p.closeRaw(c)
	}
	if len(expired) > 0 {
		p.logger.Debug("reaped idle connections", zap.Int("count", len(expired)))
	}

	for i := 0; i < need; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		c, err := p.dial(ctx)
		cancel()
		if err != nil {
			p.mu.Lock()
			p.total--
			p.signalLocked()
			p.mu.Unlock()
			p.logger.Warn("failed to replenish connection pool", zap.Error(err))
			continue
		}
		p.putIdle(c)
	}
}
