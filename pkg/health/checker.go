// Package health runs a periodic liveness probe against the data store
// through the dispatcher.
package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/brick2/pkg/dal"
	"github.com/ajitpratap0/brick2/pkg/errors"
)

// Status values
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// UnhealthyAfter is the number of consecutive failures that turn a degraded
// store unhealthy
const UnhealthyAfter = 3

// Dispatcher is the part of the dispatcher the checker needs
type Dispatcher interface {
	Dispatch(ctx context.Context, op *dal.Operation) (*dal.Result, error)
}

// Status is a copy of the last probe outcome
type Status struct {
	Status              string        `json:"status"`
	Timestamp           time.Time     `json:"timestamp"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Checks              int64         `json:"check_count"`
	Failures            int64         `json:"failure_count"`
	Latency             time.Duration `json:"latency"`
	LastError           string        `json:"last_error,omitempty"`
	LastErrorType       string        `json:"last_error_type,omitempty"`
}

// Healthy reports whether the store is usable
func (s Status) Healthy() bool {
	return s.Status != StatusUnhealthy
}

// PingOperation is the probe statement
func PingOperation() *dal.Operation {
	return &dal.Operation{Name: "health.ping", Kind: dal.KindCommand, Statement: "SELECT 1"}
}

// Checker probes the store every interval
type Checker struct {
	dispatcher Dispatcher
	interval   time.Duration
	timeout    time.Duration
	logger     *zap.Logger

	mu               sync.RWMutex
	status           Status
	consecutiveFails int

	checkCount   atomic.Int64
	failureCount atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewChecker creates a checker; a zero timeout uses the interval
func NewChecker(d Dispatcher, interval, timeout time.Duration, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = interval
	}
	return &Checker{
		dispatcher: d,
		interval:   interval,
		timeout:    timeout,
		logger:     logger.With(zap.String("component", "health_checker")),
		status:     Status{Status: StatusUnknown, Timestamp: time.Now()},
		stopCh:     make(chan struct{}),
	}
}

// Start probes once and then every interval until ctx ends or Stop is called
func (c *Checker) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.Check(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Check(ctx)
			}
		}
	}()
}

// Stop ends the probe loop and waits for it
func (c *Checker) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Check runs one probe and returns the resulting status
func (c *Checker) Check(ctx context.Context) Status {
	checks := c.checkCount.Add(1)

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	_, err := c.dispatcher.Dispatch(cctx, PingOperation())
	latency := time.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.status.Timestamp = time.Now()
	c.status.Latency = latency
	c.status.Checks = checks

	if err != nil {
		c.status.Failures = c.failureCount.Add(1)
		c.consecutiveFails++

		if c.consecutiveFails >= UnhealthyAfter {
			c.status.Status = StatusUnhealthy
		} else {
			c.status.Status = StatusDegraded
		}
		c.status.ConsecutiveFailures = c.consecutiveFails
		c.status.LastError = err.Error()
		c.status.LastErrorType = string(errors.TypeOf(err))

		c.logger.Warn("health check failed",
			zap.Error(err),
			zap.String("status", c.status.Status),
			zap.Int("consecutive_failures", c.consecutiveFails))
	} else {
		c.consecutiveFails = 0
		c.status.Status = StatusHealthy
		c.status.ConsecutiveFailures = 0
		c.status.Failures = c.failureCount.Load()
		c.status.LastError = ""
		c.status.LastErrorType = ""

		c.logger.Debug("health check passed", zap.Duration("latency", latency))
	}

	return c.status
}

// Status returns the latest probe outcome
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}
