package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/brick2/internal/dispatcher"
	"github.com/ajitpratap0/brick2/pkg/config"
	"github.com/ajitpratap0/brick2/pkg/connpool"
	"github.com/ajitpratap0/brick2/pkg/dal"
	"github.com/ajitpratap0/brick2/pkg/driver/sim"
	"github.com/ajitpratap0/brick2/pkg/metrics"
)

// StackOptions configures NewStack. Zero values pick small test defaults.
type StackOptions struct {
	Sim         sim.Options
	Pool        config.PoolConfig
	MaxInFlight int
	Metrics     *metrics.Registry
}

// Stack is a dispatcher over a connection pool over the sim driver
type Stack struct {
	Driver     *sim.Driver
	Pool       *connpool.Pool
	Dispatcher *dispatcher.Dispatcher
	PoolConfig config.PoolConfig
}

// PoolConfig returns a pool configuration with short timeouts and the given maximum
func PoolConfig(max int) config.PoolConfig {
	return config.PoolConfig{
		Max:            max,
		AcquireTimeout: time.Second,
		QueryTimeout:   time.Second,
		CancelGrace:    10 * time.Millisecond,
		MaxResultRows:  1000,
	}
}

// NewStack builds the stack and shuts it down when the test completes
func NewStack(t testing.TB, opts StackOptions) *Stack {
	t.Helper()
	pcfg := opts.Pool
	if pcfg.Max == 0 {
		pcfg = PoolConfig(2)
	}
	if opts.MaxInFlight == 0 {
		opts.MaxInFlight = 16
	}

	drv := sim.New(opts.Sim)
	log := zaptest.NewLogger(t)
	p, err := connpool.New(drv, pcfg, log)
	require.NoError(t, err)

	d, err := dispatcher.New(dispatcher.Options{
		Pool:     p,
		Executor: dal.NewExecutor(pcfg, log),
		Config:   config.DispatcherConfig{MaxInFlight: opts.MaxInFlight},
		Logger:   log,
		Metrics:  opts.Metrics,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	return &Stack{Driver: drv, Pool: p, Dispatcher: d, PoolConfig: pcfg}
}
