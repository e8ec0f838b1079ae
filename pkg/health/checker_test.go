package health

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/brick2/pkg/dal"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/testutil"
)

type scripted struct {
	mu   sync.Mutex
	errs []error
	ops  []*dal.Operation
}

func (s *scripted) Dispatch(_ context.Context, op *dal.Operation) (*dal.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
	if len(s.errs) == 0 {
		return &dal.Result{RowsAffected: 1}, nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return nil, err
}

func (s *scripted) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

func TestConsecutiveFailures(t *testing.T) {
	fail := errors.New(errors.ErrorTypeConnectionLost, "connection refused")
	d := &scripted{errs: []error{fail, fail, fail}}
	c := NewChecker(d, time.Second, 0, zaptest.NewLogger(t))
	ctx := context.Background()

	assert.Equal(t, StatusUnknown, c.Status().Status)

	assert.Equal(t, StatusDegraded, c.Check(ctx).Status)
	assert.Equal(t, StatusDegraded, c.Check(ctx).Status)

	s := c.Check(ctx)
	assert.Equal(t, StatusUnhealthy, s.Status)
	assert.False(t, s.Healthy())
	assert.Equal(t, 3, s.ConsecutiveFailures)
	assert.Equal(t, "connection_lost", s.LastErrorType)

	s = c.Check(ctx)
	assert.Equal(t, StatusHealthy, s.Status)
	assert.True(t, s.Healthy())
	assert.Zero(t, s.ConsecutiveFailures)
	assert.Empty(t, s.LastError)
	assert.Equal(t, int64(4), s.Checks)
	assert.Equal(t, int64(3), s.Failures)

	assert.Equal(t, "health.ping", d.ops[0].Name)
	assert.Equal(t, dal.KindCommand, d.ops[0].Kind)
}

func TestPlainErrorsAreReported(t *testing.T) {
	d := &scripted{errs: []error{stderrors.New("boom")}}
	s := NewChecker(d, time.Second, time.Second, nil).Check(context.Background())
	assert.Equal(t, StatusDegraded, s.Status)
	assert.Equal(t, "boom", s.LastError)
}

func TestStartProbesPeriodically(t *testing.T) {
	d := &scripted{}
	c := NewChecker(d, 10*time.Millisecond, time.Second, zaptest.NewLogger(t))
	c.Start(context.Background())

	require.Eventually(t, func() bool { return d.calls() >= 3 }, time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop()

	n := d.calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, d.calls(), "no probes after Stop")
	assert.Equal(t, StatusHealthy, c.Status().Status)
}

func TestProbeThroughDispatcher(t *testing.T) {
	stack := testutil.NewStack(t, testutil.StackOptions{Pool: testutil.PoolConfig(1), MaxInFlight: 2})
	d, drv := stack.Dispatcher, stack.Driver

	c := NewChecker(d, time.Second, 100*time.Millisecond, zaptest.NewLogger(t))
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	drv.SetLatency(time.Second)
	s := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, s.Status)
	assert.Equal(t, "timeout", s.LastErrorType)
}
