package observability

import (
	"bytes"
	"context"
	stderrors "errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/brick2/pkg/config"
	"github.com/ajitpratap0/brick2/pkg/errors"
)

func TestInitDisabled(t *testing.T) {
	p, err := Init(Options{Config: config.ObservabilityConfig{}, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	assert.Nil(t, p.Metrics())
	assert.NotNil(t, p.Tracer())
	assert.NoError(t, p.Shutdown(context.Background()))

	_, span := StartSpan(context.Background(), p.Tracer(), "noop")
	span.SetAttribute("rows", 3)
	span.End(nil)
}

func TestTracingExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := Init(Options{
		Config: config.ObservabilityConfig{
			EnableMetrics:   true,
			EnableTracing:   true,
			TracingExporter: "stdout",
			SamplingRate:    1,
			ServiceName:     "brick2-test",
		},
		Version:     "test",
		Environment: "test",
		TraceWriter: &buf,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	require.NotNil(t, p.Metrics())

	ctx, span := StartSpan(context.Background(), p.Tracer(), "dispatch campaigns.list")
	span.SetAttribute("operation", "campaigns.list")
	span.SetAttribute("in_flight", int64(3))
	span.SetAttribute("duration", time.Millisecond)
	span.AddEvent("acquired")

	header := http.Header{}
	Inject(ctx, header)
	assert.NotEmpty(t, header.Get("traceparent"))
	assert.True(t, hasTraceParent(Extract(context.Background(), header)))

	span.End(errors.New(errors.ErrorTypeTimeout, "deadline"))

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx2))

	out := buf.String()
	assert.Contains(t, out, "dispatch campaigns.list")
	assert.Contains(t, out, "campaigns.list")
	assert.Contains(t, out, "timeout")
}

func hasTraceParent(ctx context.Context) bool {
	header := http.Header{}
	Inject(ctx, header)
	return header.Get("traceparent") != ""
}

func TestInitRejectsUnknownExporter(t *testing.T) {
	_, err := Init(Options{Config: config.ObservabilityConfig{EnableTracing: true, TracingExporter: "jaeger"}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestLatencyLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewLatencyLogger(zap.New(core), 100*time.Millisecond)

	assert.Equal(t, LatencyNormal, l.Log("fast", 10*time.Millisecond))
	assert.Equal(t, LatencyDegraded, l.Log("slow", 150*time.Millisecond))
	assert.Equal(t, LatencyCritical, l.Log("stuck", time.Second, zap.String("request_id", "r1")))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.Equal(t, "r1", entries[1].ContextMap()["request_id"])

	var disabled *LatencyLogger
	assert.Equal(t, LatencyNormal, disabled.Log("x", time.Hour))
	assert.Equal(t, LatencyNormal, NewLatencyLogger(nil, 0).Log("x", time.Hour))
}

func TestSpanRecordsPlainErrors(t *testing.T) {
	_, span := StartSpan(context.Background(), (*Provider)(nil).Tracer(), "x")
	assert.NotPanics(t, func() { span.End(stderrors.New("plain")) })
}
