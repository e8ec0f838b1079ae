package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/brick2/pkg/errors"
)

// Span is an internal span whose attributes are flushed once, on End
type Span struct {
	inner trace.Span
	attrs []attribute.KeyValue
}

// StartSpan opens an internal span named name on tracer
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	ctx, inner := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, &Span{inner: inner, attrs: attrs}
}

// SetAttribute records key=value. Durations are stored in milliseconds.
func (s *Span) SetAttribute(key string, value interface{}) {
	s.attrs = append(s.attrs, toAttribute(key, value))
}

func toAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case time.Duration:
		return attribute.Float64(key+"_ms", float64(v)/float64(time.Millisecond))
	case fmt.Stringer:
		return attribute.String(key, v.String())
	}
	return attribute.String(key, fmt.Sprint(value))
}

func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.inner.AddEvent(name, trace.WithAttributes(attrs...))
}

// End flushes attributes, marks the span failed when err is non-nil and
// closes it.
func (s *Span) End(err error) {
	if err == nil {
		s.inner.SetAttributes(s.attrs...)
		s.inner.SetStatus(codes.Ok, "")
		s.inner.End()
		return
	}
	s.attrs = append(s.attrs, attribute.String("error.type", string(errors.TypeOf(err))))
	s.inner.SetAttributes(s.attrs...)
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
	s.inner.End()
}

// Extract returns ctx carrying the remote span context found in header
func Extract(ctx context.Context, header http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(header))
}

// Inject writes the span context of ctx into header
func Inject(ctx context.Context, header http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
}
