// OpenTelemetry tracing for client errors and connections.
package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/sammoh94/pulsarkit/errors"
)

// SpanClientError is the name of the span recorded for each consumed error.
const SpanClientError = "client.error"

// Tracer wraps OpenTelemetry tracing with client-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  atomic.Bool // When true, include error text in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a new tracer with the given name from the global
// provider.
func NewTracer(name string, debug bool) *Tracer {
	t := &Tracer{tracer: otel.Tracer(name)}
	t.debug.Store(debug)
	return t
}

// NewTracerWithProvider creates a tracer from a specific provider.
func NewTracerWithProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	t := &Tracer{tracer: tp.Tracer(name)}
	t.debug.Store(debug)
	return t
}

// SetDebug enables or disables debug mode (error text in spans).
func (t *Tracer) SetDebug(debug bool) {
	t.debug.Store(debug)
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug.Load()
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Error Spans ---

// RecordClientError records a consumed client error as a short span
// carrying its kind. A nil error records nothing.
func (t *Tracer) RecordClientError(ctx context.Context, err *errors.Error) {
	if err == nil {
		return
	}

	_, span := t.tracer.Start(ctx, SpanClientError)
	span.SetAttributes(attribute.String("error.kind", err.Kind().String()))
	if t.debug.Load() {
		span.SetAttributes(attribute.String("error.message", truncate(err.Error(), 4000)))
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, err.Kind().String())
	span.End()
}

// --- Connection Spans ---

// StartConnectSpan starts a span for establishing a connection to url.
func (t *Tracer) StartConnectSpan(ctx context.Context, url string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "client.connect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("server.url", url)),
	)
}

// EndConnectSpan ends a connection span, marking it failed if err is set.
func (t *Tracer) EndConnectSpan(span trace.Span, err error) {
	if err != nil {
		if kind := errors.KindOf(err); kind != 0 {
			span.SetAttributes(attribute.String("error.kind", kind.String()))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier for cross-process propagation.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// MapCarrier is a simple map-based TextMapCarrier for context propagation.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string {
	return c[key]
}

func (c MapCarrier) Set(key, value string) {
	c[key] = value
}

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// --- Helpers ---

// truncate cuts s to at most maxLen bytes on a rune boundary.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
