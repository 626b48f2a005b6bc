// OpenTelemetry provider initialization and configuration.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// DefaultServiceName is used when neither the config nor
// OTEL_SERVICE_NAME names the service.
const DefaultServiceName = "pulsarkit"

// ProviderConfig configures the OpenTelemetry provider.
type ProviderConfig struct {
	// ServiceName is the name of the service.
	// Falls back to OTEL_SERVICE_NAME, then DefaultServiceName.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Endpoint is the OTLP endpoint (e.g., "localhost:4317").
	// If empty, uses OTEL_EXPORTER_OTLP_ENDPOINT env var.
	Endpoint string

	// Protocol is "grpc" or "http". Default is "grpc".
	Protocol string

	// Insecure disables TLS. Default is false.
	Insecure bool

	// Debug includes error text in client.error spans.
	Debug bool

	// Headers are additional headers to send with requests.
	Headers map[string]string

	// BatchTimeout is the maximum time to wait before sending a batch.
	BatchTimeout time.Duration

	// ExportTimeout is the timeout for exporting spans.
	ExportTimeout time.Duration
}

// Validate checks the protocol without contacting the endpoint.
func (c ProviderConfig) Validate() error {
	switch c.Protocol {
	case "", "grpc", "http":
		return nil
	default:
		return fmt.Errorf("unknown protocol: %s (use 'grpc' or 'http')", c.Protocol)
	}
}

// endpoint resolves the collector address from config or env, without
// a scheme.
func (c ProviderConfig) endpoint() (string, error) {
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		return "", fmt.Errorf("telemetry endpoint not configured (set endpoint or OTEL_EXPORTER_OTLP_ENDPOINT)")
	}
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return endpoint, nil
}

// serviceName resolves the service name from config or env.
func (c ProviderConfig) serviceName() string {
	if c.ServiceName != "" {
		return c.ServiceName
	}
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		return name
	}
	return DefaultServiceName
}

// Provider wraps the OpenTelemetry TracerProvider with cleanup.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer *Tracer
}

// InitProvider initializes OpenTelemetry with the given configuration and
// installs its tracer as the global one. The Provider must be shut down
// when done.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	endpoint, err := cfg.endpoint()
	if err != nil {
		return nil, err
	}
	serviceName := cfg.serviceName()

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	exporter, err := newSpanExporter(ctx, cfg, endpoint)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	batchOpts := []sdktrace.BatchSpanProcessorOption{}
	if cfg.BatchTimeout > 0 {
		batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(cfg.BatchTimeout))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, batchOpts...),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := NewTracerWithProvider(tp, serviceName, cfg.Debug)
	SetGlobalTracer(tracer)

	return &Provider{
		tp:     tp,
		tracer: tracer,
	}, nil
}

// newSpanExporter creates the OTLP exporter for the configured protocol.
func newSpanExporter(ctx context.Context, cfg ProviderConfig, endpoint string) (sdktrace.SpanExporter, error) {
	switch cfg.Protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		if cfg.ExportTimeout > 0 {
			opts = append(opts, otlptracegrpc.WithTimeout(cfg.ExportTimeout))
		}
		return otlptracegrpc.New(ctx, opts...)

	case "http":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		if cfg.ExportTimeout > 0 {
			opts = append(opts, otlptracehttp.WithTimeout(cfg.ExportTimeout))
		}
		return otlptracehttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown protocol: %s (use 'grpc' or 'http')", cfg.Protocol)
	}
}

// Tracer returns the tracer for this provider.
func (p *Provider) Tracer() *Tracer {
	return p.tracer
}

// Shutdown flushes pending spans and shuts the provider down.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// ForceFlush forces a flush of all pending spans.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}
