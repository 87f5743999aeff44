// Package metrics provides the Prometheus and OpenTelemetry implementations of the
// batch MetricRecorder and Tracer, selected from configuration.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	config "github.com/tigerroll/csvimport/pkg/batch/core/config"
	metrics "github.com/tigerroll/csvimport/pkg/batch/core/metrics"
	logger "github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// Metric backends.
const (
	BackendPrometheus = "prometheus"
	BackendOTel       = "otel"
	BackendNone       = "none"
)

// OTLP transports, used for both metric and span exporters.
const (
	ProtocolHTTP = "http"
	ProtocolGRPC = "grpc"
)

// Telemetry bundles the recorder and tracer built from configuration with the
// providers that must be flushed on shutdown.
type Telemetry struct {
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer

	handler   http.Handler
	shutdowns []func(context.Context) error
}

// Handler returns the scrape handler, or nil when the backend does not serve one.
func (t *Telemetry) Handler() http.Handler {
	return t.handler
}

// Shutdown flushes and closes the exporters.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	for _, shutdown := range t.shutdowns {
		if err := shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// NewTelemetry builds the MetricRecorder and Tracer selected by cfg.
func NewTelemetry(ctx context.Context, cfg config.SystemConfig) (*Telemetry, error) {
	t := &Telemetry{}
	res := resource.NewSchemaless(attribute.String("service.name", cfg.Tracing.ServiceName))

	switch cfg.Metrics.Backend {
	case BackendPrometheus:
		recorder := NewPrometheusRecorder()
		t.Recorder = recorder
		t.handler = recorder.Handler()
	case BackendOTel:
		exporter, err := newMetricExporter(ctx, cfg.Metrics)
		if err != nil {
			return nil, err
		}
		provider := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
			sdkmetric.WithResource(res),
		)
		t.shutdowns = append(t.shutdowns, provider.Shutdown)
		recorder, err := NewOTelMetricRecorder(provider)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTel instruments: %w", err)
		}
		t.Recorder = recorder
	case BackendNone, "":
		t.Recorder = metrics.NewNoOpMetricRecorder()
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", cfg.Metrics.Backend)
	}

	switch cfg.Tracing.Exporter {
	case ProtocolHTTP, ProtocolGRPC:
		exporter, err := newSpanExporter(ctx, cfg.Tracing)
		if err != nil {
			return nil, err
		}
		provider := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
		t.shutdowns = append(t.shutdowns, provider.Shutdown)
		t.Tracer = NewOpenTelemetryTracer(provider)
	case BackendNone, "":
		t.Tracer = metrics.NewNoOpTracer()
	default:
		return nil, fmt.Errorf("unknown tracing exporter %q", cfg.Tracing.Exporter)
	}

	logger.Infof("Telemetry: metrics backend '%s', tracing exporter '%s'.", cfg.Metrics.Backend, cfg.Tracing.Exporter)
	return t, nil
}

func newMetricExporter(ctx context.Context, cfg config.MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.Protocol {
	case ProtocolGRPC:
		var opts []otlpmetricgrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case ProtocolHTTP, "":
		var opts []otlpmetrichttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown OTLP metrics protocol %q", cfg.Protocol)
	}
}

func newSpanExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.Exporter == ProtocolGRPC {
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	}
	var opts []otlptracehttp.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}
