package metrics_test

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	config "github.com/tigerroll/csvimport/pkg/batch/core/config"
	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	coremetrics "github.com/tigerroll/csvimport/pkg/batch/core/metrics"
	"github.com/tigerroll/csvimport/pkg/batch/infrastructure/metrics"
)

func stepContext() (context.Context, *model.StepExecution) {
	je := model.NewJobExecution("instance-1", "importCustomers", model.NewJobParameters())
	se := model.NewStepExecution("csv-step", je)
	return port.GetContextWithStepExecution(context.Background(), se), se
}

func TestPrometheusRecorder_ExposesChunkMetrics(t *testing.T) {
	r := metrics.NewPrometheusRecorder()
	ctx, se := stepContext()

	se.MarkAsStarted()
	r.RecordStepStart(ctx, se)
	for i := 0; i < 3; i++ {
		r.RecordItemRead(ctx, "csv-step")
	}
	r.RecordItemWrite(ctx, "csv-step", 3)
	r.RecordChunkCommit(ctx, "csv-step", 3)
	r.RecordChunkRollback(ctx, "csv-step", "write")
	r.RecordDuration(ctx, "chunk_duration", 20*time.Millisecond, map[string]string{"step_name": "csv-step"})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `batch_step_read_total{job_name="importCustomers",step_name="csv-step"} 3`)
	assert.Contains(t, text, `batch_step_write_total{job_name="importCustomers",step_name="csv-step"} 3`)
	assert.Contains(t, text, `batch_step_commit_total{job_name="importCustomers",step_name="csv-step"} 1`)
	assert.Contains(t, text, `batch_step_rollback_total{job_name="importCustomers",reason="write",step_name="csv-step"} 1`)
	assert.Contains(t, text, "batch_chunk_duration_seconds_count")
	assert.Contains(t, text, "go_goroutines")
}

func TestPrometheusRecorder_UnknownJobLabel(t *testing.T) {
	r := metrics.NewPrometheusRecorder()
	r.RecordItemRead(context.Background(), "csv-step")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `batch_step_read_total{job_name="unknown",step_name="csv-step"} 1`)
}

func TestOTelMetricRecorder_CollectsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r, err := metrics.NewOTelMetricRecorder(provider)
	require.NoError(t, err)

	ctx, _ := stepContext()
	r.RecordItemRead(ctx, "csv-step")
	r.RecordItemRead(ctx, "csv-step")
	r.RecordItemWrite(ctx, "csv-step", 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), totals["batch.step.read"])
	assert.Equal(t, int64(2), totals["batch.step.write"])
}

func TestOpenTelemetryTracer_NestsSpans(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	tracer := metrics.NewOpenTelemetryTracer(provider)

	je := model.NewJobExecution("instance-1", "importCustomers", model.NewJobParameters())
	se := model.NewStepExecution("csv-step", je)

	ctx, endJob := tracer.StartJobSpan(context.Background(), je)
	ctx, endStep := tracer.StartStepSpan(ctx, se)
	chunkCtx, endChunk := tracer.StartChunkSpan(ctx, "csv-step", 0)
	tracer.RecordError(chunkCtx, "chunk", errors.New("constraint violation"))
	endChunk()
	endStep()
	endJob()

	ended := spans.Ended()
	require.Len(t, ended, 3)
	assert.Equal(t, "chunk", ended[0].Name())
	assert.Equal(t, "step csv-step", ended[1].Name())
	assert.Equal(t, "job importCustomers", ended[2].Name())
	assert.Equal(t, ended[1].SpanContext().SpanID(), ended[0].Parent().SpanID())
	assert.Equal(t, ended[2].SpanContext().SpanID(), ended[1].Parent().SpanID())
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "exception", ended[0].Events()[0].Name)
}

func TestNewTelemetry_SelectsBackend(t *testing.T) {
	cfg := config.NewConfig().Surfin.System

	tel, err := metrics.NewTelemetry(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &metrics.PrometheusRecorder{}, tel.Recorder)
	assert.IsType(t, &coremetrics.NoOpTracer{}, tel.Tracer)
	assert.NotNil(t, tel.Handler())
	assert.NoError(t, tel.Shutdown(context.Background()))

	cfg.Metrics.Backend = metrics.BackendNone
	tel, err = metrics.NewTelemetry(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &coremetrics.NoOpMetricRecorder{}, tel.Recorder)
	assert.Nil(t, tel.Handler())

	cfg.Metrics.Backend = "statsd"
	_, err = metrics.NewTelemetry(context.Background(), cfg)
	assert.ErrorContains(t, err, "statsd")

	cfg.Metrics.Backend = metrics.BackendNone
	cfg.Tracing.Exporter = "zipkin"
	_, err = metrics.NewTelemetry(context.Background(), cfg)
	assert.ErrorContains(t, err, "zipkin")
}
