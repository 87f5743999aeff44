package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/csvimport/pkg/batch/core/metrics"
	logger "github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
// Job, step and chunk spans nest through ctx.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a new instance of OpenTelemetryTracer.
func NewOpenTelemetryTracer(provider trace.TracerProvider) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: provider.Tracer(instrumentationName)}
}

// StartJobSpan starts a new span for a JobExecution.
func (t *OpenTelemetryTracer) StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "job "+execution.JobName, trace.WithAttributes(
		attribute.String("batch.job.name", execution.JobName),
		attribute.String("batch.job.execution_id", execution.ID),
		attribute.String("batch.job.instance_id", execution.JobInstanceID),
		attribute.Int("batch.job.restart_count", execution.RestartCount),
	))
	return ctx, func() {
		span.SetAttributes(attribute.String("batch.job.status", execution.Status.String()))
		span.End()
	}
}

// StartStepSpan starts a new span for a StepExecution.
func (t *OpenTelemetryTracer) StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "step "+execution.StepName, trace.WithAttributes(
		attribute.String("batch.step.name", execution.StepName),
		attribute.String("batch.step.execution_id", execution.ID),
	))
	return ctx, func() {
		span.SetAttributes(
			attribute.String("batch.step.status", execution.Status.String()),
			attribute.Int("batch.step.read_count", execution.ReadCount),
			attribute.Int("batch.step.write_count", execution.WriteCount),
		)
		span.End()
	}
}

// StartChunkSpan starts a span around one chunk transaction.
func (t *OpenTelemetryTracer) StartChunkSpan(ctx context.Context, stepName string, chunkIndex int) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "chunk", trace.WithAttributes(
		attribute.String("batch.step.name", stepName),
		attribute.Int("batch.chunk.index", chunkIndex),
	))
	return ctx, func() { span.End() }
}

// RecordError records an error in the current span.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		logger.Debugf("Tracer: error in module %s outside a recording span: %v", module, err)
		return
	}
	span.RecordError(err, trace.WithAttributes(attribute.String("batch.module", module)))
	span.SetStatus(codes.Error, err.Error())
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
