package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/csvimport/pkg/batch/core/metrics"
)

const instrumentationName = "github.com/tigerroll/csvimport/pkg/batch"

// OTelMetricRecorder records batch metrics as OpenTelemetry instruments. The
// instrument names mirror the Prometheus recorder with dots instead of underscores.
type OTelMetricRecorder struct {
	jobCount      otelmetric.Int64Counter
	jobDuration   otelmetric.Float64Histogram
	stepCount     otelmetric.Int64Counter
	stepDuration  otelmetric.Float64Histogram
	itemRead      otelmetric.Int64Counter
	itemFilter    otelmetric.Int64Counter
	itemWrite     otelmetric.Int64Counter
	chunkCommit   otelmetric.Int64Counter
	chunkRollback otelmetric.Int64Counter
	chunkDuration otelmetric.Float64Histogram
}

// NewOTelMetricRecorder creates the instruments on a meter obtained from provider.
func NewOTelMetricRecorder(provider otelmetric.MeterProvider) (*OTelMetricRecorder, error) {
	meter := provider.Meter(instrumentationName)
	r := &OTelMetricRecorder{}
	var err error

	if r.jobCount, err = meter.Int64Counter("batch.job.executions", otelmetric.WithDescription("Batch job executions by status.")); err != nil {
		return nil, err
	}
	if r.jobDuration, err = meter.Float64Histogram("batch.job.duration", otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.stepCount, err = meter.Int64Counter("batch.step.executions", otelmetric.WithDescription("Batch step executions by status.")); err != nil {
		return nil, err
	}
	if r.stepDuration, err = meter.Float64Histogram("batch.step.duration", otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.itemRead, err = meter.Int64Counter("batch.step.read"); err != nil {
		return nil, err
	}
	if r.itemFilter, err = meter.Int64Counter("batch.step.filter"); err != nil {
		return nil, err
	}
	if r.itemWrite, err = meter.Int64Counter("batch.step.write"); err != nil {
		return nil, err
	}
	if r.chunkCommit, err = meter.Int64Counter("batch.step.commit"); err != nil {
		return nil, err
	}
	if r.chunkRollback, err = meter.Int64Counter("batch.step.rollback"); err != nil {
		return nil, err
	}
	if r.chunkDuration, err = meter.Float64Histogram("batch.chunk.duration", otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OTelMetricRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobCount.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("job_name", execution.JobName),
		attribute.String("status", execution.Status.String()),
	))
}

func (r *OTelMetricRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	attrs := otelmetric.WithAttributes(
		attribute.String("job_name", execution.JobName),
		attribute.String("status", execution.Status.String()),
	)
	r.jobCount.Add(ctx, 1, attrs)
	if execution.EndTime != nil {
		r.jobDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), attrs)
	}
}

func (r *OTelMetricRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.stepCount.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("job_name", stepJobName(execution)),
		attribute.String("step_name", execution.StepName),
		attribute.String("status", execution.Status.String()),
	))
}

func (r *OTelMetricRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	attrs := otelmetric.WithAttributes(
		attribute.String("job_name", stepJobName(execution)),
		attribute.String("step_name", execution.StepName),
		attribute.String("status", execution.Status.String()),
	)
	r.stepCount.Add(ctx, 1, attrs)
	if execution.EndTime != nil {
		r.stepDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), attrs)
	}
}

func stepAttrs(ctx context.Context, stepName string) otelmetric.MeasurementOption {
	return otelmetric.WithAttributes(
		attribute.String("job_name", jobNameFrom(ctx)),
		attribute.String("step_name", stepName),
	)
}

func (r *OTelMetricRecorder) RecordItemRead(ctx context.Context, stepName string) {
	r.itemRead.Add(ctx, 1, stepAttrs(ctx, stepName))
}

func (r *OTelMetricRecorder) RecordItemFilter(ctx context.Context, stepName string) {
	r.itemFilter.Add(ctx, 1, stepAttrs(ctx, stepName))
}

func (r *OTelMetricRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.itemWrite.Add(ctx, int64(count), stepAttrs(ctx, stepName))
}

func (r *OTelMetricRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.chunkCommit.Add(ctx, 1, stepAttrs(ctx, stepName))
}

func (r *OTelMetricRecorder) RecordChunkRollback(ctx context.Context, stepName string, reason string) {
	r.chunkRollback.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("job_name", jobNameFrom(ctx)),
		attribute.String("step_name", stepName),
		attribute.String("reason", reason),
	))
}

func (r *OTelMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	if name != "chunk_duration" {
		return
	}
	r.chunkDuration.Record(ctx, duration.Seconds(), stepAttrs(ctx, tags["step_name"]))
}

var _ metrics.MetricRecorder = (*OTelMetricRecorder)(nil)
