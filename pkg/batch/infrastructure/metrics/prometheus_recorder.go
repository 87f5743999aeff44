package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/csvimport/pkg/batch/core/metrics"
	logger "github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
// It keeps its own registry; Handler exposes it for scraping.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Job Metrics
	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec

	// Step Metrics
	stepDurationSeconds *prometheus.HistogramVec
	stepStatusCounter   *prometheus.CounterVec
	stepReadCount       *prometheus.CounterVec
	stepWriteCount      *prometheus.CounterVec
	stepFilterCount     *prometheus.CounterVec
	stepCommitCount     *prometheus.CounterVec
	stepRollbackCount   *prometheus.CounterVec

	// Chunk Metrics
	chunkDurationSeconds *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_job_duration_seconds",
			Help:    "Duration of batch job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "status", "exit_status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_job_status_total",
			Help: "Total number of batch job executions by status.",
		}, []string{"job_name", "status"}),
		stepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_step_duration_seconds",
			Help:    "Duration of batch step executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "step_name", "status", "exit_status"}),
		stepStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_status_total",
			Help: "Total number of batch step executions by status.",
		}, []string{"job_name", "step_name", "status"}),
		stepReadCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_read_total",
			Help: "Total items read by step.",
		}, []string{"job_name", "step_name"}),
		stepWriteCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_write_total",
			Help: "Total items written by step.",
		}, []string{"job_name", "step_name"}),
		stepFilterCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_filter_total",
			Help: "Total items filtered by step.",
		}, []string{"job_name", "step_name"}),
		stepCommitCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_commit_total",
			Help: "Total chunk commits by step.",
		}, []string{"job_name", "step_name"}),
		stepRollbackCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_rollback_total",
			Help: "Total chunk rollbacks by step and reason.",
		}, []string{"job_name", "step_name", "reason"}), // reason: process, write, commit
		chunkDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_chunk_duration_seconds",
			Help:    "Duration of chunk transactions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "step_name"}),
	}

	registry.MustRegister(
		r.jobDurationSeconds,
		r.jobStatusCounter,
		r.stepDurationSeconds,
		r.stepStatusCounter,
		r.stepReadCount,
		r.stepWriteCount,
		r.stepFilterCount,
		r.stepCommitCount,
		r.stepRollbackCount,
		r.chunkDurationSeconds,
	)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// jobNameFrom resolves the job label from the StepExecution carried by ctx.
func jobNameFrom(ctx context.Context) string {
	if se := port.GetStepExecutionFromContext(ctx); se != nil && se.JobExecution != nil {
		return se.JobExecution.JobName
	}
	return "unknown"
}

// RecordJobStart records the start of a JobExecution.
func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobStatusCounter.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
	logger.Debugf("Metrics: Job '%s' started.", execution.JobName)
}

// RecordJobEnd records the end of a JobExecution.
func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	r.jobStatusCounter.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()

	r.jobDurationSeconds.WithLabelValues(
		execution.JobName,
		execution.Status.String(),
		execution.ExitStatus.String(),
	).Observe(duration)

	logger.Debugf("Metrics: Job '%s' ended. Duration: %.3fs", execution.JobName, duration)
}

// RecordStepStart records the start of a StepExecution.
func (r *PrometheusRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.stepStatusCounter.WithLabelValues(stepJobName(execution), execution.StepName, execution.Status.String()).Inc()
	logger.Debugf("Metrics: Step '%s' started.", execution.StepName)
}

// RecordStepEnd records the end of a StepExecution. Item counts are not added here;
// the chunk step already recorded them as they happened.
func (r *PrometheusRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	jobName := stepJobName(execution)
	r.stepStatusCounter.WithLabelValues(jobName, execution.StepName, execution.Status.String()).Inc()
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()

	r.stepDurationSeconds.WithLabelValues(
		jobName,
		execution.StepName,
		execution.Status.String(),
		execution.ExitStatus.String(),
	).Observe(duration)

	logger.Debugf("Metrics: Step '%s' ended. Duration: %.3fs", execution.StepName, duration)
}

func stepJobName(execution *model.StepExecution) string {
	if execution.JobExecution != nil {
		return execution.JobExecution.JobName
	}
	return "unknown"
}

// RecordItemRead records successful item reads.
func (r *PrometheusRecorder) RecordItemRead(ctx context.Context, stepName string) {
	r.stepReadCount.WithLabelValues(jobNameFrom(ctx), stepName).Inc()
}

// RecordItemFilter records items dropped by the processor.
func (r *PrometheusRecorder) RecordItemFilter(ctx context.Context, stepName string) {
	r.stepFilterCount.WithLabelValues(jobNameFrom(ctx), stepName).Inc()
}

// RecordItemWrite records successful item writes.
func (r *PrometheusRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.stepWriteCount.WithLabelValues(jobNameFrom(ctx), stepName).Add(float64(count))
}

// RecordChunkCommit records chunk commits.
func (r *PrometheusRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.stepCommitCount.WithLabelValues(jobNameFrom(ctx), stepName).Inc()
}

// RecordChunkRollback records chunk rollbacks.
func (r *PrometheusRecorder) RecordChunkRollback(ctx context.Context, stepName string, reason string) {
	r.stepRollbackCount.WithLabelValues(jobNameFrom(ctx), stepName, reason).Inc()
}

// RecordDuration records the execution time of a chunk. Other names are ignored.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	if name != "chunk_duration" {
		return
	}
	r.chunkDurationSeconds.WithLabelValues(jobNameFrom(ctx), tags["step_name"]).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
