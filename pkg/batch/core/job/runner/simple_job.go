package runner

import (
	"context"
	"fmt"
	"time"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/csvimport/pkg/batch/core/metrics"
	exception "github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// SimpleJob is an implementation of port.Job that runs a single step.
// On restart, a step that already COMPLETED is not executed again.
type SimpleJob struct {
	name           string
	step           port.Step
	jobRepository  repository.JobRepository
	validator      port.JobParametersValidator
	jobListeners   []port.JobExecutionListener
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

// Verify that SimpleJob implements the port.Job interface.
var _ port.Job = (*SimpleJob)(nil)

// NewSimpleJob creates a new instance of SimpleJob.
// validator may be nil, in which case every parameter set is accepted.
func NewSimpleJob(
	name string,
	step port.Step,
	jobRepository repository.JobRepository,
	validator port.JobParametersValidator,
	jobListeners []port.JobExecutionListener,
	metricRecorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *SimpleJob {
	if metricRecorder == nil {
		metricRecorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &SimpleJob{
		name:           name,
		step:           step,
		jobRepository:  jobRepository,
		validator:      validator,
		jobListeners:   jobListeners,
		metricRecorder: metricRecorder,
		tracer:         tracer,
	}
}

// JobName returns the job name.
func (j *SimpleJob) JobName() string {
	return j.name
}

// Step returns the step run by the job.
func (j *SimpleJob) Step() port.Step {
	return j.step
}

// ValidateParameters validates job parameters with the configured validator.
func (j *SimpleJob) ValidateParameters(params model.JobParameters) error {
	logger.Debugf("Job '%s': validating JobParameters %s", j.name, params.String())
	if j.validator == nil {
		return nil
	}
	if err := j.validator.Validate(params); err != nil {
		return exception.Wrap(j.name, exception.ErrJobParametersInvalid, "invalid job parameters", err)
	}
	return nil
}

func (j *SimpleJob) notifyBeforeJob(ctx context.Context, jobExecution *model.JobExecution) {
	for _, l := range j.jobListeners {
		l.BeforeJob(ctx, jobExecution)
	}
}

func (j *SimpleJob) notifyAfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	for _, l := range j.jobListeners {
		l.AfterJob(ctx, jobExecution)
	}
}

// Run executes the step and sets the terminal status of jobExecution from the step outcome.
func (j *SimpleJob) Run(ctx context.Context, jobExecution *model.JobExecution, jobParameters model.JobParameters) error {
	logger.Infof("Starting Job '%s' (Execution ID: %s).", j.name, jobExecution.ID)

	ctx, finishSpan := j.tracer.StartJobSpan(ctx, jobExecution)
	defer finishSpan()

	j.metricRecorder.RecordJobStart(ctx, jobExecution)
	j.notifyBeforeJob(ctx, jobExecution)

	defer func() {
		if jobExecution.EndTime == nil {
			now := time.Now()
			jobExecution.EndTime = &now
		}
		j.notifyAfterJob(ctx, jobExecution)
		j.metricRecorder.RecordJobEnd(ctx, jobExecution)

		logger.Infof("Job '%s' (Execution ID: %s) finished. Final Status: %s, Exit Status: %s",
			j.name, jobExecution.ID, jobExecution.Status, jobExecution.ExitStatus)
	}()

	select {
	case <-ctx.Done():
		logger.Warnf("Context cancelled before Job '%s' started its step: %v", j.name, ctx.Err())
		jobExecution.AddFailureException(ctx.Err())
		jobExecution.MarkAsStopped()
		return ctx.Err()
	default:
	}

	stepName := j.step.StepName()
	jobExecution.CurrentStepName = stepName

	stepExecution := jobExecution.FindStepExecution(stepName)
	switch {
	case stepExecution != nil && stepExecution.Status == model.BatchStatusCompleted:
		logger.Infof("Job '%s': Step '%s' already completed in a previous execution. Skipping.", j.name, stepName)
		jobExecution.MarkAsCompleted()
		return nil
	case stepExecution != nil:
		logger.Infof("Job '%s': Resuming step '%s' with the execution context of the previous run.", j.name, stepName)
	default:
		stepExecution = model.NewStepExecution(stepName, jobExecution)
	}

	if err := j.jobRepository.SaveStepExecution(context.WithoutCancel(ctx), stepExecution); err != nil {
		saveErr := exception.NewBatchError(j.name, fmt.Sprintf("failed to save StepExecution for step '%s'", stepName), err, false, false)
		logger.Errorf("Job '%s': %v", j.name, saveErr)
		jobExecution.MarkAsFailed(saveErr)
		j.tracer.RecordError(ctx, "job_runner", saveErr)
		return saveErr
	}

	stepErr := j.step.Execute(ctx, jobExecution, stepExecution)

	switch stepExecution.Status {
	case model.BatchStatusCompleted:
		logger.Infof("Job '%s': Step '%s' completed. Read: %d, Written: %d, Commits: %d",
			j.name, stepName, stepExecution.ReadCount, stepExecution.WriteCount, stepExecution.CommitCount)
		jobExecution.MarkAsCompleted()
	case model.BatchStatusStopped:
		logger.Warnf("Job '%s': Step '%s' stopped.", j.name, stepName)
		if stepErr != nil {
			jobExecution.AddFailureException(stepErr)
		}
		jobExecution.MarkAsStopped()
	default:
		if stepErr == nil {
			stepErr = exception.NewBatchErrorf(j.name, "step '%s' ended with status %s", stepName, stepExecution.Status)
		}
		logger.Errorf("Job '%s': Step '%s' failed: %v", j.name, stepName, stepErr)
		j.tracer.RecordError(ctx, "job_runner", stepErr)
		jobExecution.MarkAsFailed(stepErr)
	}
	return stepErr
}
