package runner

import (
	"context"
	"errors"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
	logger "github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// SimpleJobRunner is an implementation of port.JobRunner that moves the execution to
// STARTED, calls the Job's Run method and persists the terminal state.
type SimpleJobRunner struct {
	jobRepository repository.JobRepository
}

// NewSimpleJobRunner creates an instance of SimpleJobRunner.
func NewSimpleJobRunner(repo repository.JobRepository) *SimpleJobRunner {
	return &SimpleJobRunner{jobRepository: repo}
}

// Run executes the job. Status updates are written even when ctx has been cancelled.
func (r *SimpleJobRunner) Run(ctx context.Context, job port.Job, jobExecution *model.JobExecution) {
	metaCtx := context.WithoutCancel(ctx)

	if jobExecution.Status == model.BatchStatusStarting {
		jobExecution.MarkAsStarted()
		if err := r.jobRepository.UpdateJobExecution(metaCtx, jobExecution); err != nil {
			logger.Errorf("JobRunner: Failed to update JobExecution (ID: %s) status to STARTED: %v", jobExecution.ID, err)
		}
	}

	err := job.Run(ctx, jobExecution, jobExecution.Parameters)

	if !jobExecution.Status.IsFinished() {
		switch {
		case err == nil:
			jobExecution.MarkAsCompleted()
		case errors.Is(err, context.Canceled):
			jobExecution.AddFailureException(err)
			jobExecution.MarkAsStopped()
		default:
			jobExecution.MarkAsFailed(err)
		}
	}

	if updateErr := r.jobRepository.UpdateJobExecution(metaCtx, jobExecution); updateErr != nil {
		// Metadata DB problems are not recorded as job failures.
		logger.Errorf("JobRunner: Failed to update final JobExecution (ID: %s) state: %v", jobExecution.ID, updateErr)
	}
}

var _ port.JobRunner = (*SimpleJobRunner)(nil)
