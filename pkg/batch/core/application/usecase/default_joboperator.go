package usecase

import (
	"context"
	"fmt"

	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	jobRepository "github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

const operatorModule = "job_operator"

// DefaultJobOperator is the default implementation of the JobOperator interface.
type DefaultJobOperator struct {
	jobRepository jobRepository.JobRepository
	jobLauncher   *SimpleJobLauncher
}

// Verify that DefaultJobOperator implements the JobOperator interface.
var _ JobOperator = (*DefaultJobOperator)(nil)

// NewDefaultJobOperator creates a new instance of DefaultJobOperator.
func NewDefaultJobOperator(jobRepository jobRepository.JobRepository, launcher *SimpleJobLauncher) *DefaultJobOperator {
	return &DefaultJobOperator{
		jobRepository: jobRepository,
		jobLauncher:   launcher,
	}
}

// Restart resumes the instance identified by jobName and params.
func (o *DefaultJobOperator) Restart(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	logger.Infof("JobOperator: restarting Job '%s' with parameters %s", jobName, params.String())
	return o.jobLauncher.Restart(ctx, jobName, params)
}

// RestartExecution resumes the instance executionID belongs to. The launch decision is
// taken against the latest execution of that instance.
func (o *DefaultJobOperator) RestartExecution(ctx context.Context, executionID string) (*model.JobExecution, error) {
	logger.Infof("JobOperator: Restart method called. Execution ID: %s", executionID)

	prev, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError(operatorModule, fmt.Sprintf("Restart processing error: failed to load JobExecution (ID: %s)", executionID), err, false, false)
	}

	newExecution, err := o.jobLauncher.Restart(ctx, prev.JobName, prev.Parameters)
	if err != nil {
		return nil, err
	}
	logger.Infof("Restart of Job '%s' (Execution ID: %s) started. New execution ID: %s", prev.JobName, executionID, newExecution.ID)
	return newExecution, nil
}

// Stop sends a stop signal to an execution running in this process.
func (o *DefaultJobOperator) Stop(ctx context.Context, executionID string) error {
	logger.Infof("JobOperator: Stop method called. Execution ID: %s", executionID)

	jobExecution, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return exception.NewBatchError(operatorModule, fmt.Sprintf("Stop processing error: failed to load JobExecution (ID: %s)", executionID), err, false, false)
	}
	if jobExecution.Status.IsFinished() {
		return exception.Wrap(operatorModule, exception.ErrJobExecutionNotRunning,
			fmt.Sprintf("Stop processing error: JobExecution (ID: %s) is already in a finished state (%s)", executionID, jobExecution.Status), nil)
	}
	if !o.jobLauncher.Stop(executionID) {
		return exception.Wrap(operatorModule, exception.ErrJobExecutionNotRunning,
			fmt.Sprintf("Stop processing error: JobExecution (ID: %s) is not running in this process; abandon it instead", executionID), nil)
	}
	logger.Infof("Sent stop signal for JobExecution (ID: %s).", executionID)
	return nil
}

// Abandon marks a FAILED or STOPPED execution ABANDONED. A STARTING or STARTED execution
// may only be abandoned when it is not running in this process, which is the case after
// a crash.
func (o *DefaultJobOperator) Abandon(ctx context.Context, executionID string) error {
	logger.Infof("JobOperator: Abandon method called. Execution ID: %s", executionID)

	jobExecution, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return exception.NewBatchError(operatorModule, fmt.Sprintf("Abandon processing error: failed to load JobExecution (ID: %s)", executionID), err, false, false)
	}

	switch {
	case jobExecution.Status == model.BatchStatusAbandoned:
		logger.Infof("JobExecution (ID: %s) is already in ABANDONED status.", executionID)
		return nil
	case jobExecution.Status == model.BatchStatusCompleted:
		return exception.Wrap(operatorModule, exception.ErrJobInstanceAlreadyComplete,
			fmt.Sprintf("JobExecution (ID: %s) is COMPLETED and cannot be abandoned", executionID), nil)
	case jobExecution.Status.IsRunning() && o.jobLauncher.IsRunning(executionID):
		return exception.Wrap(operatorModule, exception.ErrJobExecutionAlreadyRunning,
			fmt.Sprintf("JobExecution (ID: %s) is running; stop it first", executionID), nil)
	}

	if jobExecution.Status.IsRunning() {
		logger.Warnf("JobExecution (ID: %s) is %s but not running in this process. Abandoning orphaned execution.", executionID, jobExecution.Status)
	}
	jobExecution.MarkAsAbandoned()
	if err := o.jobRepository.UpdateJobExecution(ctx, jobExecution); err != nil {
		return exception.NewBatchError(operatorModule, fmt.Sprintf("Abandon processing error: failed to update JobExecution (ID: %s)", executionID), err, false, false)
	}

	logger.Infof("Successfully abandoned JobExecution (ID: %s).", executionID)
	return nil
}
