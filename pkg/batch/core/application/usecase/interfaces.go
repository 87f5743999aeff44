package usecase

import (
	"context"

	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
)

// JobLauncher starts a Job with JobParameters.
type JobLauncher interface {
	// Launch records a new execution of jobName and starts it in the background.
	// The returned error describes the launch decision only, never the job outcome.
	Launch(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error)
}

// JobOperator performs operations on existing executions.
type JobOperator interface {
	// Restart resumes the FAILED or STOPPED instance identified by jobName and params.
	Restart(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error)

	// RestartExecution resumes the instance executionID belongs to.
	RestartExecution(ctx context.Context, executionID string) (*model.JobExecution, error)

	// Stop cancels an execution running in this process. It ends STOPPED once the
	// chunks already dispatched have finished.
	Stop(ctx context.Context, executionID string) error

	// Abandon marks a FAILED, STOPPED or orphaned execution ABANDONED.
	// An abandoned instance cannot be restarted.
	Abandon(ctx context.Context, executionID string) error
}

// JobExplorer queries batch metadata.
type JobExplorer interface {
	// GetJobExecution retrieves a JobExecution, with its step executions, by its ID.
	GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error)

	// GetJobExecutions retrieves the executions of a JobInstance, newest first.
	GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error)

	// GetLastJobExecution retrieves the latest JobExecution of a JobInstance.
	GetLastJobExecution(ctx context.Context, instanceID string) (*model.JobExecution, error)

	// GetJobInstance retrieves a JobInstance by its ID.
	GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error)

	// GetJobInstanceCount returns the number of instances recorded for jobName.
	GetJobInstanceCount(ctx context.Context, jobName string) (int, error)
}
