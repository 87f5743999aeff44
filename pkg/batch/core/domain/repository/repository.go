// Package repository defines how batch metadata (job instances, executions,
// step executions and checkpoints) is persisted.
package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
)

var (
	// ErrJobInstanceNotFound is returned when a JobInstance is not found.
	ErrJobInstanceNotFound = errors.New("job instance not found")
	// ErrJobExecutionNotFound is returned when a JobExecution is not found.
	ErrJobExecutionNotFound = errors.New("job execution not found")
	// ErrStepExecutionNotFound is returned when a StepExecution is not found.
	ErrStepExecutionNotFound = errors.New("step execution not found")
	// ErrCheckpointDataNotFound is returned when checkpoint data is not found.
	ErrCheckpointDataNotFound = errors.New("checkpoint data not found")
)

func init() {
	exception.RegisterErrorType("ErrJobInstanceNotFound", ErrJobInstanceNotFound)
	exception.RegisterErrorType("ErrJobExecutionNotFound", ErrJobExecutionNotFound)
	exception.RegisterErrorType("ErrStepExecutionNotFound", ErrStepExecutionNotFound)
	exception.RegisterErrorType("ErrCheckpointDataNotFound", ErrCheckpointDataNotFound)
}

// JobInstance defines operations on job instances.
type JobInstance interface {
	// SaveJobInstance inserts instance. A second instance with the same job name and
	// parameters hash fails with an error matching exception.ErrDuplicateKey.
	SaveJobInstance(ctx context.Context, instance *model.JobInstance) error

	// UpdateJobInstance bumps the instance version. It fails with an optimistic locking
	// failure when the stored version no longer matches.
	UpdateJobInstance(ctx context.Context, instance *model.JobInstance) error

	FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error)

	// FindJobInstanceByJobNameAndParameters finds the instance identified by jobName and params.
	FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error)

	// GetJobInstanceCount returns the number of instances of jobName.
	GetJobInstanceCount(ctx context.Context, jobName string) (int, error)
}

// JobExecution defines operations on job executions.
type JobExecution interface {
	SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error

	// UpdateJobExecution stores the state of jobExecution with an optimistic version check.
	UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error

	// FindJobExecutionByID loads an execution together with its step executions.
	FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error)

	// FindLatestJobExecution loads the most recent execution of an instance, with its step executions.
	FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error)

	// FindJobExecutionsByJobInstance lists the executions of an instance, newest first, without step executions.
	FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *model.JobInstance) ([]*model.JobExecution, error)
}

// StepExecution defines operations on step executions.
type StepExecution interface {
	SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error
	UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error
	FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error)
	FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error)
}

// CheckpointDataRepository persists the restart state of step executions.
type CheckpointDataRepository interface {
	// SaveCheckpointData inserts or replaces the checkpoint of data.StepExecutionID.
	SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error
	FindCheckpointData(ctx context.Context, stepExecutionID string) (*model.CheckpointData, error)
}

// JobRepository persists and manages batch execution metadata.
type JobRepository interface {
	JobInstance
	JobExecution
	StepExecution
	CheckpointDataRepository

	// CreateJobExecution atomically decides whether req may start and, if so,
	// stores the new execution. See EvaluateLaunch for the decision table.
	CreateJobExecution(ctx context.Context, req LaunchRequest) (*model.JobExecution, error)

	// Close releases resources used by the repository.
	Close() error
}
