package usecase

import (
	"context"
	"fmt"

	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	job "github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// SimpleJobExplorer is a simple implementation of the JobExplorer interface.
// It queries batch metadata using a JobRepository. Not-found errors keep the
// repository sentinels in their chain.
type SimpleJobExplorer struct {
	jobRepository job.JobRepository
}

// Verify that SimpleJobExplorer implements the JobExplorer interface.
var _ JobExplorer = (*SimpleJobExplorer)(nil)

// NewSimpleJobExplorer creates a new instance of SimpleJobExplorer.
func NewSimpleJobExplorer(jobRepository job.JobRepository) *SimpleJobExplorer {
	return &SimpleJobExplorer{
		jobRepository: jobRepository,
	}
}

// GetJobExecution retrieves a JobExecution by its ID.
func (e *SimpleJobExplorer) GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error) {
	logger.Debugf("JobExplorer: GetJobExecution called. Execution ID: %s", executionID)
	jobExecution, err := e.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobExecution (ID: %s)", executionID), err, false, false)
	}
	return jobExecution, nil
}

// GetJobExecutions retrieves all JobExecutions associated with the specified JobInstance.
func (e *SimpleJobExplorer) GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error) {
	logger.Debugf("JobExplorer: GetJobExecutions called. Instance ID: %s", instanceID)

	jobInstance, err := e.GetJobInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	jobExecutions, err := e.jobRepository.FindJobExecutionsByJobInstance(ctx, jobInstance)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobExecutions associated with JobInstance (ID: %s)", instanceID), err, false, false)
	}
	logger.Debugf("Retrieved %d JobExecutions associated with JobInstance (ID: %s).", len(jobExecutions), instanceID)
	return jobExecutions, nil
}

// GetLastJobExecution retrieves the latest JobExecution for a given JobInstance.
func (e *SimpleJobExplorer) GetLastJobExecution(ctx context.Context, instanceID string) (*model.JobExecution, error) {
	logger.Debugf("JobExplorer: GetLastJobExecution called. Instance ID: %s", instanceID)
	jobExecution, err := e.jobRepository.FindLatestJobExecution(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve the latest JobExecution for JobInstance (ID: %s)", instanceID), err, false, false)
	}
	return jobExecution, nil
}

// GetJobInstance retrieves a JobInstance by its ID.
func (e *SimpleJobExplorer) GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error) {
	logger.Debugf("JobExplorer: GetJobInstance called. Instance ID: %s", instanceID)
	jobInstance, err := e.jobRepository.FindJobInstanceByID(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobInstance (ID: %s)", instanceID), err, false, false)
	}
	return jobInstance, nil
}

// GetJobInstanceCount returns the number of instances recorded for jobName.
func (e *SimpleJobExplorer) GetJobInstanceCount(ctx context.Context, jobName string) (int, error) {
	count, err := e.jobRepository.GetJobInstanceCount(ctx, jobName)
	if err != nil {
		return 0, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to count JobInstances of '%s'", jobName), err, false, false)
	}
	return count, nil
}
