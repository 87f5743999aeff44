package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
)

func (r *InMemoryJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stepExecutions[stepExecution.ID]; exists {
		return exception.Wrap(module, exception.ErrDuplicateKey, fmt.Sprintf("StepExecution with ID %s already exists", stepExecution.ID), nil)
	}
	r.stepExecutions[stepExecution.ID] = cloneStepExecution(stepExecution)
	return nil
}

func (r *InMemoryJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.stepExecutions[stepExecution.ID]
	if !ok {
		return repository.ErrStepExecutionNotFound
	}
	if stored.Version != stepExecution.Version {
		return exception.NewOptimisticLockingFailureException(module,
			fmt.Sprintf("StepExecution (ID: %s) with version %d not found for update", stepExecution.ID, stepExecution.Version), nil)
	}
	stepExecution.Version++
	r.stepExecutions[stepExecution.ID] = cloneStepExecution(stepExecution)
	return nil
}

func (r *InMemoryJobRepository) FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	se, ok := r.stepExecutions[id]
	if !ok {
		return nil, repository.ErrStepExecutionNotFound
	}
	return cloneStepExecution(se), nil
}

func (r *InMemoryJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps := make([]*model.StepExecution, 0)
	for _, se := range r.stepExecutions {
		if se.JobExecutionID == jobExecutionID {
			steps = append(steps, cloneStepExecution(se))
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].StartTime.Before(steps[j].StartTime)
	})
	return steps, nil
}
