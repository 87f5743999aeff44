package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
)

// SaveJobExecution stores a new JobExecution. Attached step executions are not saved.
func (r *InMemoryJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobExecutions[jobExecution.ID]; exists {
		return exception.Wrap(module, exception.ErrDuplicateKey, fmt.Sprintf("JobExecution with ID %s already exists", jobExecution.ID), nil)
	}
	r.jobExecutions[jobExecution.ID] = cloneJobExecution(jobExecution)
	return nil
}

// UpdateJobExecution replaces the stored execution when the versions match and bumps the version.
func (r *InMemoryJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobExecutions[jobExecution.ID]
	if !ok {
		return repository.ErrJobExecutionNotFound
	}
	if stored.Version != jobExecution.Version {
		return exception.NewOptimisticLockingFailureException(module,
			fmt.Sprintf("JobExecution (ID: %s) with version %d not found for update", jobExecution.ID, jobExecution.Version), nil)
	}
	jobExecution.Version++
	r.jobExecutions[jobExecution.ID] = cloneJobExecution(jobExecution)
	return nil
}

// FindJobExecutionByID returns a copy of the execution with its step executions.
func (r *InMemoryJobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	je, ok := r.jobExecutions[id]
	if !ok {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withSteps(je), nil
}

// FindLatestJobExecution returns the execution with the highest restart count,
// the newest one on ties.
func (r *InMemoryJobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.JobExecution
	for _, je := range r.jobExecutions {
		if je.JobInstanceID != jobInstanceID {
			continue
		}
		if latest == nil || newer(je, latest) {
			latest = je
		}
	}
	if latest == nil {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withSteps(latest), nil
}

func (r *InMemoryJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *model.JobInstance) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executions := make([]*model.JobExecution, 0)
	for _, je := range r.jobExecutions {
		if je.JobInstanceID == jobInstance.ID {
			executions = append(executions, cloneJobExecution(je))
		}
	}
	sort.Slice(executions, func(i, j int) bool {
		return newer(executions[i], executions[j])
	})
	return executions, nil
}

func newer(a, b *model.JobExecution) bool {
	if a.RestartCount != b.RestartCount {
		return a.RestartCount > b.RestartCount
	}
	return a.CreateTime.After(b.CreateTime)
}

// withSteps clones je and attaches clones of its step executions ordered by start time.
// The caller holds r.mu.
func (r *InMemoryJobRepository) withSteps(je *model.JobExecution) *model.JobExecution {
	out := cloneJobExecution(je)
	steps := make([]*model.StepExecution, 0)
	for _, se := range r.stepExecutions {
		if se.JobExecutionID == je.ID {
			steps = append(steps, cloneStepExecution(se))
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].StartTime.Before(steps[j].StartTime)
	})
	for _, se := range steps {
		out.AddStepExecution(se)
	}
	return out
}
