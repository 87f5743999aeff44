package inmemory

import (
	"context"
	"fmt"

	"github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
)

const module = "InMemoryJobRepository"

// SaveJobInstance stores a new JobInstance. Job name and parameters hash are unique.
func (r *InMemoryJobRepository) SaveJobInstance(ctx context.Context, instance *model.JobInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobInstances[instance.ID]; exists {
		return exception.Wrap(module, exception.ErrDuplicateKey, fmt.Sprintf("JobInstance with ID %s already exists", instance.ID), nil)
	}
	for _, ji := range r.jobInstances {
		if ji.JobName == instance.JobName && ji.ParametersHash == instance.ParametersHash {
			return exception.Wrap(module, exception.ErrDuplicateKey,
				fmt.Sprintf("JobInstance for job %s with hash %s already exists", instance.JobName, instance.ParametersHash), nil)
		}
	}
	r.jobInstances[instance.ID] = cloneJobInstance(instance)
	return nil
}

// UpdateJobInstance bumps the stored version when instance.Version matches it.
func (r *InMemoryJobRepository) UpdateJobInstance(ctx context.Context, instance *model.JobInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobInstances[instance.ID]
	if !ok {
		return repository.ErrJobInstanceNotFound
	}
	if stored.Version != instance.Version {
		return exception.NewOptimisticLockingFailureException(module,
			fmt.Sprintf("JobInstance (ID: %s) with version %d not found for update", instance.ID, instance.Version), nil)
	}
	instance.Version++
	r.jobInstances[instance.ID] = cloneJobInstance(instance)
	return nil
}

func (r *InMemoryJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ji, ok := r.jobInstances[id]
	if !ok {
		return nil, repository.ErrJobInstanceNotFound
	}
	return cloneJobInstance(ji), nil
}

func (r *InMemoryJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, exception.NewBatchError(module, "failed to calculate JobParameters hash", err, false, false)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ji := range r.jobInstances {
		if ji.JobName == jobName && ji.ParametersHash == hash {
			return cloneJobInstance(ji), nil
		}
	}
	return nil, repository.ErrJobInstanceNotFound
}

func (r *InMemoryJobRepository) GetJobInstanceCount(ctx context.Context, jobName string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, ji := range r.jobInstances {
		if ji.JobName == jobName {
			count++
		}
	}
	return count, nil
}
