// Package inmemory provides an in-memory implementation of the JobRepository interface.
// It keeps batch metadata in maps and is suitable for tests and single-process runs
// where the metadata does not need to survive a restart.
package inmemory

import (
	"context"
	"sync"

	"github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
)

// InMemoryJobRepository is an in-memory implementation of repository.JobRepository.
// Stored entities are copies; callers never share state with the repository.
type InMemoryJobRepository struct {
	jobInstances   map[string]*model.JobInstance
	jobExecutions  map[string]*model.JobExecution
	stepExecutions map[string]*model.StepExecution
	checkpointData map[string]*model.CheckpointData
	mu             sync.RWMutex

	// launchMu makes CreateJobExecution a single critical section.
	launchMu sync.Mutex
}

// NewInMemoryJobRepository creates an empty InMemoryJobRepository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobInstances:   make(map[string]*model.JobInstance),
		jobExecutions:  make(map[string]*model.JobExecution),
		stepExecutions: make(map[string]*model.StepExecution),
		checkpointData: make(map[string]*model.CheckpointData),
	}
}

// CreateJobExecution runs the launch decision while holding the launch lock.
func (r *InMemoryJobRepository) CreateJobExecution(ctx context.Context, req repository.LaunchRequest) (*model.JobExecution, error) {
	r.launchMu.Lock()
	defer r.launchMu.Unlock()
	return repository.CreateJobExecutionWith(ctx, r, req)
}

// Close releases resources used by the repository. It holds none.
func (r *InMemoryJobRepository) Close() error {
	return nil
}

func cloneJobInstance(ji *model.JobInstance) *model.JobInstance {
	c := *ji
	c.Parameters = ji.Parameters.Copy()
	return &c
}

// cloneJobExecution copies je without its step executions.
func cloneJobExecution(je *model.JobExecution) *model.JobExecution {
	c := *je
	c.Parameters = je.Parameters.Copy()
	c.ExecutionContext = je.ExecutionContext.Copy()
	c.Failures = append(model.FailureList{}, je.Failures...)
	c.StepExecutions = make([]*model.StepExecution, 0)
	c.CancelFunc = nil
	return &c
}

func cloneStepExecution(se *model.StepExecution) *model.StepExecution {
	c := *se
	c.JobExecution = nil
	c.ExecutionContext = se.ExecutionContext.Copy()
	c.Failures = append(model.FailureList{}, se.Failures...)
	return &c
}
