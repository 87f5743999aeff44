package usecase

import (
	"fmt"
	"sort"
	"sync"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	logger "github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// JobRegistry holds the jobs that can be launched by name.
type JobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]port.Job
}

// NewJobRegistry creates an empty registry.
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{jobs: make(map[string]port.Job)}
}

// Register adds job under its JobName. Registering a name twice is an error.
func (r *JobRegistry) Register(job port.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := job.JobName()
	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("job '%s' is already registered", name)
	}
	r.jobs[name] = job
	logger.Debugf("JobRegistry: registered job '%s'.", name)
	return nil
}

// Get returns the job registered under name.
func (r *JobRegistry) Get(name string) (port.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[name]
	return job, ok
}

// Names returns the registered job names in sorted order.
func (r *JobRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
