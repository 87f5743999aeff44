package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// ErrNoSuchJob is returned when a launch names a job that is not registered.
var ErrNoSuchJob = errors.New("no such job")

// ErrLauncherClosed is returned by Launch after Shutdown has been called.
var ErrLauncherClosed = errors.New("job launcher is shut down")

const launcherModule = "job_launcher"

// SimpleJobLauncher implements JobLauncher for local execution.
//
// Jobs run on a context owned by the launcher, not on the caller's context, so a
// launch triggered by an HTTP request outlives the request. Shutdown cancels them.
type SimpleJobLauncher struct {
	jobRepository repository.JobRepository
	registry      *JobRegistry
	jobRunner     port.JobRunner

	baseCtx    context.Context
	cancelBase context.CancelFunc

	// activeJobCancellations holds the cancel functions for running jobs.
	activeJobCancellations map[string]context.CancelFunc
	mu                     sync.Mutex
	closed                 bool
	wg                     sync.WaitGroup
}

var _ JobLauncher = (*SimpleJobLauncher)(nil)

// NewSimpleJobLauncher creates a new SimpleJobLauncher.
func NewSimpleJobLauncher(
	repo repository.JobRepository,
	registry *JobRegistry,
	runner port.JobRunner,
) *SimpleJobLauncher {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &SimpleJobLauncher{
		jobRepository:          repo,
		registry:               registry,
		jobRunner:              runner,
		baseCtx:                baseCtx,
		cancelBase:             cancel,
		activeJobCancellations: make(map[string]context.CancelFunc),
	}
}

// Launch launches a new execution of jobName.
func (l *SimpleJobLauncher) Launch(ctx context.Context, jobName string, jobParameters model.JobParameters) (*model.JobExecution, error) {
	return l.launch(ctx, repository.LaunchRequest{JobName: jobName, Parameters: jobParameters})
}

// Restart launches a new execution of the FAILED or STOPPED instance identified by
// jobName and jobParameters.
func (l *SimpleJobLauncher) Restart(ctx context.Context, jobName string, jobParameters model.JobParameters) (*model.JobExecution, error) {
	return l.launch(ctx, repository.LaunchRequest{JobName: jobName, Parameters: jobParameters, Restart: true})
}

func (l *SimpleJobLauncher) launch(ctx context.Context, req repository.LaunchRequest) (*model.JobExecution, error) {
	logger.Infof("Launching Job '%s' (restart: %t). Parameters: %s", req.JobName, req.Restart, req.Parameters.String())

	job, ok := l.registry.Get(req.JobName)
	if !ok {
		return nil, exception.NewBatchError(launcherModule, fmt.Sprintf("job '%s' is not registered", req.JobName), ErrNoSuchJob, false, false)
	}

	if err := job.ValidateParameters(req.Parameters); err != nil {
		logger.Errorf("Job '%s': JobParameters validation failed: %v", req.JobName, err)
		if errors.Is(err, exception.ErrJobParametersInvalid) {
			return nil, err
		}
		return nil, exception.Wrap(launcherModule, exception.ErrJobParametersInvalid, "JobParameters validation error", err)
	}

	// The execution ID is reserved and registered before the execution is stored,
	// so the operator never sees a stored STARTING execution as orphaned.
	req.ExecutionID = model.NewID()
	jobCtx, cancel := context.WithCancel(l.baseCtx)
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		cancel()
		return nil, exception.NewBatchError(launcherModule, "cannot launch job", ErrLauncherClosed, false, false)
	}
	l.activeJobCancellations[req.ExecutionID] = cancel
	l.wg.Add(1)
	l.mu.Unlock()

	jobExecution, err := l.jobRepository.CreateJobExecution(ctx, req)
	if err != nil {
		l.unregister(req.ExecutionID)
		cancel()
		l.wg.Done()
		logger.Warnf("Job '%s' was not launched: %v", req.JobName, err)
		return nil, err
	}
	jobExecution.CancelFunc = cancel

	logger.Infof("Starting Job '%s' (Execution ID: %s, Job Instance ID: %s).", req.JobName, jobExecution.ID, jobExecution.JobInstanceID)

	// The caller gets a snapshot; the runner owns jobExecution from here on.
	snapshot := *jobExecution
	snapshot.StepExecutions = nil
	snapshot.ExecutionContext = jobExecution.ExecutionContext.Copy()

	go func() {
		defer l.wg.Done()
		defer l.unregister(jobExecution.ID)
		defer cancel()
		l.jobRunner.Run(jobCtx, job, jobExecution)
	}()

	return &snapshot, nil
}

func (l *SimpleJobLauncher) unregister(executionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.activeJobCancellations, executionID)
	logger.Debugf("Unregistered CancelFunc for JobExecution (ID: %s).", executionID)
}

// IsRunning reports whether executionID is running in this process.
func (l *SimpleJobLauncher) IsRunning(executionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.activeJobCancellations[executionID]
	return ok
}

// Stop cancels executionID. It returns false when the execution is not running in this process.
func (l *SimpleJobLauncher) Stop(executionID string) bool {
	l.mu.Lock()
	cancel, ok := l.activeJobCancellations[executionID]
	l.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until every launched job has finished.
func (l *SimpleJobLauncher) Wait() {
	l.wg.Wait()
}

// Shutdown rejects new launches, cancels running jobs and waits for them to record
// their final state, or for ctx to end.
func (l *SimpleJobLauncher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	running := len(l.activeJobCancellations)
	l.mu.Unlock()

	if running > 0 {
		logger.Infof("JobLauncher: stopping %d running job(s).", running)
	}
	l.cancelBase()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Infof("JobLauncher: all jobs finished.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job launcher shutdown: %w", ctx.Err())
	}
}
