// Package port defines the core interfaces (ports) for the batch application.
// These interfaces abstract the application's capabilities and dependencies,
// allowing for flexible implementation and testing.
package port

import (
	"context"
	"errors"

	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
)

// ErrItemFiltered is returned by an ItemProcessor to drop an item from its chunk.
// The item is counted in StepExecution.FilterCount and is not written.
var ErrItemFiltered = errors.New("item filtered")

// JobRunner is the interface responsible for executing a Job.
type JobRunner interface {
	// Run executes job for jobExecution and records the terminal state. It blocks until the job ends.
	//
	// Parameters:
	//   ctx: The context for the operation. Cancelling it stops the job.
	//   job: The job definition to run.
	//   jobExecution: The JobExecution created by the launcher.
	Run(ctx context.Context, job Job, jobExecution *model.JobExecution)
}

// Job is the interface for an executable batch job.
type Job interface {
	// Run executes the job steps in order.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   jobExecution: The current JobExecution instance.
	//   jobParameters: The job parameters for the execution.
	//
	// Returns:
	//   error: An error if the job execution fails.
	Run(ctx context.Context, jobExecution *model.JobExecution, jobParameters model.JobParameters) error
	// JobName returns the logical name of the job.
	JobName() string
	// ValidateParameters validates job parameters before a launch is recorded.
	ValidateParameters(params model.JobParameters) error
}

// Step is the interface for a single step executed within a job.
type Step interface {
	// Execute executes the business logic of the step and leaves stepExecution in a terminal status.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   jobExecution: The current JobExecution instance.
	//   stepExecution: The current StepExecution instance.
	//
	// Returns:
	//   error: An error if the step did not complete.
	Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error
	// StepName returns the logical name of the step.
	StepName() string
}

// ItemReader is the interface for a data reading step.
// O is the type of item to be read.
type ItemReader[O any] interface {
	// Open opens resources and restores state from ExecutionContext.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   ec: The ExecutionContext of the step at the start of reading.
	//
	// Returns:
	//   error: An error if opening fails.
	Open(ctx context.Context, ec model.ExecutionContext) error
	// Read reads the next item. It returns io.EOF when no more items are available.
	Read(ctx context.Context) (O, error)
	// Close releases resources. It is safe to call after a failed Open.
	Close(ctx context.Context) error
}

// ItemProcessor is the interface for an item processing step.
// I is the type of input item, O is the type of output item.
// Implementations are called concurrently from chunk workers and must not share mutable state.
type ItemProcessor[I, O any] interface {
	// Process converts item. Returning ErrItemFiltered drops it from the chunk.
	Process(ctx context.Context, item I) (O, error)
}

// ItemWriter is the interface for a data writing step.
// I is the type of item to be written.
type ItemWriter[I any] interface {
	// Write persists one chunk. The chunk transaction is carried by ctx (see tx.FromContext).
	//
	// Parameters:
	//   ctx: The context holding the chunk transaction.
	//   items: The items of the chunk, in read order.
	//
	// Returns:
	//   error: An error if writing fails. The chunk is rolled back.
	Write(ctx context.Context, items []I) error
}

// JobParametersValidator checks the parameters of a launch.
type JobParametersValidator interface {
	Validate(params model.JobParameters) error
}

// JobParametersIncrementer is an interface for automatically incrementing JobParameters.
type JobParametersIncrementer interface {
	// GetNext generates the next JobParameters based on the current parameters.
	//
	// Parameters:
	//   params: The current JobParameters.
	//
	// Returns:
	//   model.JobParameters: The next JobParameters.
	GetNext(params model.JobParameters) model.JobParameters
}

// StepExecutionListener is an interface for handling step execution events.
type StepExecutionListener interface {
	// BeforeStep is called just before a step execution starts.
	BeforeStep(ctx context.Context, stepExecution *model.StepExecution)
	// AfterStep is called after a step execution completes (regardless of success or failure).
	AfterStep(ctx context.Context, stepExecution *model.StepExecution)
}

// ChunkListener is an interface for handling chunk processing events.
// It is called from worker goroutines.
type ChunkListener interface {
	// BeforeChunk is called before the chunk transaction begins.
	BeforeChunk(ctx context.Context, stepExecution *model.StepExecution, chunkIndex int)
	// AfterChunk is called after the chunk committed or rolled back. err is nil on commit.
	AfterChunk(ctx context.Context, stepExecution *model.StepExecution, chunkIndex int, err error)
}

// JobExecutionListener is an interface for handling job execution events.
type JobExecutionListener interface {
	// BeforeJob is called just before a job execution starts.
	BeforeJob(ctx context.Context, jobExecution *model.JobExecution)
	// AfterJob is called after a job execution completes (regardless of success or failure).
	AfterJob(ctx context.Context, jobExecution *model.JobExecution)
}

// Define context key for StepExecution propagation during chunk processing.
type contextKey string

const StepExecutionKey contextKey = "stepExecution"

// GetContextWithStepExecution stores a StepExecution in the Context.
func GetContextWithStepExecution(ctx context.Context, se *model.StepExecution) context.Context {
	return context.WithValue(ctx, StepExecutionKey, se)
}

// GetStepExecutionFromContext retrieves a StepExecution from the Context. Returns nil if not found.
func GetStepExecutionFromContext(ctx context.Context) *model.StepExecution {
	if se, ok := ctx.Value(StepExecutionKey).(*model.StepExecution); ok {
		return se
	}
	return nil
}
