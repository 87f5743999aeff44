package metrics

import (
	"context"

	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
)

// Tracer is an abstract interface for distributed tracing.
// This interface provides functionality to integrate with tracing systems like OpenTelemetry,
// enabling visualization of job, step and chunk execution flows.
type Tracer interface {
	// StartJobSpan starts a Span for a JobExecution.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	//          It is recommended to call the returned function in a defer statement.
	StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func())

	// StartStepSpan starts a Span for a StepExecution.
	//
	// ctx: The parent context (typically a context with a JobSpan).
	StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func())

	// StartChunkSpan starts a Span for one chunk of a step.
	StartChunkSpan(ctx context.Context, stepName string, chunkIndex int) (context.Context, func())

	// RecordError records an error in the current Span.
	//
	// module: The name of the module or component where the error occurred (e.g., "reader", "writer").
	RecordError(ctx context.Context, module string, err error)
}
