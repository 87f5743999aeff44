package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
)

// MetricRecorder is an abstract interface for recording metrics related to batch execution.
//
// This interface provides a standardized way to record metrics for job, step, item-level events,
// and chunk processing. Chunk-level methods are called from concurrent workers, so
// implementations must be safe for concurrent use.
type MetricRecorder interface {
	// RecordJobStart records the start of a JobExecution.
	RecordJobStart(ctx context.Context, execution *model.JobExecution)

	// RecordJobEnd records the end of a JobExecution.
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)

	// RecordStepStart records the start of a StepExecution.
	RecordStepStart(ctx context.Context, execution *model.StepExecution)

	// RecordStepEnd records the end of a StepExecution.
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)

	// RecordItemRead records the successful reading of an item.
	//
	// ctx: The context for the operation.
	// stepName: The name of the step where the item was read.
	RecordItemRead(ctx context.Context, stepName string)

	// RecordItemFilter records an item dropped by a processor.
	RecordItemFilter(ctx context.Context, stepName string)

	// RecordItemWrite records the successful writing of items.
	//
	// ctx: The context for the operation.
	// stepName: The name of the step where the items were written.
	// count: The number of items written.
	RecordItemWrite(ctx context.Context, stepName string, count int)

	// RecordChunkCommit records the commitment of a chunk.
	RecordChunkCommit(ctx context.Context, stepName string, count int)

	// RecordChunkRollback records a chunk whose transaction was rolled back.
	//
	// reason: A short classification of the failure (e.g., "mapping", "write").
	RecordChunkRollback(ctx context.Context, stepName string, reason string)

	// RecordDuration records the execution time of a specific operation.
	//
	// ctx: The context for the operation.
	// name: The name of the duration to record (e.g., "chunk_duration").
	// duration: The length of the duration to record.
	// tags: A map of additional tags or attributes to associate with the duration.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
