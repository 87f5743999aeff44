// Package logging provides listeners that report job, step and chunk events to the logger.
package logging

import (
	"context"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// --- Job Execution Listener ---

// LoggingJobListener logs job boundaries. Parameters are rendered with sensitive keys masked.
type LoggingJobListener struct{}

func NewLoggingJobListener() *LoggingJobListener {
	return &LoggingJobListener{}
}

func (l *LoggingJobListener) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {
	logger.Infof("JobExecutionListener: BeforeJob - JobName: %s, ID: %s, RestartCount: %d, Params: %s",
		jobExecution.JobName, jobExecution.ID, jobExecution.RestartCount, jobExecution.Parameters.String())
}

func (l *LoggingJobListener) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	if len(jobExecution.Failures) > 0 {
		logger.Warnf("JobExecutionListener: AfterJob - JobName: %s, Status: %s, ExitStatus: %s, Failures: %v",
			jobExecution.JobName, jobExecution.Status, jobExecution.ExitStatus, jobExecution.Failures)
		return
	}
	logger.Infof("JobExecutionListener: AfterJob - JobName: %s, Status: %s, ExitStatus: %s", jobExecution.JobName, jobExecution.Status, jobExecution.ExitStatus)
}

var _ port.JobExecutionListener = (*LoggingJobListener)(nil)

// --- Step Execution Listener ---

type LoggingStepListener struct{}

func NewLoggingStepListener() *LoggingStepListener {
	return &LoggingStepListener{}
}

func (l *LoggingStepListener) BeforeStep(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Infof("StepExecutionListener: BeforeStep - StepName: %s, ID: %s", stepExecution.StepName, stepExecution.ID)
}

func (l *LoggingStepListener) AfterStep(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Infof("StepExecutionListener: AfterStep - StepName: %s, Status: %s, ExitStatus: %s, Read: %d, Write: %d, Filter: %d, Commit: %d, Rollback: %d",
		stepExecution.StepName, stepExecution.Status, stepExecution.ExitStatus,
		stepExecution.ReadCount, stepExecution.WriteCount, stepExecution.FilterCount,
		stepExecution.CommitCount, stepExecution.RollbackCount)
}

var _ port.StepExecutionListener = (*LoggingStepListener)(nil)

// --- Chunk Listener ---

type LoggingChunkListener struct{}

func NewLoggingChunkListener() *LoggingChunkListener {
	return &LoggingChunkListener{}
}

func (l *LoggingChunkListener) BeforeChunk(ctx context.Context, stepExecution *model.StepExecution, chunkIndex int) {
	logger.Debugf("ChunkListener: BeforeChunk - StepName: %s, Chunk: %d", stepExecution.StepName, chunkIndex)
}

func (l *LoggingChunkListener) AfterChunk(ctx context.Context, stepExecution *model.StepExecution, chunkIndex int, err error) {
	if err != nil {
		logger.Warnf("ChunkListener: AfterChunk - StepName: %s, Chunk: %d rolled back: %v", stepExecution.StepName, chunkIndex, err)
		return
	}
	logger.Debugf("ChunkListener: AfterChunk - StepName: %s, Chunk: %d committed", stepExecution.StepName, chunkIndex)
}

var _ port.ChunkListener = (*LoggingChunkListener)(nil)
