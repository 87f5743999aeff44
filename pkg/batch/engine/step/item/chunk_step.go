package item

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	config "github.com/tigerroll/csvimport/pkg/batch/core/config"
	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/csvimport/pkg/batch/core/metrics"
	tx "github.com/tigerroll/csvimport/pkg/batch/core/tx"
	exception "github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// Execution context keys written by ChunkStep.
const (
	// ChunkSizeKey records the chunk size the committed chunk indexes refer to.
	ChunkSizeKey = "batch.chunkSize"
	// CommittedChunksKey holds the sorted indexes of committed chunks.
	CommittedChunksKey = "batch.committedChunks"
	// ReadCountKey and WriteCountKey mirror the step counters for restarts.
	ReadCountKey  = "batch.readCount"
	WriteCountKey = "batch.writeCount"
)

const module = "ChunkStep"

// ChunkStep is a chunk-oriented port.Step. A single producer reads items and cuts them
// into chunks of chunkSize; a bounded pool of workers processes, writes and commits
// each chunk in its own transaction.
type ChunkStep[I, O any] struct {
	name          string
	reader        port.ItemReader[I]
	processor     port.ItemProcessor[I, O]
	writer        port.ItemWriter[O]
	chunkSize     int
	poolSize      int
	restartPolicy string
	txOptions     *sql.TxOptions

	jobRepository  repository.JobRepository
	txManager      tx.TransactionManager
	stepListeners  []port.StepExecutionListener
	chunkListeners []port.ChunkListener

	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

var _ port.Step = (*ChunkStep[any, any])(nil)

// StepName implements port.Step.
func (s *ChunkStep[I, O]) StepName() string { return s.name }

// ChunkSize returns the number of items per chunk.
func (s *ChunkStep[I, O]) ChunkSize() int { return s.chunkSize }

// PoolSize returns the maximum number of chunks in flight.
func (s *ChunkStep[I, O]) PoolSize() int { return s.poolSize }

// chunkRun is the state shared between the producer and the workers of one execution.
type chunkRun struct {
	mu        sync.Mutex
	se        *model.StepExecution
	committed []int
	errs      *multierror.Error
	failed    atomic.Bool
}

// Execute implements port.Step.
//
// The step ends COMPLETED when the reader is exhausted and every chunk committed,
// FAILED when the reader cannot be opened or read or any chunk rolled back, and
// STOPPED when ctx is cancelled first. Chunks already handed to a worker always
// run to completion; items read but not yet dispatched are discarded.
func (s *ChunkStep[I, O]) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error {
	ctx, endSpan := s.tracer.StartStepSpan(ctx, stepExecution)
	defer endSpan()
	ctx = port.GetContextWithStepExecution(ctx, stepExecution)

	for _, l := range s.stepListeners {
		l.BeforeStep(ctx, stepExecution)
	}
	defer func() {
		for _, l := range s.stepListeners {
			l.AfterStep(ctx, stepExecution)
		}
	}()

	// Metadata writes must land even after ctx is cancelled.
	metaCtx := context.WithoutCancel(ctx)
	run := &chunkRun{se: stepExecution}
	skip := s.restoreCheckpoint(metaCtx, run)

	if err := s.reader.Open(ctx, stepExecution.ExecutionContext); err != nil {
		openErr := exception.Wrap(module, exception.ErrItemStreamOpen,
			fmt.Sprintf("step '%s' could not open its reader", s.name), err)
		s.tracer.RecordError(ctx, "reader", openErr)
		stepExecution.MarkAsFailed(openErr)
		s.saveStepExecution(metaCtx, run)
		_ = s.reader.Close(ctx)
		return openErr
	}
	defer func() {
		if err := s.reader.Close(ctx); err != nil {
			logger.Warnf("Step '%s': failed to close reader: %v", s.name, err)
		}
	}()

	stepExecution.MarkAsStarted()
	stepExecution.ExecutionContext.Put(ChunkSizeKey, s.chunkSize)
	s.saveStepExecution(metaCtx, run)
	logger.Infof("Step '%s' (ID: %s) started. chunkSize=%d, poolSize=%d, restartPolicy=%s",
		s.name, stepExecution.ID, s.chunkSize, s.poolSize, s.restartPolicy)

	stopped, readErr := s.dispatch(ctx, run, skip)

	run.mu.Lock()
	defer run.mu.Unlock()
	stepExecution.ExecutionContext.Put(ReadCountKey, stepExecution.ReadCount)
	stepExecution.ExecutionContext.Put(WriteCountKey, stepExecution.WriteCount)

	var stepErr error
	if readErr != nil {
		run.errs = multierror.Append(run.errs, readErr)
	}
	switch {
	case run.errs != nil:
		for _, e := range run.errs.Errors {
			stepExecution.AddFailureException(e)
		}
		stepErr = run.errs.ErrorOrNil()
		stepExecution.MarkAsFailed(nil)
		logger.Errorf("Step '%s' (ID: %s) failed: %v", s.name, stepExecution.ID, stepErr)
	case stopped:
		stepExecution.MarkAsStopped()
		logger.Warnf("Step '%s' (ID: %s) stopped after %d committed chunks.", s.name, stepExecution.ID, len(run.committed))
	default:
		stepExecution.MarkAsCompleted()
		logger.Infof("Step '%s' (ID: %s) completed. read=%d, write=%d, filter=%d, commit=%d",
			s.name, stepExecution.ID, stepExecution.ReadCount, stepExecution.WriteCount,
			stepExecution.FilterCount, stepExecution.CommitCount)
	}
	if err := s.jobRepository.UpdateStepExecution(metaCtx, stepExecution); err != nil {
		logger.Errorf("Step '%s': failed to store final StepExecution (ID: %s): %v", s.name, stepExecution.ID, err)
		if stepErr == nil {
			stepErr = err
		}
	}
	return stepErr
}

// dispatch runs the producer loop. It reports whether dispatching stopped because
// ctx was cancelled, and the read error, if any.
func (s *ChunkStep[I, O]) dispatch(ctx context.Context, run *chunkRun, skip map[int]bool) (bool, error) {
	g := new(errgroup.Group)
	g.SetLimit(s.poolSize)
	workerCtx := context.WithoutCancel(ctx)

	var (
		readErr error
		stopped bool
		index   int
		buffer  = make([]I, 0, s.chunkSize)
	)
	submit := func() {
		chunkIndex, items := index, buffer
		index++
		buffer = make([]I, 0, s.chunkSize)
		if skip[chunkIndex] {
			logger.Debugf("Step '%s': chunk %d was committed by a previous execution, skipping.", s.name, chunkIndex)
			return
		}
		if run.failed.Load() {
			logger.Debugf("Step '%s': discarding chunk %d after an earlier chunk failed.", s.name, chunkIndex)
			return
		}
		// Go blocks while poolSize chunks are in flight. A dispatched chunk always
		// runs to commit or rollback.
		g.Go(func() error {
			run.mu.Lock()
			run.se.ReadCount += len(items)
			run.mu.Unlock()
			s.processChunk(workerCtx, run, chunkIndex, items)
			return nil
		})
	}

	for {
		if ctx.Err() != nil {
			stopped = true
			break
		}
		if run.failed.Load() {
			break
		}
		item, err := s.reader.Read(ctx)
		if errors.Is(err, io.EOF) {
			if len(buffer) > 0 {
				submit()
			}
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				stopped = true
				break
			}
			readErr = fmt.Errorf("step '%s' failed to read item after chunk %d: %w", s.name, index, err)
			s.tracer.RecordError(ctx, "reader", readErr)
			break
		}
		s.metricRecorder.RecordItemRead(ctx, s.name)
		buffer = append(buffer, item)
		if len(buffer) == s.chunkSize {
			submit()
		}
	}

	// Errors are collected in run.errs.
	_ = g.Wait()
	return stopped, readErr
}

// processChunk processes, writes and commits one chunk inside its own transaction.
func (s *ChunkStep[I, O]) processChunk(ctx context.Context, run *chunkRun, chunkIndex int, items []I) {
	start := time.Now()
	ctx, endSpan := s.tracer.StartChunkSpan(ctx, s.name, chunkIndex)
	defer endSpan()

	run.mu.Lock()
	for _, l := range s.chunkListeners {
		l.BeforeChunk(ctx, run.se, chunkIndex)
	}
	run.mu.Unlock()

	written, filtered, reason, err := s.writeChunk(ctx, items)
	if err != nil {
		chunkErr := exception.Wrap(module, exception.ErrChunkWrite,
			fmt.Sprintf("chunk %d of step '%s' (%d items) rolled back", chunkIndex, s.name, len(items)), err)
		s.tracer.RecordError(ctx, "chunk", chunkErr)
		s.metricRecorder.RecordChunkRollback(ctx, s.name, reason)

		run.mu.Lock()
		run.failed.Store(true)
		run.errs = multierror.Append(run.errs, chunkErr)
		run.se.RollbackCount++
		for _, l := range s.chunkListeners {
			l.AfterChunk(ctx, run.se, chunkIndex, chunkErr)
		}
		run.mu.Unlock()
		logger.Errorf("%v", chunkErr)
		return
	}

	s.metricRecorder.RecordItemWrite(ctx, s.name, written)
	s.metricRecorder.RecordChunkCommit(ctx, s.name, written)
	for i := 0; i < filtered; i++ {
		s.metricRecorder.RecordItemFilter(ctx, s.name)
	}
	s.metricRecorder.RecordDuration(ctx, "chunk_duration", time.Since(start), map[string]string{"step_name": s.name})

	run.mu.Lock()
	defer run.mu.Unlock()
	run.se.WriteCount += written
	run.se.FilterCount += filtered
	run.se.CommitCount++
	run.committed = insertSorted(run.committed, chunkIndex)
	run.se.ExecutionContext.Put(CommittedChunksKey, append([]int(nil), run.committed...))
	for _, l := range s.chunkListeners {
		l.AfterChunk(ctx, run.se, chunkIndex, nil)
	}
	logger.Debugf("Step '%s': chunk %d committed (%d written, %d filtered).", s.name, chunkIndex, written, filtered)

	// The chunk is durable at this point; metadata failures are only logged.
	checkpoint := &model.CheckpointData{
		StepExecutionID:  run.se.ID,
		ExecutionContext: run.se.ExecutionContext.Copy(),
		LastUpdated:      time.Now(),
	}
	if err := s.jobRepository.SaveCheckpointData(ctx, checkpoint); err != nil {
		logger.Warnf("Step '%s': failed to save checkpoint after chunk %d: %v", s.name, chunkIndex, err)
	}
	if err := s.jobRepository.UpdateStepExecution(ctx, run.se); err != nil {
		logger.Warnf("Step '%s': failed to update StepExecution after chunk %d: %v", s.name, chunkIndex, err)
	}
}

// writeChunk runs the transactional part of a chunk. reason classifies a failure for metrics.
func (s *ChunkStep[I, O]) writeChunk(ctx context.Context, items []I) (written, filtered int, reason string, err error) {
	t, err := s.txManager.Begin(ctx, s.txOptions)
	if err != nil {
		return 0, 0, "begin", fmt.Errorf("failed to begin chunk transaction: %w", err)
	}
	txCtx := tx.NewContext(ctx, t)

	rollback := func(cause error) error {
		if rbErr := s.txManager.Rollback(t); rbErr != nil {
			logger.Errorf("Step '%s': rollback failed: %v", s.name, rbErr)
			return multierror.Append(cause, rbErr)
		}
		return cause
	}

	out := make([]O, 0, len(items))
	for i, item := range items {
		o, perr := s.processor.Process(txCtx, item)
		if errors.Is(perr, port.ErrItemFiltered) {
			filtered++
			continue
		}
		if perr != nil {
			return 0, 0, "process", rollback(fmt.Errorf("item %d: %w", i, perr))
		}
		out = append(out, o)
	}

	if len(out) > 0 {
		if werr := s.writer.Write(txCtx, out); werr != nil {
			return 0, 0, "write", rollback(werr)
		}
	}
	if cerr := s.txManager.Commit(t); cerr != nil {
		return 0, 0, "commit", fmt.Errorf("failed to commit chunk transaction: %w", cerr)
	}
	return len(out), filtered, "", nil
}

// restoreCheckpoint prepares the execution context for this run and returns the chunk
// indexes to skip. Only the resume-chunk policy skips anything, and only when the
// recorded chunk size matches the current one.
func (s *ChunkStep[I, O]) restoreCheckpoint(ctx context.Context, run *chunkRun) map[int]bool {
	se := run.se
	if se.ExecutionContext == nil {
		se.ExecutionContext = model.NewExecutionContext()
	}
	if cp, err := s.jobRepository.FindCheckpointData(ctx, se.ID); err == nil && cp != nil {
		for k, v := range cp.ExecutionContext {
			se.ExecutionContext.Put(k, v)
		}
	} else if err != nil && !errors.Is(err, repository.ErrCheckpointDataNotFound) {
		logger.Warnf("Step '%s': failed to load checkpoint data: %v", s.name, err)
	}

	committed, _ := se.ExecutionContext.GetIntSlice(CommittedChunksKey)
	if s.restartPolicy != config.RestartPolicyResumeChunk || len(committed) == 0 {
		se.ExecutionContext.Put(CommittedChunksKey, []int{})
		return nil
	}
	if size, ok := se.ExecutionContext.GetInt(ChunkSizeKey); !ok || size != s.chunkSize {
		logger.Warnf("Step '%s': checkpoint was taken with chunk size %d, now %d. Re-running every chunk.", s.name, size, s.chunkSize)
		se.ExecutionContext.Put(CommittedChunksKey, []int{})
		return nil
	}

	skip := make(map[int]bool, len(committed))
	for _, idx := range committed {
		skip[idx] = true
		run.committed = insertSorted(run.committed, idx)
	}
	logger.Infof("Step '%s': resuming, %d chunks already committed.", s.name, len(skip))
	return skip
}

func (s *ChunkStep[I, O]) saveStepExecution(ctx context.Context, run *chunkRun) {
	run.mu.Lock()
	defer run.mu.Unlock()
	if err := s.jobRepository.UpdateStepExecution(ctx, run.se); err != nil {
		logger.Warnf("Step '%s': failed to update StepExecution (ID: %s): %v", s.name, run.se.ID, err)
	}
}

func insertSorted(list []int, v int) []int {
	i := sort.SearchInts(list, v)
	if i < len(list) && list[i] == v {
		return list
	}
	list = append(list, 0)
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}
