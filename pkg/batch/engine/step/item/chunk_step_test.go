package item_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	compitem "github.com/tigerroll/csvimport/pkg/batch/component/item"
	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	"github.com/tigerroll/csvimport/pkg/batch/core/config"
	"github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
	"github.com/tigerroll/csvimport/pkg/batch/core/tx"
	"github.com/tigerroll/csvimport/pkg/batch/engine/step/item"
	"github.com/tigerroll/csvimport/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
)

// --- Fakes ---

// memTx buffers written rows until its manager commits it.
type memTx struct {
	tx.Tx
	pending []string
}

// memTxManager commits memTx buffers into a shared row list.
type memTxManager struct {
	mu        sync.Mutex
	rows      []string
	commits   int
	rollbacks int
}

func (m *memTxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	return &memTx{}, nil
}

func (m *memTxManager) Commit(t tx.Tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, t.(*memTx).pending...)
	m.commits++
	return nil
}

func (m *memTxManager) Rollback(t tx.Tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbacks++
	return nil
}

func (m *memTxManager) committedRows() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.rows...)
}

// recordingWriter appends items to the chunk transaction and records every chunk it sees.
type recordingWriter struct {
	mu       sync.Mutex
	chunks   [][]string
	delay    time.Duration
	failOn   string
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (w *recordingWriter) Write(ctx context.Context, items []string) error {
	n := w.inFlight.Add(1)
	defer w.inFlight.Add(-1)
	for {
		seen := w.maxSeen.Load()
		if n <= seen || w.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	t, ok := tx.FromContext(ctx)
	if !ok {
		return errors.New("no transaction in context")
	}
	mt := t.(*memTx)
	for _, it := range items {
		mt.pending = append(mt.pending, it)
		if it == w.failOn {
			return fmt.Errorf("cannot write %s", it)
		}
	}
	if w.delay > 0 {
		time.Sleep(w.delay)
	}

	w.mu.Lock()
	w.chunks = append(w.chunks, append([]string(nil), items...))
	w.mu.Unlock()
	return nil
}

func (w *recordingWriter) chunkSizes() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	sizes := make([]int, 0, len(w.chunks))
	for _, c := range w.chunks {
		sizes = append(sizes, len(c))
	}
	sort.Sort(sort.Reverse(sort.IntSlice(sizes)))
	return sizes
}

// MockItemReader is a mock implementation of port.ItemReader.
type MockItemReader struct {
	mock.Mock
}

func (m *MockItemReader) Open(ctx context.Context, ec model.ExecutionContext) error {
	return m.Called(ctx, ec).Error(0)
}

func (m *MockItemReader) Read(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockItemReader) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

// --- Helpers ---

func numbered(n int) []string {
	items := make([]string, n)
	for i := range items {
		items[i] = strconv.Itoa(i)
	}
	return items
}

type fixture struct {
	repo repository.JobRepository
	txm  *memTxManager
	je   *model.JobExecution
	se   *model.StepExecution
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	params := model.NewJobParameters()
	params.Put("startAt", time.Now().UnixNano())
	je, err := repo.CreateJobExecution(ctx, repository.LaunchRequest{JobName: "importCustomers", Parameters: params})
	require.NoError(t, err)
	se := model.NewStepExecution("csv-step", je)
	require.NoError(t, repo.SaveStepExecution(ctx, se))
	return &fixture{repo: repo, txm: &memTxManager{}, je: je, se: se}
}

func (f *fixture) builder() *item.ChunkStepBuilder[string, string] {
	return item.NewChunkStepBuilder[string, string]("csv-step", f.repo, f.txm)
}

func failingProcessor(bad string) port.ItemProcessor[string, string] {
	return compitem.FunctionItemProcessor[string, string](func(ctx context.Context, s string) (string, error) {
		if s == bad {
			return "", exception.Wrap("test", exception.ErrItemMapping, "bad record "+s, nil)
		}
		return s, nil
	})
}

// --- Tests ---

func TestChunkStep_ChunkBoundaries(t *testing.T) {
	tests := []struct {
		lines, size int
		want        []int
	}{
		{25, 10, []int{10, 10, 5}},
		{20, 10, []int{10, 10}},
		{3, 10, []int{3}},
		{1, 1, []int{1}},
		{0, 10, []int{}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d lines chunk %d", tt.lines, tt.size), func(t *testing.T) {
			f := newFixture(t)
			w := &recordingWriter{}
			step, err := f.builder().
				Reader(compitem.NewListItemReader(numbered(tt.lines))).
				Processor(compitem.NewPassThroughItemProcessor[string]()).
				Writer(w).
				ChunkSize(tt.size).
				Build()
			require.NoError(t, err)

			require.NoError(t, step.Execute(context.Background(), f.je, f.se))

			assert.Equal(t, tt.want, w.chunkSizes())
			assert.Equal(t, model.BatchStatusCompleted, f.se.Status)
			assert.Equal(t, model.ExitStatusCompleted, f.se.ExitStatus)
			assert.Equal(t, tt.lines, f.se.ReadCount)
			assert.Equal(t, tt.lines, f.se.WriteCount)
			assert.Equal(t, len(tt.want), f.se.CommitCount)
			assert.Len(t, f.txm.committedRows(), tt.lines)
		})
	}
}

func TestChunkStep_PoolBoundsInFlightChunks(t *testing.T) {
	f := newFixture(t)
	w := &recordingWriter{delay: 5 * time.Millisecond}
	step, err := f.builder().
		Reader(compitem.NewListItemReader(numbered(60))).
		Processor(compitem.NewPassThroughItemProcessor[string]()).
		Writer(w).
		ChunkSize(2).
		PoolSize(3).
		Build()
	require.NoError(t, err)

	require.NoError(t, step.Execute(context.Background(), f.je, f.se))

	assert.LessOrEqual(t, int(w.maxSeen.Load()), 3)
	assert.Equal(t, 30, f.se.CommitCount)
	assert.Len(t, f.txm.committedRows(), 60)
}

func TestChunkStep_KeepsFileOrderWithinChunk(t *testing.T) {
	f := newFixture(t)
	w := &recordingWriter{}
	step, err := f.builder().
		Reader(compitem.NewListItemReader(numbered(40))).
		Processor(compitem.NewPassThroughItemProcessor[string]()).
		Writer(w).
		ChunkSize(4).
		PoolSize(4).
		Build()
	require.NoError(t, err)

	require.NoError(t, step.Execute(context.Background(), f.je, f.se))

	require.Len(t, w.chunks, 10)
	for _, chunk := range w.chunks {
		first, _ := strconv.Atoi(chunk[0])
		assert.Zero(t, first%4, "chunk must start on a boundary: %v", chunk)
		for i, v := range chunk {
			assert.Equal(t, strconv.Itoa(first+i), v)
		}
	}
}

func TestChunkStep_FailedChunkRollsBackAndStopsDispatch(t *testing.T) {
	f := newFixture(t)
	w := &recordingWriter{}
	step, err := f.builder().
		Reader(compitem.NewListItemReader(numbered(15))).
		Processor(failingProcessor("7")).
		Writer(w).
		ChunkSize(5).
		PoolSize(1).
		Build()
	require.NoError(t, err)

	err = step.Execute(context.Background(), f.je, f.se)

	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrChunkWrite)
	assert.ErrorIs(t, err, exception.ErrItemMapping)
	assert.Equal(t, model.BatchStatusFailed, f.se.Status)
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, f.txm.committedRows())
	assert.Equal(t, 1, f.se.CommitCount)
	assert.Equal(t, 1, f.se.RollbackCount)
	assert.Equal(t, 1, f.txm.rollbacks)
	assert.NotEmpty(t, f.se.Failures)

	committed, ok := f.se.ExecutionContext.GetIntSlice(item.CommittedChunksKey)
	require.True(t, ok)
	assert.Equal(t, []int{0}, committed)
}

func TestChunkStep_WriteFailureLeavesNoPartialChunk(t *testing.T) {
	f := newFixture(t)
	w := &recordingWriter{failOn: "12"}
	step, err := f.builder().
		Reader(compitem.NewListItemReader(numbered(20))).
		Processor(compitem.NewPassThroughItemProcessor[string]()).
		Writer(w).
		ChunkSize(10).
		PoolSize(2).
		Build()
	require.NoError(t, err)

	err = step.Execute(context.Background(), f.je, f.se)

	assert.ErrorIs(t, err, exception.ErrChunkWrite)
	rows := f.txm.committedRows()
	assert.Equal(t, numbered(10), rows)
	assert.NotContains(t, rows, "10")
	assert.NotContains(t, rows, "12")
}

func TestChunkStep_DispatchedChunksCommitAfterLaterChunkFails(t *testing.T) {
	f := newFixture(t)
	// Chunks 0 and 1 are still writing when chunk 2 fails.
	w := &recordingWriter{failOn: "12", delay: 50 * time.Millisecond}
	step, err := f.builder().
		Reader(compitem.NewListItemReader(numbered(15))).
		Processor(compitem.NewPassThroughItemProcessor[string]()).
		Writer(w).
		ChunkSize(5).
		PoolSize(3).
		Build()
	require.NoError(t, err)

	err = step.Execute(context.Background(), f.je, f.se)

	assert.ErrorIs(t, err, exception.ErrChunkWrite)
	assert.Equal(t, model.BatchStatusFailed, f.se.Status)
	assert.ElementsMatch(t, numbered(10), f.txm.committedRows())
	assert.Equal(t, 2, f.se.CommitCount)
	assert.Equal(t, 1, f.se.RollbackCount)
	assert.Equal(t, 15, f.se.ReadCount)

	committed, ok := f.se.ExecutionContext.GetIntSlice(item.CommittedChunksKey)
	require.True(t, ok)
	assert.Equal(t, []int{0, 1}, committed)
}

func TestChunkStep_FilteredItemsAreCountedNotWritten(t *testing.T) {
	f := newFixture(t)
	w := &recordingWriter{}
	evenOnly := compitem.FunctionItemProcessor[string, string](func(ctx context.Context, s string) (string, error) {
		n, _ := strconv.Atoi(s)
		if n%2 == 1 {
			return "", port.ErrItemFiltered
		}
		return s, nil
	})
	step, err := f.builder().
		Reader(compitem.NewListItemReader(numbered(10))).
		Processor(evenOnly).
		Writer(w).
		ChunkSize(3).
		Build()
	require.NoError(t, err)

	require.NoError(t, step.Execute(context.Background(), f.je, f.se))

	assert.Equal(t, 10, f.se.ReadCount)
	assert.Equal(t, 5, f.se.WriteCount)
	assert.Equal(t, 5, f.se.FilterCount)
	assert.ElementsMatch(t, []string{"0", "2", "4", "6", "8"}, f.txm.committedRows())
}

func TestChunkStep_OpenFailure(t *testing.T) {
	f := newFixture(t)
	reader := new(MockItemReader)
	reader.On("Open", mock.Anything, mock.Anything).Return(errors.New("no such file"))
	reader.On("Close", mock.Anything).Return(nil)
	w := &recordingWriter{}

	step, err := f.builder().
		Reader(reader).
		Processor(compitem.NewPassThroughItemProcessor[string]()).
		Writer(w).
		Build()
	require.NoError(t, err)

	err = step.Execute(context.Background(), f.je, f.se)

	assert.ErrorIs(t, err, exception.ErrItemStreamOpen)
	assert.True(t, exception.IsErrorOfType(err, exception.ItemStreamOpenException))
	assert.Equal(t, model.BatchStatusFailed, f.se.Status)
	assert.Equal(t, model.ExitStatusFailed, f.se.ExitStatus)
	assert.Empty(t, w.chunks)
	reader.AssertNotCalled(t, "Read", mock.Anything)

	stored, err := f.repo.FindStepExecutionByID(context.Background(), f.se.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, stored.Status)
}

func TestChunkStep_CancelledContextStops(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reads atomic.Int32
	source := compitem.NewListItemReader(numbered(100))
	reader := &cancelAfterReader{ItemReader: source, after: 12, cancel: cancel, reads: &reads}
	w := &recordingWriter{}

	step, err := f.builder().
		Reader(reader).
		Processor(compitem.NewPassThroughItemProcessor[string]()).
		Writer(w).
		ChunkSize(5).
		PoolSize(2).
		Build()
	require.NoError(t, err)

	require.NoError(t, step.Execute(ctx, f.je, f.se))

	assert.Equal(t, model.BatchStatusStopped, f.se.Status)
	// Chunks 0 and 1 were dispatched before the cancellation and still commit.
	assert.ElementsMatch(t, numbered(10), f.txm.committedRows())
	assert.Equal(t, 2, f.se.CommitCount)
}

type cancelAfterReader struct {
	port.ItemReader[string]
	after  int32
	cancel context.CancelFunc
	reads  *atomic.Int32
}

func (r *cancelAfterReader) Read(ctx context.Context) (string, error) {
	if r.reads.Add(1) == r.after {
		r.cancel()
	}
	return r.ItemReader.Read(ctx)
}

func TestChunkStep_ResumeChunkSkipsCommittedChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.builder().
		Reader(compitem.NewListItemReader(numbered(15))).
		Processor(failingProcessor("7")).
		Writer(&recordingWriter{}).
		ChunkSize(5).
		PoolSize(1).
		RestartPolicy(config.RestartPolicyResumeChunk).
		Build()
	require.NoError(t, err)
	require.Error(t, first.Execute(ctx, f.je, f.se))

	checkpoint, err := f.repo.FindCheckpointData(ctx, f.se.ID)
	require.NoError(t, err)
	committed, ok := checkpoint.ExecutionContext.GetIntSlice(item.CommittedChunksKey)
	require.True(t, ok)
	assert.Equal(t, []int{0}, committed)

	f.je.MarkAsStarted()
	f.je.MarkAsFailed(errors.New("step failed"))
	restart := model.NewRestartJobExecution(f.je)
	se2 := restart.FindStepExecution("csv-step")
	require.NotNil(t, se2)

	w := &recordingWriter{}
	second, err := f.builder().
		Reader(compitem.NewListItemReader(numbered(15))).
		Processor(compitem.NewPassThroughItemProcessor[string]()).
		Writer(w).
		ChunkSize(5).
		PoolSize(1).
		RestartPolicy(config.RestartPolicyResumeChunk).
		Build()
	require.NoError(t, err)
	require.NoError(t, f.repo.SaveStepExecution(ctx, se2))

	require.NoError(t, second.Execute(ctx, restart, se2))

	assert.Equal(t, model.BatchStatusCompleted, se2.Status)
	assert.Equal(t, []int{5, 5}, w.chunkSizes())
	assert.Equal(t, 10, se2.WriteCount)
	all, ok := se2.ExecutionContext.GetIntSlice(item.CommittedChunksKey)
	require.True(t, ok)
	assert.Equal(t, []int{0, 1, 2}, all)
}

func TestChunkStep_RestartStepRerunsEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.se.ExecutionContext.Put(item.ChunkSizeKey, 5)
	f.se.ExecutionContext.Put(item.CommittedChunksKey, []int{0, 1})

	w := &recordingWriter{}
	step, err := f.builder().
		Reader(compitem.NewListItemReader(numbered(15))).
		Processor(compitem.NewPassThroughItemProcessor[string]()).
		Writer(w).
		ChunkSize(5).
		Build()
	require.NoError(t, err)

	require.NoError(t, step.Execute(ctx, f.je, f.se))
	assert.Equal(t, []int{5, 5, 5}, w.chunkSizes())
}

func TestChunkStepBuilder_Validation(t *testing.T) {
	f := newFixture(t)
	reader := compitem.NewListItemReader([]string{})
	proc := compitem.NewPassThroughItemProcessor[string]()
	w := &recordingWriter{}

	_, err := f.builder().Processor(proc).Writer(w).Build()
	assert.Error(t, err, "missing reader")

	_, err = f.builder().Reader(reader).Processor(proc).Writer(w).ChunkSize(0).Build()
	assert.Error(t, err, "zero chunk size")

	_, err = f.builder().Reader(reader).Processor(proc).Writer(w).PoolSize(-1).Build()
	assert.Error(t, err, "negative pool size")

	_, err = f.builder().Reader(reader).Processor(proc).Writer(w).RestartPolicy("sometimes").Build()
	assert.Error(t, err, "unknown restart policy")

	step, err := f.builder().Reader(reader).Processor(proc).Writer(w).Build()
	require.NoError(t, err)
	assert.Equal(t, item.DefaultChunkSize, step.ChunkSize())
	assert.Equal(t, item.DefaultPoolSize, step.PoolSize())
	assert.Equal(t, "csv-step", step.StepName())
}
