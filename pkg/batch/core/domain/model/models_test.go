package model_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
)

func TestJobParameters_HashIsStable(t *testing.T) {
	a := model.NewJobParameters()
	a.Put("startAt", int64(1700000000000))
	a.Put("file", "customers.csv")

	b := model.NewJobParameters()
	b.Put("file", "customers.csv")
	b.Put("startAt", int64(1700000000000))

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb, "key order must not change the hash")
	assert.Len(t, ha, 64)

	// Values read back from a JSON column come out as float64.
	raw, err := a.Value()
	require.NoError(t, err)
	var restored model.JobParameters
	require.NoError(t, restored.Scan(raw))
	hr, err := restored.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hr)

	b.Put("startAt", int64(1700000000001))
	hc, err := b.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestJobParameters_GetInt64(t *testing.T) {
	p := model.NewJobParameters()
	p.Put("a", 5)
	p.Put("b", float64(6))
	p.Put("c", "7")
	p.Put("d", "seven")

	v, ok := p.GetInt64("a")
	assert.True(t, ok)
	assert.Equal(t, int64(5), v)
	v, ok = p.GetInt64("b")
	assert.True(t, ok)
	assert.Equal(t, int64(6), v)
	v, ok = p.GetInt64("c")
	assert.True(t, ok)
	assert.Equal(t, int64(7), v)
	_, ok = p.GetInt64("d")
	assert.False(t, ok)
	_, ok = p.GetInt64("missing")
	assert.False(t, ok)
}

func TestExecutionContext_ScanAndGetters(t *testing.T) {
	ec := model.NewExecutionContext()
	ec.Put("batch.chunkSize", 10)
	ec.Put("batch.committedChunks", []int{0, 2})

	raw, err := ec.Value()
	require.NoError(t, err)

	var restored model.ExecutionContext
	require.NoError(t, restored.Scan(raw))

	n, ok := restored.GetInt("batch.chunkSize")
	assert.True(t, ok)
	assert.Equal(t, 10, n)

	chunks, ok := restored.GetIntSlice("batch.committedChunks")
	assert.True(t, ok)
	assert.Equal(t, []int{0, 2}, chunks)

	require.NoError(t, restored.Scan(nil))
	assert.Empty(t, restored)
	assert.Error(t, restored.Scan(42))
}

func TestJobExecution_Lifecycle(t *testing.T) {
	je := model.NewJobExecution("instance-1", "importCustomers", model.NewJobParameters())
	assert.Equal(t, model.BatchStatusStarting, je.Status)

	je.MarkAsStarted()
	assert.Equal(t, model.BatchStatusStarted, je.Status)
	assert.Equal(t, model.ExitStatusExecuting, je.ExitStatus)

	boom := errors.New("boom")
	je.MarkAsFailed(boom)
	je.AddFailureException(boom)
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Equal(t, model.ExitStatusFailed, je.ExitStatus)
	assert.Equal(t, model.FailureList{"boom"}, je.Failures)
	assert.NotNil(t, je.EndTime)
	assert.Equal(t, 1, je.ExitCode)
}

func TestNewRestartJobExecution(t *testing.T) {
	prev := model.NewJobExecution("instance-1", "importCustomers", model.NewJobParameters())
	done := model.NewStepExecution("prepare", prev)
	done.MarkAsStarted()
	done.WriteCount = 3
	done.MarkAsCompleted()

	failed := model.NewStepExecution("csv-step", prev)
	failed.MarkAsStarted()
	failed.ExecutionContext.Put("batch.committedChunks", []int{0})
	failed.WriteCount = 10
	failed.MarkAsFailed(errors.New("write failed"))
	prev.MarkAsFailed(errors.New("write failed"))

	next := model.NewRestartJobExecution(prev)

	assert.NotEqual(t, prev.ID, next.ID)
	assert.Equal(t, prev.JobInstanceID, next.JobInstanceID)
	assert.Equal(t, 1, next.RestartCount)
	assert.Equal(t, model.BatchStatusStarting, next.Status)
	require.Len(t, next.StepExecutions, 2)

	copiedDone := next.FindStepExecution("prepare")
	require.NotNil(t, copiedDone)
	assert.Equal(t, model.BatchStatusCompleted, copiedDone.Status)
	assert.Equal(t, 3, copiedDone.WriteCount)
	assert.Equal(t, next.ID, copiedDone.JobExecutionID)

	copiedFailed := next.FindStepExecution("csv-step")
	require.NotNil(t, copiedFailed)
	assert.Equal(t, model.BatchStatusStarting, copiedFailed.Status)
	assert.Zero(t, copiedFailed.WriteCount)
	assert.Empty(t, copiedFailed.Failures)
	_, ok := copiedFailed.ExecutionContext.Get("batch.committedChunks")
	assert.True(t, ok)
	assert.Equal(t, model.BatchStatusFailed, prev.Status, "the previous execution keeps its status")
}

func TestJobStatus_Predicates(t *testing.T) {
	assert.True(t, model.BatchStatusStarting.IsRunning())
	assert.True(t, model.BatchStatusStarted.IsRunning())
	assert.False(t, model.BatchStatusFailed.IsRunning())

	assert.True(t, model.BatchStatusFailed.IsRestartable())
	assert.True(t, model.BatchStatusStopped.IsRestartable())
	assert.False(t, model.BatchStatusAbandoned.IsRestartable())
	assert.False(t, model.BatchStatusCompleted.IsRestartable())

	assert.True(t, model.BatchStatusAbandoned.IsFinished())
	assert.Equal(t, model.ExitStatusStopped, model.BatchStatusStopped.ToExitStatus())
}
