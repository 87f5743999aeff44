package runner_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
	"github.com/tigerroll/csvimport/pkg/batch/core/job/runner"
	"github.com/tigerroll/csvimport/pkg/batch/core/support/validator"
	"github.com/tigerroll/csvimport/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/csvimport/pkg/batch/listener"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
)

// scriptedStep ends every execution with the status it is given.
type scriptedStep struct {
	status model.JobStatus
	err    error
	calls  int
}

func (s *scriptedStep) StepName() string { return "csv-step" }

func (s *scriptedStep) Execute(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
	s.calls++
	se.MarkAsStarted()
	switch s.status {
	case model.BatchStatusCompleted:
		se.MarkAsCompleted()
	case model.BatchStatusStopped:
		se.MarkAsStopped()
	default:
		se.MarkAsFailed(s.err)
	}
	return s.err
}

func launch(t *testing.T, repo repository.JobRepository, restart bool) *model.JobExecution {
	t.Helper()
	p := model.NewJobParameters()
	p.Put("startAt", int64(42))
	je, err := repo.CreateJobExecution(context.Background(), repository.LaunchRequest{JobName: "importCustomers", Parameters: p, Restart: restart})
	require.NoError(t, err)
	return je
}

func TestSimpleJob_OutcomeFollowsStep(t *testing.T) {
	tests := []struct {
		name       string
		step       *scriptedStep
		wantStatus model.JobStatus
		wantErr    bool
	}{
		{"completed", &scriptedStep{status: model.BatchStatusCompleted}, model.BatchStatusCompleted, false},
		{"failed", &scriptedStep{status: model.BatchStatusFailed, err: errors.New("chunk 2 rolled back")}, model.BatchStatusFailed, true},
		{"stopped", &scriptedStep{status: model.BatchStatusStopped, err: context.Canceled}, model.BatchStatusStopped, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := inmemory.NewInMemoryJobRepository()
			done := make(chan struct{})
			job := runner.NewSimpleJob("importCustomers", tt.step, repo, nil,
				[]port.JobExecutionListener{listener.NewJobCompletionSignaler(done)}, nil, nil)

			je := launch(t, repo, false)
			runner.NewSimpleJobRunner(repo).Run(context.Background(), job, je)

			stored, err := repo.FindJobExecutionByID(context.Background(), je.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status)
			assert.Equal(t, "csv-step", stored.CurrentStepName)
			require.Len(t, stored.StepExecutions, 1)
			require.Len(t, je.StepExecutions, 1)
			assert.Equal(t, tt.wantStatus, je.StepExecutions[0].Status)
			if tt.wantErr {
				assert.NotEmpty(t, stored.Failures)
			}
			select {
			case <-done:
			default:
				t.Fatal("AfterJob was not called")
			}
		})
	}
}

func TestSimpleJob_RestartSkipsCompletedStep(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx := context.Background()

	// A previous execution whose step completed but whose job record ended FAILED.
	prev := launch(t, repo, false)
	prev.MarkAsStarted()
	se := model.NewStepExecution("csv-step", prev)
	se.MarkAsStarted()
	se.MarkAsCompleted()
	require.NoError(t, repo.SaveStepExecution(ctx, se))
	prev.MarkAsFailed(errors.New("lost connection"))
	require.NoError(t, repo.UpdateJobExecution(ctx, prev))

	step := &scriptedStep{status: model.BatchStatusCompleted}
	job := runner.NewSimpleJob("importCustomers", step, repo, nil, nil, nil, nil)

	je := launch(t, repo, true)
	runner.NewSimpleJobRunner(repo).Run(ctx, job, je)

	assert.Equal(t, 0, step.calls)
	stored, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.RestartCount)
}

func TestSimpleJob_CancelledBeforeStep(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	step := &scriptedStep{status: model.BatchStatusCompleted}
	job := runner.NewSimpleJob("importCustomers", step, repo, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	je := launch(t, repo, false)
	runner.NewSimpleJobRunner(repo).Run(ctx, job, je)

	assert.Equal(t, 0, step.calls)
	stored, err := repo.FindJobExecutionByID(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, stored.Status)
}

func TestSimpleJob_ValidateParameters(t *testing.T) {
	job := runner.NewSimpleJob("importCustomers", &scriptedStep{}, inmemory.NewInMemoryJobRepository(),
		validator.NewRequiredKeysValidator("startAt"), nil, nil, nil)

	err := job.ValidateParameters(model.NewJobParameters())
	assert.ErrorIs(t, err, exception.ErrJobParametersInvalid)

	p := model.NewJobParameters()
	p.Put("startAt", int64(1))
	assert.NoError(t, job.ValidateParameters(p))
}
