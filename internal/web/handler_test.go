package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/csvimport/internal/web"
	"github.com/tigerroll/csvimport/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/csvimport/pkg/batch/core/config"
	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
	"github.com/tigerroll/csvimport/pkg/batch/core/support/incrementer"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/serialization"
)

type fakeLauncher struct {
	err    error
	params []model.JobParameters
}

func (l *fakeLauncher) Launch(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	l.params = append(l.params, params)
	if l.err != nil {
		return nil, l.err
	}
	je := model.NewJobExecution("instance-1", jobName, params)
	return je, nil
}

type fakeOperator struct {
	err       error
	abandoned []string
	stopped   []string
}

func (o *fakeOperator) Restart(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	if o.err != nil {
		return nil, o.err
	}
	return model.NewJobExecution("instance-1", jobName, params), nil
}

func (o *fakeOperator) RestartExecution(ctx context.Context, executionID string) (*model.JobExecution, error) {
	if o.err != nil {
		return nil, o.err
	}
	je := model.NewJobExecution("instance-1", "importCustomers", model.NewJobParameters())
	je.RestartCount = 1
	return je, nil
}

func (o *fakeOperator) Stop(ctx context.Context, executionID string) error {
	o.stopped = append(o.stopped, executionID)
	return o.err
}

func (o *fakeOperator) Abandon(ctx context.Context, executionID string) error {
	o.abandoned = append(o.abandoned, executionID)
	return o.err
}

type fakeExplorer struct {
	executions map[string]*model.JobExecution
}

func (e *fakeExplorer) GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error) {
	je, ok := e.executions[executionID]
	if !ok {
		return nil, exception.NewBatchError("job_explorer", "lookup failed", repository.ErrJobExecutionNotFound, false, false)
	}
	return je, nil
}

func (e *fakeExplorer) GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error) {
	return nil, nil
}

func (e *fakeExplorer) GetLastJobExecution(ctx context.Context, instanceID string) (*model.JobExecution, error) {
	return nil, repository.ErrJobExecutionNotFound
}

func (e *fakeExplorer) GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error) {
	return nil, repository.ErrJobInstanceNotFound
}

func (e *fakeExplorer) GetJobInstanceCount(ctx context.Context, jobName string) (int, error) {
	return 0, nil
}

type fixture struct {
	launcher *fakeLauncher
	operator *fakeOperator
	explorer *fakeExplorer
	health   error
	metrics  http.Handler
}

func newFixture() *fixture {
	return &fixture{
		launcher: &fakeLauncher{},
		operator: &fakeOperator{},
		explorer: &fakeExplorer{executions: map[string]*model.JobExecution{}},
	}
}

func (f *fixture) serve(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	h := web.NewHandler(web.Options{
		JobName:     "importCustomers",
		Launcher:    f.launcher,
		Operator:    f.operator,
		Explorer:    f.explorer,
		Incrementer: incrementer.NewTimestampIncrementer("startAt"),
		Health:      func(ctx context.Context) error { return f.health },
		Metrics:     f.metrics,
	})
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestLaunch_Accepted(t *testing.T) {
	f := newFixture()
	before := time.Now().UnixMilli()

	rec := f.serve(t, http.MethodPost, "/batchs/importCustomers")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(web.RequestIDHeader))

	body := decode(t, rec)
	assert.NotEmpty(t, body["executionId"])
	assert.Equal(t, "STARTING", body["status"])
	assert.Equal(t, "importCustomers", body["jobName"])

	require.Len(t, f.launcher.params, 1)
	startAt, ok := f.launcher.params[0].Get("startAt").(int64)
	require.True(t, ok, "startAt must be unix millis")
	assert.GreaterOrEqual(t, startAt, before)
}

func TestLaunch_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"already running", exception.Wrap("job_launcher", exception.ErrJobExecutionAlreadyRunning, "busy", nil), http.StatusConflict},
		{"already complete", exception.Wrap("job_launcher", exception.ErrJobInstanceAlreadyComplete, "done", nil), http.StatusConflict},
		{"restart denied", exception.Wrap("job_launcher", exception.ErrJobRestartDenied, "failed before", nil), http.StatusConflict},
		{"invalid parameters", exception.Wrap("job_launcher", exception.ErrJobParametersInvalid, "missing startAt", nil), http.StatusBadRequest},
		{"unknown job", fmt.Errorf("launch: %w", usecase.ErrNoSuchJob), http.StatusNotFound},
		{"shutting down", fmt.Errorf("launch: %w", usecase.ErrLauncherClosed), http.StatusServiceUnavailable},
		{"database down", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.launcher.err = tt.err

			rec := f.serve(t, http.MethodPost, "/batchs/importCustomers")

			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, decode(t, rec)["error"], tt.err.Error())
		})
	}
}

func TestLaunch_WrongMethod(t *testing.T) {
	f := newFixture()
	rec := f.serve(t, http.MethodGet, "/batchs/importCustomers")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, f.launcher.params)
}

func TestGetExecution(t *testing.T) {
	prev := config.GlobalConfig
	config.GlobalConfig = config.NewConfig()
	t.Cleanup(func() { config.GlobalConfig = prev })

	f := newFixture()
	p := model.NewJobParameters()
	p.Put("startAt", int64(1700000000000))
	p.Put("password", "hunter2")
	je := model.NewJobExecution("instance-1", "importCustomers", p)
	se := model.NewStepExecution("csv-step", je)
	se.ReadCount = 25
	se.WriteCount = 25
	se.CommitCount = 3
	je.MarkAsFailed(errors.New("chunk 2 rolled back"))
	f.explorer.executions[je.ID] = je

	rec := f.serve(t, http.MethodGet, "/batchs/executions/"+je.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, je.ID, body["executionId"])
	assert.Equal(t, "FAILED", body["status"])
	assert.Contains(t, body["failures"], "chunk 2 rolled back")

	params := body["parameters"].(map[string]interface{})
	assert.Equal(t, serialization.MaskedValue, params["password"])
	assert.EqualValues(t, 1700000000000, params["startAt"])

	steps := body["steps"].([]interface{})
	require.Len(t, steps, 1)
	step := steps[0].(map[string]interface{})
	assert.Equal(t, "csv-step", step["stepName"])
	assert.EqualValues(t, 25, step["writeCount"])
	assert.EqualValues(t, 3, step["commitCount"])
}

func TestGetExecution_NotFound(t *testing.T) {
	rec := newFixture().serve(t, http.MethodGet, "/batchs/executions/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRestart(t *testing.T) {
	f := newFixture()
	rec := f.serve(t, http.MethodPost, "/batchs/executions/e-1/restart")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["restartCount"])

	f.operator.err = exception.Wrap("job_launcher", exception.ErrJobRestartDenied, "abandoned", nil)
	rec = f.serve(t, http.MethodPost, "/batchs/executions/e-1/restart")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAbandon(t *testing.T) {
	f := newFixture()
	je := model.NewJobExecution("instance-1", "importCustomers", model.NewJobParameters())
	je.MarkAsAbandoned()
	f.explorer.executions[je.ID] = je

	rec := f.serve(t, http.MethodPost, "/batchs/executions/"+je.ID+"/abandon")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ABANDONED", decode(t, rec)["status"])
	assert.Equal(t, []string{je.ID}, f.operator.abandoned)

	f.operator.err = exception.Wrap("job_operator", exception.ErrJobExecutionAlreadyRunning, "stop it first", nil)
	rec = f.serve(t, http.MethodPost, "/batchs/executions/"+je.ID+"/abandon")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStop(t *testing.T) {
	f := newFixture()
	rec := f.serve(t, http.MethodPost, "/batchs/executions/e-1/stop")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"e-1"}, f.operator.stopped)

	f.operator.err = exception.Wrap("job_operator", exception.ErrJobExecutionNotRunning, "finished", nil)
	rec = f.serve(t, http.MethodPost, "/batchs/executions/e-1/stop")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture()
	rec := f.serve(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "UP", decode(t, rec)["status"])

	f.health = errors.New("database is locked")
	rec = f.serve(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "DOWN", decode(t, rec)["status"])
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture()
	rec := f.serve(t, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("batch_step_read_total 25\n"))
	})
	rec = f.serve(t, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "batch_step_read_total")
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := web.NewHandler(web.Options{JobName: "importCustomers"})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(web.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(web.RequestIDHeader))
}

func TestServer_StartAndShutdown(t *testing.T) {
	h := web.NewHandler(web.Options{JobName: "importCustomers"})
	srv := web.NewServer("127.0.0.1:0", h.Routes(), time.Second)
	require.NoError(t, srv.Start(context.Background()))

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
	_, err = http.Get("http://" + srv.Addr() + "/healthz")
	assert.Error(t, err)
}
