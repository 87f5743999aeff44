// Package web exposes the import job over HTTP: the launch trigger, execution
// queries and operator actions, plus health and metrics endpoints.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	"github.com/tigerroll/csvimport/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/serialization"
)

// HealthCheck reports whether the process can serve launches.
type HealthCheck func(ctx context.Context) error

// Options configures a Handler.
type Options struct {
	// JobName is launched by POST /batchs/{JobName}.
	JobName  string
	Launcher usecase.JobLauncher
	Operator usecase.JobOperator
	Explorer usecase.JobExplorer
	// Incrementer produces the parameters of every triggered launch.
	Incrementer port.JobParametersIncrementer
	Health      HealthCheck
	// Metrics serves GET /metrics when non-nil.
	Metrics http.Handler
}

// Handler serves the batch endpoints.
type Handler struct {
	opts Options
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	return &Handler{opts: opts}
}

// Routes returns the router with every endpoint registered.
func (h *Handler) Routes() *Router {
	r := NewRouter()
	r.POST("/batchs/"+h.opts.JobName, h.launch)
	r.GET("/batchs/executions/{id}", h.getExecution)
	r.POST("/batchs/executions/{id}/restart", h.restart)
	r.POST("/batchs/executions/{id}/stop", h.stop)
	r.POST("/batchs/executions/{id}/abandon", h.abandon)
	r.GET("/healthz", h.health)
	if h.opts.Metrics != nil {
		r.Handle("GET /metrics", h.opts.Metrics)
	}
	return r
}

func (h *Handler) launch(w http.ResponseWriter, r *http.Request) {
	params := h.opts.Incrementer.GetNext(model.NewJobParameters())
	je, err := h.opts.Launcher.Launch(r.Context(), h.opts.JobName, params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newExecutionResponse(je))
}

func (h *Handler) getExecution(w http.ResponseWriter, r *http.Request) {
	je, err := h.opts.Explorer.GetJobExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newExecutionResponse(je))
}

func (h *Handler) restart(w http.ResponseWriter, r *http.Request) {
	je, err := h.opts.Operator.RestartExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newExecutionResponse(je))
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.opts.Operator.Stop(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"executionId": id, "status": "STOPPING"})
}

func (h *Handler) abandon(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.opts.Operator.Abandon(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	je, err := h.opts.Explorer.GetJobExecution(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newExecutionResponse(je))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.opts.Health != nil {
		if err := h.opts.Health(r.Context()); err != nil {
			logger.Warnf("Health check failed: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

type stepResponse struct {
	StepName      string           `json:"stepName"`
	Status        model.JobStatus  `json:"status"`
	ExitStatus    model.ExitStatus `json:"exitStatus"`
	StartTime     time.Time        `json:"startTime"`
	EndTime       *time.Time       `json:"endTime,omitempty"`
	ReadCount     int              `json:"readCount"`
	WriteCount    int              `json:"writeCount"`
	FilterCount   int              `json:"filterCount"`
	CommitCount   int              `json:"commitCount"`
	RollbackCount int              `json:"rollbackCount"`
	Failures      []string         `json:"failures,omitempty"`
}

type executionResponse struct {
	ExecutionID   string                 `json:"executionId"`
	JobInstanceID string                 `json:"jobInstanceId"`
	JobName       string                 `json:"jobName"`
	Status        model.JobStatus        `json:"status"`
	ExitStatus    model.ExitStatus       `json:"exitStatus"`
	Parameters    map[string]interface{} `json:"parameters"`
	RestartCount  int                    `json:"restartCount"`
	StartTime     time.Time              `json:"startTime"`
	EndTime       *time.Time             `json:"endTime,omitempty"`
	Failures      []string               `json:"failures,omitempty"`
	Steps         []stepResponse         `json:"steps,omitempty"`
}

func newExecutionResponse(je *model.JobExecution) executionResponse {
	resp := executionResponse{
		ExecutionID:   je.ID,
		JobInstanceID: je.JobInstanceID,
		JobName:       je.JobName,
		Status:        je.Status,
		ExitStatus:    je.ExitStatus,
		Parameters:    serialization.MaskParameters(je.Parameters.Params),
		RestartCount:  je.RestartCount,
		StartTime:     je.StartTime,
		EndTime:       je.EndTime,
		Failures:      je.Failures,
	}
	for _, se := range je.StepExecutions {
		resp.Steps = append(resp.Steps, stepResponse{
			StepName:      se.StepName,
			Status:        se.Status,
			ExitStatus:    se.ExitStatus,
			StartTime:     se.StartTime,
			EndTime:       se.EndTime,
			ReadCount:     se.ReadCount,
			WriteCount:    se.WriteCount,
			FilterCount:   se.FilterCount,
			CommitCount:   se.CommitCount,
			RollbackCount: se.RollbackCount,
			Failures:      se.Failures,
		})
	}
	return resp
}

// statusFor maps a launch or operator error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, exception.ErrJobExecutionAlreadyRunning),
		errors.Is(err, exception.ErrJobInstanceAlreadyComplete),
		errors.Is(err, exception.ErrJobRestartDenied),
		errors.Is(err, exception.ErrJobExecutionNotRunning):
		return http.StatusConflict
	case errors.Is(err, exception.ErrJobParametersInvalid):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrNoSuchJob),
		errors.Is(err, repository.ErrJobExecutionNotFound),
		errors.Is(err, repository.ErrJobInstanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrLauncherClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("Request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warnf("Failed to encode response: %v", err)
	}
}
