package model

import (
	"context"
	"database/sql/driver"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/serialization"
)

// FailureList holds error messages recorded on an execution.
type FailureList []string

// Value implements driver.Valuer.
func (fl FailureList) Value() (driver.Value, error) {
	data, err := serialization.MarshalFailures(fl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (fl *FailureList) Scan(value interface{}) error {
	b, err := scanBytes(value, "FailureList")
	if err != nil {
		return err
	}
	msgs, err := serialization.UnmarshalFailures(b)
	if err != nil {
		return err
	}
	*fl = msgs
	return nil
}

// NewID returns a fresh execution identifier.
func NewID() string {
	return uuid.New().String()
}

// JobInstance is the logical run of a job for one set of parameters.
type JobInstance struct {
	ID             string
	JobName        string
	Parameters     JobParameters
	ParametersHash string
	CreateTime     time.Time
	Version        int
}

// NewJobInstance builds an instance and computes its parameters hash.
func NewJobInstance(jobName string, params JobParameters) (*JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, err
	}
	return &JobInstance{
		ID:             NewID(),
		JobName:        jobName,
		Parameters:     params,
		ParametersHash: hash,
		CreateTime:     time.Now(),
		Version:        0,
	}, nil
}

// JobExecution is one attempt to run a JobInstance.
type JobExecution struct {
	ID               string
	JobInstanceID    string
	JobName          string
	Parameters       JobParameters
	StartTime        time.Time
	EndTime          *time.Time
	Status           JobStatus
	ExitStatus       ExitStatus
	ExitCode         int
	Failures         FailureList
	Version          int
	CreateTime       time.Time
	LastUpdated      time.Time
	StepExecutions   []*StepExecution
	ExecutionContext ExecutionContext
	CurrentStepName  string
	RestartCount     int

	// CancelFunc stops a running execution. It is not persisted.
	CancelFunc context.CancelFunc `json:"-"`
}

// NewJobExecution returns a STARTING execution for instanceID.
func NewJobExecution(instanceID, jobName string, params JobParameters) *JobExecution {
	now := time.Now()
	return &JobExecution{
		ID:               NewID(),
		JobInstanceID:    instanceID,
		JobName:          jobName,
		Parameters:       params,
		StartTime:        now,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		Failures:         FailureList{},
		CreateTime:       now,
		LastUpdated:      now,
		StepExecutions:   make([]*StepExecution, 0),
		ExecutionContext: NewExecutionContext(),
	}
}

// NewRestartJobExecution returns the execution that resumes prev. Finished
// steps of prev are carried over so that the job can skip them.
func NewRestartJobExecution(prev *JobExecution) *JobExecution {
	je := NewJobExecution(prev.JobInstanceID, prev.JobName, prev.Parameters)
	je.RestartCount = prev.RestartCount + 1
	je.ExecutionContext = prev.ExecutionContext.Copy()
	for _, se := range prev.StepExecutions {
		je.AddStepExecution(se.CopyForRestart(je))
	}
	return je
}

// AddStepExecution attaches se to the execution.
func (je *JobExecution) AddStepExecution(se *StepExecution) {
	se.JobExecution = je
	se.JobExecutionID = je.ID
	je.StepExecutions = append(je.StepExecutions, se)
}

// FindStepExecution returns the step execution named stepName, if any.
func (je *JobExecution) FindStepExecution(stepName string) *StepExecution {
	for _, se := range je.StepExecutions {
		if se.StepName == stepName {
			return se
		}
	}
	return nil
}

// AddFailureException records err once per distinct message.
func (je *JobExecution) AddFailureException(err error) {
	je.Failures = appendFailure(je.Failures, err)
	je.LastUpdated = time.Now()
}

// TransitionTo moves the execution to next. Invalid transitions are logged and applied.
func (je *JobExecution) TransitionTo(next JobStatus) {
	transition("JobExecution", je.ID, &je.Status, next)
	je.LastUpdated = time.Now()
}

// MarkAsStarted moves the execution to STARTED.
func (je *JobExecution) MarkAsStarted() {
	je.TransitionTo(BatchStatusStarted)
	je.ExitStatus = ExitStatusExecuting
}

// MarkAsCompleted moves the execution to COMPLETED.
func (je *JobExecution) MarkAsCompleted() {
	je.finish(BatchStatusCompleted)
	je.ExitCode = 0
}

// MarkAsFailed moves the execution to FAILED and records err.
func (je *JobExecution) MarkAsFailed(err error) {
	je.finish(BatchStatusFailed)
	je.ExitCode = 1
	if err != nil {
		je.AddFailureException(err)
	}
}

// MarkAsStopped moves the execution to STOPPED.
func (je *JobExecution) MarkAsStopped() {
	je.finish(BatchStatusStopped)
}

// MarkAsAbandoned moves the execution to ABANDONED. An abandoned instance cannot be restarted.
func (je *JobExecution) MarkAsAbandoned() {
	je.finish(BatchStatusAbandoned)
}

func (je *JobExecution) finish(status JobStatus) {
	je.TransitionTo(status)
	je.ExitStatus = status.ToExitStatus()
	now := time.Now()
	je.EndTime = &now
}

// StepExecution is one attempt to run a step within a JobExecution.
type StepExecution struct {
	ID               string
	StepName         string
	JobExecution     *JobExecution `json:"-"`
	JobExecutionID   string
	StartTime        time.Time
	EndTime          *time.Time
	Status           JobStatus
	ExitStatus       ExitStatus
	Failures         FailureList
	ReadCount        int
	WriteCount       int
	CommitCount      int
	RollbackCount    int
	FilterCount      int
	ExecutionContext ExecutionContext
	LastUpdated      time.Time
	Version          int
}

// NewStepExecution returns a STARTING step execution attached to je.
func NewStepExecution(stepName string, je *JobExecution) *StepExecution {
	now := time.Now()
	se := &StepExecution{
		ID:               NewID(),
		StepName:         stepName,
		StartTime:        now,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		Failures:         FailureList{},
		ExecutionContext: NewExecutionContext(),
		LastUpdated:      now,
	}
	if je != nil {
		je.AddStepExecution(se)
	}
	return se
}

// CopyForRestart returns the step execution a restarted job starts from.
// A COMPLETED step keeps its status and counters; any other step starts over
// with its execution context, so a resumable step can pick up its checkpoint.
func (se *StepExecution) CopyForRestart(je *JobExecution) *StepExecution {
	now := time.Now()
	out := &StepExecution{
		ID:               NewID(),
		StepName:         se.StepName,
		StartTime:        now,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		Failures:         FailureList{},
		ExecutionContext: se.ExecutionContext.Copy(),
		LastUpdated:      now,
	}
	if je != nil {
		out.JobExecutionID = je.ID
	}
	if se.Status == BatchStatusCompleted {
		out.Status = se.Status
		out.ExitStatus = se.ExitStatus
		out.EndTime = se.EndTime
		out.ReadCount = se.ReadCount
		out.WriteCount = se.WriteCount
		out.CommitCount = se.CommitCount
		out.RollbackCount = se.RollbackCount
		out.FilterCount = se.FilterCount
	}
	return out
}

// AddFailureException records err once per distinct message.
func (se *StepExecution) AddFailureException(err error) {
	se.Failures = appendFailure(se.Failures, err)
	se.LastUpdated = time.Now()
}

// TransitionTo moves the step to next. Invalid transitions are logged and applied.
func (se *StepExecution) TransitionTo(next JobStatus) {
	transition("StepExecution", se.ID, &se.Status, next)
	se.LastUpdated = time.Now()
}

// MarkAsStarted moves the step to STARTED.
func (se *StepExecution) MarkAsStarted() {
	se.TransitionTo(BatchStatusStarted)
	se.ExitStatus = ExitStatusExecuting
}

// MarkAsCompleted moves the step to COMPLETED.
func (se *StepExecution) MarkAsCompleted() {
	se.finish(BatchStatusCompleted)
}

// MarkAsFailed moves the step to FAILED and records err.
func (se *StepExecution) MarkAsFailed(err error) {
	se.finish(BatchStatusFailed)
	if err != nil {
		se.AddFailureException(err)
	}
}

// MarkAsStopped moves the step to STOPPED.
func (se *StepExecution) MarkAsStopped() {
	se.finish(BatchStatusStopped)
}

func (se *StepExecution) finish(status JobStatus) {
	se.TransitionTo(status)
	se.ExitStatus = status.ToExitStatus()
	now := time.Now()
	se.EndTime = &now
}

// CheckpointData is the persisted restart state of a step execution.
type CheckpointData struct {
	StepExecutionID  string
	ExecutionContext ExecutionContext
	LastUpdated      time.Time
}

func transition(kind, id string, current *JobStatus, next JobStatus) {
	if *current == next {
		return
	}
	if !isValidTransition(*current, next) {
		logger.Warnf("%s (ID: %s): invalid status transition from %s to %s. Forcing status.", kind, id, *current, next)
	}
	*current = next
}

func appendFailure(list FailureList, err error) FailureList {
	if err == nil {
		return list
	}
	msg := err.Error()
	for _, existing := range list {
		if existing == msg {
			return list
		}
	}
	return append(list, msg)
}
