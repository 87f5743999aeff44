package model

// JobStatus is the batch status of a job or step execution.
type JobStatus string

const (
	BatchStatusStarting  JobStatus = "STARTING"
	BatchStatusStarted   JobStatus = "STARTED"
	BatchStatusCompleted JobStatus = "COMPLETED"
	BatchStatusFailed    JobStatus = "FAILED"
	BatchStatusStopped   JobStatus = "STOPPED"
	BatchStatusAbandoned JobStatus = "ABANDONED"
	BatchStatusUnknown   JobStatus = "UNKNOWN"
)

// String implements fmt.Stringer.
func (s JobStatus) String() string {
	return string(s)
}

// IsRunning reports whether an execution in this status may still do work.
func (s JobStatus) IsRunning() bool {
	return s == BatchStatusStarting || s == BatchStatusStarted
}

// IsFinished reports whether s is terminal.
func (s JobStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned:
		return true
	}
	return false
}

// IsRestartable reports whether a new execution may resume an instance whose
// latest execution ended in s.
func (s JobStatus) IsRestartable() bool {
	return s == BatchStatusFailed || s == BatchStatusStopped
}

// ToExitStatus maps a terminal status to its default exit status.
func (s JobStatus) ToExitStatus() ExitStatus {
	switch s {
	case BatchStatusCompleted:
		return ExitStatusCompleted
	case BatchStatusFailed:
		return ExitStatusFailed
	case BatchStatusStopped:
		return ExitStatusStopped
	case BatchStatusAbandoned:
		return ExitStatusAbandoned
	case BatchStatusStarting, BatchStatusStarted:
		return ExitStatusExecuting
	}
	return ExitStatusUnknown
}

// ExitStatus is the finer-grained outcome recorded next to a JobStatus.
type ExitStatus string

const (
	ExitStatusUnknown   ExitStatus = "UNKNOWN"
	ExitStatusExecuting ExitStatus = "EXECUTING"
	ExitStatusCompleted ExitStatus = "COMPLETED"
	ExitStatusFailed    ExitStatus = "FAILED"
	ExitStatusStopped   ExitStatus = "STOPPED"
	ExitStatusNoOp      ExitStatus = "NOOP"
	ExitStatusAbandoned ExitStatus = "ABANDONED"
)

// String implements fmt.Stringer.
func (s ExitStatus) String() string {
	return string(s)
}

// validTransitions lists the statuses reachable from each status.
// Job and step executions share the table; a restart creates a new execution
// instead of moving a finished one back to STARTED.
var validTransitions = map[JobStatus][]JobStatus{
	BatchStatusStarting: {BatchStatusStarted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned},
	BatchStatusStarted:  {BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned},
	BatchStatusFailed:   {BatchStatusAbandoned},
	BatchStatusStopped:  {BatchStatusAbandoned},
}

func isValidTransition(current, next JobStatus) bool {
	for _, s := range validTransitions[current] {
		if s == next {
			return true
		}
	}
	return false
}
