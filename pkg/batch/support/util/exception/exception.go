// Package exception provides the error types shared by the batch engine.
// Errors are wrapped in BatchError so callers can tell which module raised them,
// while the sentinel values below stay reachable through errors.Is.
package exception

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// Names under which the sentinel errors are registered.
const (
	OptimisticLockingFailureException   = "OptimisticLockingFailureException"
	ItemStreamOpenException             = "ItemStreamOpenException"
	ItemMappingException                = "ItemMappingException"
	ChunkWriteException                 = "ChunkWriteException"
	JobExecutionAlreadyRunningException = "JobExecutionAlreadyRunningException"
	JobInstanceAlreadyCompleteException = "JobInstanceAlreadyCompleteException"
	JobParametersInvalidException       = "JobParametersInvalidException"
	JobRestartException                 = "JobRestartException"
	JobExecutionNotRunningException     = "JobExecutionNotRunningException"
	DuplicateKeyException               = "DuplicateKeyException"
)

var (
	// ErrOptimisticLockingFailure is returned when a versioned update matched no row.
	ErrOptimisticLockingFailure = errors.New(OptimisticLockingFailureException)
	// ErrItemStreamOpen marks a reader or writer that could not be opened.
	ErrItemStreamOpen = errors.New(ItemStreamOpenException)
	// ErrItemMapping marks a raw field-set that could not be converted into a record.
	ErrItemMapping = errors.New(ItemMappingException)
	// ErrChunkWrite marks a chunk whose transaction was rolled back.
	ErrChunkWrite = errors.New(ChunkWriteException)
	// ErrJobExecutionAlreadyRunning is returned when an execution for the same parameters is active.
	ErrJobExecutionAlreadyRunning = errors.New(JobExecutionAlreadyRunningException)
	// ErrJobInstanceAlreadyComplete is returned when the parameters already produced a COMPLETED execution.
	ErrJobInstanceAlreadyComplete = errors.New(JobInstanceAlreadyCompleteException)
	// ErrJobParametersInvalid is returned when job parameters fail validation.
	ErrJobParametersInvalid = errors.New(JobParametersInvalidException)
	// ErrJobRestartDenied is returned when a launch or restart is not allowed for the latest execution.
	ErrJobRestartDenied = errors.New(JobRestartException)
	// ErrJobExecutionNotRunning is returned when stopping an execution this process is not running.
	ErrJobExecutionNotRunning = errors.New(JobExecutionNotRunningException)
	// ErrDuplicateKey is returned by executors when an insert violates a unique constraint.
	ErrDuplicateKey = errors.New(DuplicateKeyException)
)

var (
	errorRegistry = make(map[string]error)
	registryMutex sync.RWMutex
)

// RegisterErrorType registers a named error prototype used by IsErrorOfType.
// It panics if name is empty or prototype is nil.
func RegisterErrorType(name string, prototype error) {
	if name == "" {
		panic("error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("cannot register nil prototype for name: %s", name))
	}
	registryMutex.Lock()
	defer registryMutex.Unlock()
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered reports whether name has been registered.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// IsErrorOfType reports whether err matches the registered error named errorTypeName.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}
	registryMutex.RLock()
	target, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()
	return ok && errors.Is(err, target)
}

func init() {
	RegisterErrorType(OptimisticLockingFailureException, ErrOptimisticLockingFailure)
	RegisterErrorType(ItemStreamOpenException, ErrItemStreamOpen)
	RegisterErrorType(ItemMappingException, ErrItemMapping)
	RegisterErrorType(ChunkWriteException, ErrChunkWrite)
	RegisterErrorType(JobExecutionAlreadyRunningException, ErrJobExecutionAlreadyRunning)
	RegisterErrorType(JobInstanceAlreadyCompleteException, ErrJobInstanceAlreadyComplete)
	RegisterErrorType(JobParametersInvalidException, ErrJobParametersInvalid)
	RegisterErrorType(JobRestartException, ErrJobRestartDenied)
	RegisterErrorType(JobExecutionNotRunningException, ErrJobExecutionNotRunning)
	RegisterErrorType(DuplicateKeyException, ErrDuplicateKey)
}

// BatchError is the error type raised by batch components.
type BatchError struct {
	// Module is the component that raised the error (e.g. "reader", "chunk_step").
	Module string
	// Message is a short description of the failure.
	Message string
	// OriginalErr is the wrapped cause. It may be nil.
	OriginalErr error
	isRetryable bool
	isSkippable bool
	// StackTrace is captured at construction for debugging.
	StackTrace string
}

// NewBatchError creates a BatchError.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

// NewBatchErrorf creates a BatchError from a format string.
// A trailing error argument is taken as the cause and is not used for formatting.
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var originalErr error
	if len(a) > 0 {
		if err, ok := a[len(a)-1].(error); ok {
			originalErr = err
			a = a[:len(a)-1]
		}
	}
	return NewBatchError(module, fmt.Sprintf(format, a...), originalErr, false, false)
}

// Wrap creates a BatchError whose cause joins sentinel with cause, so both stay
// reachable through errors.Is and errors.As.
func Wrap(module string, sentinel error, message string, cause error) *BatchError {
	wrapped := sentinel
	if cause != nil {
		wrapped = errors.Join(sentinel, cause)
	}
	return NewBatchError(module, message, wrapped, false, false)
}

// NewOptimisticLockingFailureException creates a BatchError for a lost versioned update.
func NewOptimisticLockingFailureException(module, message string, originalErr error) *BatchError {
	return Wrap(module, ErrOptimisticLockingFailure, message, originalErr)
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable reports whether the error is retryable.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable reports whether the error is skippable.
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// IsBatchError reports whether err or anything it wraps is a *BatchError.
func IsBatchError(err error) bool {
	var be *BatchError
	return errors.As(err, &be)
}

// IsOptimisticLockingFailure reports whether err is an optimistic locking failure.
func IsOptimisticLockingFailure(err error) bool {
	return err != nil && errors.Is(err, ErrOptimisticLockingFailure)
}

// IsDuplicateKey reports whether err is a unique constraint violation.
func IsDuplicateKey(err error) bool {
	return err != nil && errors.Is(err, ErrDuplicateKey)
}

// ExtractErrorMessage returns the Message of a BatchError, or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}
