package repository

import (
	"context"
	"errors"
	"fmt"

	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

const launchModule = "JobRepository"

// LaunchRequest asks for a new execution of the instance identified by JobName and Parameters.
type LaunchRequest struct {
	JobName    string
	Parameters model.JobParameters
	// Restart resumes a FAILED or STOPPED instance instead of starting a new one.
	Restart bool
	// ExecutionID, when set, is used as the ID of the created execution.
	ExecutionID string
}

// EvaluateLaunch decides whether a request may proceed given the latest execution
// of its instance (nil when the instance has no execution yet).
//
//	latest status      | launch            | restart
//	none               | allowed           | RestartDenied
//	STARTING, STARTED  | AlreadyRunning    | AlreadyRunning
//	COMPLETED          | AlreadyComplete   | AlreadyComplete
//	FAILED, STOPPED    | RestartDenied     | allowed
//	ABANDONED          | RestartDenied     | RestartDenied
func EvaluateLaunch(latest *model.JobExecution, restart bool) error {
	if latest == nil {
		if restart {
			return exception.Wrap(launchModule, exception.ErrJobRestartDenied, "no previous execution to restart", nil)
		}
		return nil
	}
	switch {
	case latest.Status.IsRunning():
		return exception.Wrap(launchModule, exception.ErrJobExecutionAlreadyRunning,
			fmt.Sprintf("job execution %s of job instance %s is %s", latest.ID, latest.JobInstanceID, latest.Status), nil)
	case latest.Status == model.BatchStatusCompleted:
		return exception.Wrap(launchModule, exception.ErrJobInstanceAlreadyComplete,
			fmt.Sprintf("job instance %s already completed with parameters %s", latest.JobInstanceID, latest.Parameters.String()), nil)
	case latest.Status.IsRestartable() && restart:
		return nil
	case latest.Status.IsRestartable():
		return exception.Wrap(launchModule, exception.ErrJobRestartDenied,
			fmt.Sprintf("job instance %s ended %s; request a restart to resume it", latest.JobInstanceID, latest.Status), nil)
	}
	return exception.Wrap(launchModule, exception.ErrJobRestartDenied,
		fmt.Sprintf("job instance %s ended %s and cannot be restarted", latest.JobInstanceID, latest.Status), nil)
}

// LaunchStore is the part of a JobRepository used to create executions.
type LaunchStore interface {
	JobInstance
	FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error)
	SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error
}

// CreateJobExecutionWith runs the launch decision against store. The caller makes the
// sequence atomic, for example by running it inside one metadata transaction.
//
// Two requests racing for the same parameters are separated by the store: the unique
// (job_name, parameters_hash) key rejects a second new instance and the instance version
// check rejects a second restart. The loser gets AlreadyRunning.
func CreateJobExecutionWith(ctx context.Context, store LaunchStore, req LaunchRequest) (*model.JobExecution, error) {
	instance, err := store.FindJobInstanceByJobNameAndParameters(ctx, req.JobName, req.Parameters)
	if errors.Is(err, ErrJobInstanceNotFound) {
		if err := EvaluateLaunch(nil, req.Restart); err != nil {
			return nil, err
		}
		return createFirstExecution(ctx, store, req)
	}
	if err != nil {
		return nil, err
	}

	latest, err := store.FindLatestJobExecution(ctx, instance.ID)
	switch {
	case errors.Is(err, ErrJobExecutionNotFound):
		latest = nil
	case err != nil:
		return nil, err
	}
	if err := EvaluateLaunch(latest, req.Restart); err != nil {
		return nil, err
	}

	if err := store.UpdateJobInstance(ctx, instance); err != nil {
		if exception.IsOptimisticLockingFailure(err) {
			return nil, exception.Wrap(launchModule, exception.ErrJobExecutionAlreadyRunning,
				fmt.Sprintf("job instance %s was claimed by a concurrent launch", instance.ID), err)
		}
		return nil, err
	}

	var execution *model.JobExecution
	if latest != nil && req.Restart {
		execution = model.NewRestartJobExecution(latest)
		logger.Infof("Restarting job instance %s (previous execution %s, restart #%d).", instance.ID, latest.ID, execution.RestartCount)
	} else {
		execution = model.NewJobExecution(instance.ID, req.JobName, instance.Parameters)
	}
	assignExecutionID(execution, req)
	if err := store.SaveJobExecution(ctx, execution); err != nil {
		return nil, err
	}
	return execution, nil
}

func createFirstExecution(ctx context.Context, store LaunchStore, req LaunchRequest) (*model.JobExecution, error) {
	instance, err := model.NewJobInstance(req.JobName, req.Parameters)
	if err != nil {
		return nil, exception.Wrap(launchModule, exception.ErrJobParametersInvalid, "job parameters cannot be hashed", err)
	}
	if err := store.SaveJobInstance(ctx, instance); err != nil {
		if exception.IsDuplicateKey(err) {
			return nil, exception.Wrap(launchModule, exception.ErrJobExecutionAlreadyRunning,
				fmt.Sprintf("job %s with parameters %s was launched concurrently", req.JobName, req.Parameters.String()), err)
		}
		return nil, err
	}
	execution := model.NewJobExecution(instance.ID, req.JobName, req.Parameters)
	assignExecutionID(execution, req)
	if err := store.SaveJobExecution(ctx, execution); err != nil {
		return nil, err
	}
	return execution, nil
}

func assignExecutionID(execution *model.JobExecution, req LaunchRequest) {
	if req.ExecutionID == "" {
		return
	}
	execution.ID = req.ExecutionID
	for _, se := range execution.StepExecutions {
		se.JobExecutionID = execution.ID
	}
}
