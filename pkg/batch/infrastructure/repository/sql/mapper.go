package sql

import (
	"github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
)

func fromDomainJobInstance(ji *model.JobInstance) *JobInstanceEntity {
	return &JobInstanceEntity{
		ID:             ji.ID,
		JobName:        ji.JobName,
		Parameters:     ji.Parameters,
		ParametersHash: ji.ParametersHash,
		CreateTime:     ji.CreateTime,
		Version:        ji.Version,
	}
}

func toDomainJobInstance(e *JobInstanceEntity) *model.JobInstance {
	return &model.JobInstance{
		ID:             e.ID,
		JobName:        e.JobName,
		Parameters:     e.Parameters,
		ParametersHash: e.ParametersHash,
		CreateTime:     e.CreateTime,
		Version:        e.Version,
	}
}

func fromDomainJobExecution(je *model.JobExecution) *JobExecutionEntity {
	return &JobExecutionEntity{
		ID:               je.ID,
		JobInstanceID:    je.JobInstanceID,
		JobName:          je.JobName,
		Parameters:       je.Parameters,
		StartTime:        je.StartTime,
		EndTime:          je.EndTime,
		Status:           je.Status,
		ExitStatus:       je.ExitStatus,
		ExitCode:         je.ExitCode,
		Failures:         je.Failures,
		Version:          je.Version,
		CreateTime:       je.CreateTime,
		LastUpdated:      je.LastUpdated,
		ExecutionContext: je.ExecutionContext,
		CurrentStepName:  je.CurrentStepName,
		RestartCount:     je.RestartCount,
	}
}

// toDomainJobExecution leaves StepExecutions empty; the repository loads them separately.
func toDomainJobExecution(e *JobExecutionEntity) *model.JobExecution {
	return &model.JobExecution{
		ID:               e.ID,
		JobInstanceID:    e.JobInstanceID,
		JobName:          e.JobName,
		Parameters:       e.Parameters,
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
		Status:           e.Status,
		ExitStatus:       e.ExitStatus,
		ExitCode:         e.ExitCode,
		Failures:         e.Failures,
		Version:          e.Version,
		CreateTime:       e.CreateTime,
		LastUpdated:      e.LastUpdated,
		ExecutionContext: e.ExecutionContext,
		CurrentStepName:  e.CurrentStepName,
		RestartCount:     e.RestartCount,
		StepExecutions:   make([]*model.StepExecution, 0),
	}
}

func fromDomainStepExecution(se *model.StepExecution) *StepExecutionEntity {
	return &StepExecutionEntity{
		ID:               se.ID,
		StepName:         se.StepName,
		JobExecutionID:   se.JobExecutionID,
		StartTime:        se.StartTime,
		EndTime:          se.EndTime,
		Status:           se.Status,
		ExitStatus:       se.ExitStatus,
		Failures:         se.Failures,
		ReadCount:        se.ReadCount,
		WriteCount:       se.WriteCount,
		CommitCount:      se.CommitCount,
		RollbackCount:    se.RollbackCount,
		FilterCount:      se.FilterCount,
		ExecutionContext: se.ExecutionContext,
		LastUpdated:      se.LastUpdated,
		Version:          se.Version,
	}
}

func toDomainStepExecution(e *StepExecutionEntity) *model.StepExecution {
	return &model.StepExecution{
		ID:               e.ID,
		StepName:         e.StepName,
		JobExecutionID:   e.JobExecutionID,
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
		Status:           e.Status,
		ExitStatus:       e.ExitStatus,
		Failures:         e.Failures,
		ReadCount:        e.ReadCount,
		WriteCount:       e.WriteCount,
		CommitCount:      e.CommitCount,
		RollbackCount:    e.RollbackCount,
		FilterCount:      e.FilterCount,
		ExecutionContext: e.ExecutionContext,
		LastUpdated:      e.LastUpdated,
		Version:          e.Version,
	}
}
