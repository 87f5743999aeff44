package sql

import (
	"time"

	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
)

// Table names of the batch metadata schema. The DDL lives in the migration files.
const (
	tableJobInstance    = "batch_job_instance"
	tableJobExecution   = "batch_job_execution"
	tableStepExecution  = "batch_step_execution"
	tableCheckpointData = "batch_checkpoint_data"
)

// JobInstanceEntity is the persisted form of model.JobInstance.
// (job_name, parameters_hash) carries a unique index.
type JobInstanceEntity struct {
	ID             string              `gorm:"column:id;primaryKey"`
	JobName        string              `gorm:"column:job_name"`
	Parameters     model.JobParameters `gorm:"column:parameters"`
	ParametersHash string              `gorm:"column:parameters_hash"`
	CreateTime     time.Time           `gorm:"column:create_time"`
	Version        int                 `gorm:"column:version"`
}

func (JobInstanceEntity) TableName() string { return tableJobInstance }

// JobExecutionEntity is the persisted form of model.JobExecution.
type JobExecutionEntity struct {
	ID               string                 `gorm:"column:id;primaryKey"`
	JobInstanceID    string                 `gorm:"column:job_instance_id"`
	JobName          string                 `gorm:"column:job_name"`
	Parameters       model.JobParameters    `gorm:"column:parameters"`
	StartTime        time.Time              `gorm:"column:start_time"`
	EndTime          *time.Time             `gorm:"column:end_time"`
	Status           model.JobStatus        `gorm:"column:status"`
	ExitStatus       model.ExitStatus       `gorm:"column:exit_status"`
	ExitCode         int                    `gorm:"column:exit_code"`
	Failures         model.FailureList      `gorm:"column:failures"`
	Version          int                    `gorm:"column:version"`
	CreateTime       time.Time              `gorm:"column:create_time"`
	LastUpdated      time.Time              `gorm:"column:last_updated"`
	ExecutionContext model.ExecutionContext `gorm:"column:execution_context"`
	CurrentStepName  string                 `gorm:"column:current_step_name"`
	RestartCount     int                    `gorm:"column:restart_count"`
}

func (JobExecutionEntity) TableName() string { return tableJobExecution }

// StepExecutionEntity is the persisted form of model.StepExecution.
type StepExecutionEntity struct {
	ID               string                 `gorm:"column:id;primaryKey"`
	StepName         string                 `gorm:"column:step_name"`
	JobExecutionID   string                 `gorm:"column:job_execution_id"`
	StartTime        time.Time              `gorm:"column:start_time"`
	EndTime          *time.Time             `gorm:"column:end_time"`
	Status           model.JobStatus        `gorm:"column:status"`
	ExitStatus       model.ExitStatus       `gorm:"column:exit_status"`
	Failures         model.FailureList      `gorm:"column:failures"`
	ReadCount        int                    `gorm:"column:read_count"`
	WriteCount       int                    `gorm:"column:write_count"`
	CommitCount      int                    `gorm:"column:commit_count"`
	RollbackCount    int                    `gorm:"column:rollback_count"`
	FilterCount      int                    `gorm:"column:filter_count"`
	ExecutionContext model.ExecutionContext `gorm:"column:execution_context"`
	LastUpdated      time.Time              `gorm:"column:last_updated"`
	Version          int                    `gorm:"column:version"`
}

func (StepExecutionEntity) TableName() string { return tableStepExecution }

// CheckpointDataEntity is the persisted form of model.CheckpointData.
type CheckpointDataEntity struct {
	StepExecutionID  string                 `gorm:"column:step_execution_id;primaryKey"`
	ExecutionContext model.ExecutionContext `gorm:"column:execution_context"`
	LastUpdated      time.Time              `gorm:"column:last_updated"`
}

func (CheckpointDataEntity) TableName() string { return tableCheckpointData }
