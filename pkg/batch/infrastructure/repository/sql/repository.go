package sql

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/csvimport/pkg/batch/adapter/database"
	"github.com/tigerroll/csvimport/pkg/batch/core/config"
	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/csvimport/pkg/batch/core/tx"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// SQLJobRepository implements repository.JobRepository on the metadata tables.
type SQLJobRepository struct {
	dbResolver database.DBConnectionResolver
	// TxManager begins the metadata transactions used by CreateJobExecution.
	TxManager tx.TransactionManager
	// dbName is the connection holding the metadata tables (e.g., "metadata").
	dbName string
}

// NewSQLJobRepository creates a SQLJobRepository on the connection named dbName.
func NewSQLJobRepository(
	dbResolver database.DBConnectionResolver,
	txManager tx.TransactionManager,
	dbName string,
) *SQLJobRepository {
	return &SQLJobRepository{
		dbResolver: dbResolver,
		TxManager:  txManager,
		dbName:     dbName,
	}
}

// sqlExecutor is what a repository operation needs from either a transaction or a connection.
type sqlExecutor interface {
	tx.TxExecutor
	IsTableNotExistError(err error) bool
	IsDuplicateKeyError(err error) bool
}

// executor returns the transaction carried by ctx, or the metadata connection when there is none.
// Reads go through the transaction too, so a single-connection pool never waits on itself.
func (r *SQLJobRepository) executor(ctx context.Context) (sqlExecutor, error) {
	if t, ok := tx.FromContext(ctx); ok {
		return t, nil
	}
	conn, err := r.dbResolver.ResolveDBConnection(ctx, r.dbName)
	if err != nil {
		return nil, exception.NewBatchError("SQLJobRepository", fmt.Sprintf("failed to resolve DB connection '%s'", r.dbName), err, false, true)
	}
	return conn, nil
}

// wrapError turns a database error into a BatchError. A missing table gets a message
// pointing at the migrations instead of being reported as "not found".
func wrapError(op string, ex sqlExecutor, message string, err error) error {
	if ex.IsTableNotExistError(err) {
		return exception.NewBatchError(op, "batch metadata tables are missing; run the database migrations", err, false, false)
	}
	return exception.NewBatchError(op, message, err, false, true)
}

// CreateJobExecution runs the launch decision inside one metadata transaction.
func (r *SQLJobRepository) CreateJobExecution(ctx context.Context, req repository.LaunchRequest) (*model.JobExecution, error) {
	const op = "SQLJobRepository.CreateJobExecution"

	t, err := r.TxManager.Begin(ctx)
	if err != nil {
		return nil, exception.NewBatchError(op, "failed to begin metadata transaction", err, false, true)
	}
	txCtx := tx.NewContext(ctx, t)

	execution, err := repository.CreateJobExecutionWith(txCtx, r, req)
	if err != nil {
		if rbErr := r.TxManager.Rollback(t); rbErr != nil {
			logger.Errorf("%s: rollback failed: %v", op, rbErr)
		}
		return nil, err
	}
	if err := r.TxManager.Commit(t); err != nil {
		// A unique violation surfacing at commit time is still a lost race.
		if t.IsDuplicateKeyError(err) {
			return nil, exception.Wrap(op, exception.ErrJobExecutionAlreadyRunning, "job instance was launched concurrently", err)
		}
		return nil, exception.NewBatchError(op, "failed to commit metadata transaction", err, false, true)
	}
	return execution, nil
}

// --- JobInstance ---

func (r *SQLJobRepository) SaveJobInstance(ctx context.Context, instance *model.JobInstance) error {
	const op = "SQLJobRepository.SaveJobInstance"
	entity := fromDomainJobInstance(instance)

	ex, err := r.executor(ctx)
	if err != nil {
		return err
	}
	if _, err := ex.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil); err != nil {
		if ex.IsDuplicateKeyError(err) {
			return exception.Wrap(op, exception.ErrDuplicateKey,
				fmt.Sprintf("JobInstance for job %s with hash %s already exists", instance.JobName, instance.ParametersHash), err)
		}
		return wrapError(op, ex, fmt.Sprintf("failed to save JobInstance (ID: %s)", instance.ID), err)
	}
	return nil
}

func (r *SQLJobRepository) UpdateJobInstance(ctx context.Context, instance *model.JobInstance) error {
	const op = "SQLJobRepository.UpdateJobInstance"

	originalVersion := instance.Version
	instance.Version++
	entity := fromDomainJobInstance(instance)

	ex, err := r.executor(ctx)
	if err != nil {
		instance.Version = originalVersion
		return err
	}
	rowsAffected, err := ex.ExecuteUpdate(ctx, entity, "UPDATE", entity.TableName(), map[string]interface{}{"version": originalVersion})
	if err != nil {
		instance.Version = originalVersion
		return wrapError(op, ex, fmt.Sprintf("failed to update JobInstance (ID: %s)", instance.ID), err)
	}
	if rowsAffected == 0 {
		instance.Version = originalVersion
		return exception.NewOptimisticLockingFailureException(op, fmt.Sprintf("JobInstance (ID: %s) with version %d not found for update", instance.ID, originalVersion), nil)
	}
	return nil
}

func (r *SQLJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	const op = "SQLJobRepository.FindJobInstanceByJobNameAndParameters"
	hash, err := params.Hash()
	if err != nil {
		return nil, exception.NewBatchError(op, "failed to calculate JobParameters hash", err, false, false)
	}

	ex, err := r.executor(ctx)
	if err != nil {
		return nil, err
	}
	var entity JobInstanceEntity
	if err := ex.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"job_name": jobName, "parameters_hash": hash}, "", 1); err != nil {
		return nil, wrapError(op, ex, "failed to find JobInstance", err)
	}
	if entity.ID == "" {
		return nil, repository.ErrJobInstanceNotFound
	}
	return toDomainJobInstance(&entity), nil
}

func (r *SQLJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	const op = "SQLJobRepository.FindJobInstanceByID"

	ex, err := r.executor(ctx)
	if err != nil {
		return nil, err
	}
	var entity JobInstanceEntity
	if err := ex.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"id": id}, "", 1); err != nil {
		return nil, wrapError(op, ex, fmt.Sprintf("failed to find JobInstance by ID: %s", id), err)
	}
	if entity.ID == "" {
		return nil, repository.ErrJobInstanceNotFound
	}
	return toDomainJobInstance(&entity), nil
}

func (r *SQLJobRepository) GetJobInstanceCount(ctx context.Context, jobName string) (int, error) {
	const op = "SQLJobRepository.GetJobInstanceCount"

	ex, err := r.executor(ctx)
	if err != nil {
		return 0, err
	}
	count, err := ex.Count(ctx, &JobInstanceEntity{}, map[string]interface{}{"job_name": jobName})
	if err != nil {
		return 0, wrapError(op, ex, fmt.Sprintf("failed to count JobInstances of %s", jobName), err)
	}
	return int(count), nil
}

// --- JobExecution ---

func (r *SQLJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	const op = "SQLJobRepository.SaveJobExecution"
	entity := fromDomainJobExecution(jobExecution)

	ex, err := r.executor(ctx)
	if err != nil {
		return err
	}
	if _, err := ex.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil); err != nil {
		return wrapError(op, ex, fmt.Sprintf("failed to save JobExecution (ID: %s)", jobExecution.ID), err)
	}
	return nil
}

func (r *SQLJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	const op = "SQLJobRepository.UpdateJobExecution"

	originalVersion := jobExecution.Version
	jobExecution.Version++
	entity := fromDomainJobExecution(jobExecution)

	ex, err := r.executor(ctx)
	if err != nil {
		jobExecution.Version = originalVersion
		return err
	}
	rowsAffected, err := ex.ExecuteUpdate(ctx, entity, "UPDATE", entity.TableName(), map[string]interface{}{"version": originalVersion})
	if err != nil {
		jobExecution.Version = originalVersion
		return wrapError(op, ex, fmt.Sprintf("failed to update JobExecution (ID: %s)", jobExecution.ID), err)
	}
	if rowsAffected == 0 {
		jobExecution.Version = originalVersion
		return exception.NewOptimisticLockingFailureException(op, fmt.Sprintf("JobExecution (ID: %s) with version %d not found for update", jobExecution.ID, originalVersion), nil)
	}
	return nil
}

func (r *SQLJobRepository) FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error) {
	const op = "SQLJobRepository.FindJobExecutionByID"

	ex, err := r.executor(ctx)
	if err != nil {
		return nil, err
	}
	var entity JobExecutionEntity
	if err := ex.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"id": executionID}, "", 1); err != nil {
		return nil, wrapError(op, ex, fmt.Sprintf("failed to find JobExecution by ID: %s", executionID), err)
	}
	if entity.ID == "" {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withSteps(ctx, toDomainJobExecution(&entity))
}

// FindLatestJobExecution orders by restart count first so that executions created
// within the same clock tick still resolve to the newest attempt.
func (r *SQLJobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	const op = "SQLJobRepository.FindLatestJobExecution"

	ex, err := r.executor(ctx)
	if err != nil {
		return nil, err
	}
	var entity JobExecutionEntity
	if err := ex.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"job_instance_id": jobInstanceID}, "restart_count desc, create_time desc", 1); err != nil {
		return nil, wrapError(op, ex, fmt.Sprintf("failed to find latest JobExecution of instance %s", jobInstanceID), err)
	}
	if entity.ID == "" {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withSteps(ctx, toDomainJobExecution(&entity))
}

func (r *SQLJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *model.JobInstance) ([]*model.JobExecution, error) {
	const op = "SQLJobRepository.FindJobExecutionsByJobInstance"

	ex, err := r.executor(ctx)
	if err != nil {
		return nil, err
	}
	var entities []JobExecutionEntity
	if err := ex.ExecuteQueryAdvanced(ctx, &entities, map[string]interface{}{"job_instance_id": jobInstance.ID}, "restart_count desc, create_time desc", 0); err != nil {
		return nil, wrapError(op, ex, fmt.Sprintf("failed to find JobExecutions of instance %s", jobInstance.ID), err)
	}
	executions := make([]*model.JobExecution, 0, len(entities))
	for i := range entities {
		executions = append(executions, toDomainJobExecution(&entities[i]))
	}
	return executions, nil
}

func (r *SQLJobRepository) withSteps(ctx context.Context, je *model.JobExecution) (*model.JobExecution, error) {
	steps, err := r.FindStepExecutionsByJobExecutionID(ctx, je.ID)
	if err != nil {
		return nil, err
	}
	for _, se := range steps {
		je.AddStepExecution(se)
	}
	return je, nil
}

// --- StepExecution ---

func (r *SQLJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	const op = "SQLJobRepository.SaveStepExecution"
	entity := fromDomainStepExecution(stepExecution)

	ex, err := r.executor(ctx)
	if err != nil {
		return err
	}
	if _, err := ex.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil); err != nil {
		return wrapError(op, ex, fmt.Sprintf("failed to save StepExecution (ID: %s)", stepExecution.ID), err)
	}
	return nil
}

func (r *SQLJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	const op = "SQLJobRepository.UpdateStepExecution"

	originalVersion := stepExecution.Version
	stepExecution.Version++
	entity := fromDomainStepExecution(stepExecution)

	ex, err := r.executor(ctx)
	if err != nil {
		stepExecution.Version = originalVersion
		return err
	}
	rowsAffected, err := ex.ExecuteUpdate(ctx, entity, "UPDATE", entity.TableName(), map[string]interface{}{"version": originalVersion})
	if err != nil {
		stepExecution.Version = originalVersion
		return wrapError(op, ex, fmt.Sprintf("failed to update StepExecution (ID: %s)", stepExecution.ID), err)
	}
	if rowsAffected == 0 {
		stepExecution.Version = originalVersion
		return exception.NewOptimisticLockingFailureException(op, fmt.Sprintf("StepExecution (ID: %s) with version %d not found for update", stepExecution.ID, originalVersion), nil)
	}
	return nil
}

func (r *SQLJobRepository) FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error) {
	const op = "SQLJobRepository.FindStepExecutionByID"

	ex, err := r.executor(ctx)
	if err != nil {
		return nil, err
	}
	var entity StepExecutionEntity
	if err := ex.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"id": executionID}, "", 1); err != nil {
		return nil, wrapError(op, ex, fmt.Sprintf("failed to find StepExecution by ID: %s", executionID), err)
	}
	if entity.ID == "" {
		return nil, repository.ErrStepExecutionNotFound
	}
	return toDomainStepExecution(&entity), nil
}

func (r *SQLJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	const op = "SQLJobRepository.FindStepExecutionsByJobExecutionID"

	ex, err := r.executor(ctx)
	if err != nil {
		return nil, err
	}
	var entities []StepExecutionEntity
	if err := ex.ExecuteQueryAdvanced(ctx, &entities, map[string]interface{}{"job_execution_id": jobExecutionID}, "start_time asc", 0); err != nil {
		return nil, wrapError(op, ex, fmt.Sprintf("failed to find StepExecutions of JobExecution %s", jobExecutionID), err)
	}
	steps := make([]*model.StepExecution, 0, len(entities))
	for i := range entities {
		steps = append(steps, toDomainStepExecution(&entities[i]))
	}
	return steps, nil
}

// --- CheckpointData ---

func (r *SQLJobRepository) SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error {
	const op = "SQLJobRepository.SaveCheckpointData"
	entity := &CheckpointDataEntity{
		StepExecutionID:  data.StepExecutionID,
		ExecutionContext: data.ExecutionContext,
		LastUpdated:      data.LastUpdated,
	}

	ex, err := r.executor(ctx)
	if err != nil {
		return err
	}
	_, err = ex.ExecuteUpsert(ctx, entity, entity.TableName(), []string{"step_execution_id"}, []string{"execution_context", "last_updated"})
	if err != nil {
		return wrapError(op, ex, fmt.Sprintf("failed to save CheckpointData for StepExecution %s", data.StepExecutionID), err)
	}
	return nil
}

func (r *SQLJobRepository) FindCheckpointData(ctx context.Context, stepExecutionID string) (*model.CheckpointData, error) {
	const op = "SQLJobRepository.FindCheckpointData"

	ex, err := r.executor(ctx)
	if err != nil {
		return nil, err
	}
	var entity CheckpointDataEntity
	if err := ex.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"step_execution_id": stepExecutionID}, "", 1); err != nil {
		return nil, wrapError(op, ex, fmt.Sprintf("failed to find CheckpointData of StepExecution %s", stepExecutionID), err)
	}
	if entity.StepExecutionID == "" {
		return nil, repository.ErrCheckpointDataNotFound
	}
	return &model.CheckpointData{
		StepExecutionID:  entity.StepExecutionID,
		ExecutionContext: entity.ExecutionContext,
		LastUpdated:      entity.LastUpdated,
	}, nil
}

// Close implements repository.JobRepository. Connections belong to their providers.
func (r *SQLJobRepository) Close() error {
	return nil
}

var _ repository.JobRepository = (*SQLJobRepository)(nil)

// JobRepositoryParams defines the dependencies of NewJobRepository.
type JobRepositoryParams struct {
	fx.In
	DBResolver database.DBConnectionResolver
	// MetadataTxManager is the transaction manager for the metadata database.
	MetadataTxManager tx.TransactionManager `name:"metadata"`
	Cfg               *config.Config
}

// NewJobRepository is the Fx provider of the SQL JobRepository.
func NewJobRepository(p JobRepositoryParams) repository.JobRepository {
	dbName := p.Cfg.Surfin.Infrastructure.JobRepositoryDBRef
	if dbName == "" {
		dbName = "metadata"
	}
	return NewSQLJobRepository(p.DBResolver, p.MetadataTxManager, dbName)
}
