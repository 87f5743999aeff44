package sql_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	testify_mock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/csvimport/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/csvimport/pkg/batch/adapter/database/gorm"
	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
	"github.com/tigerroll/csvimport/pkg/batch/core/tx"
	sqlrepo "github.com/tigerroll/csvimport/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
	batchtest "github.com/tigerroll/csvimport/pkg/batch/test"
)

// setupGormMock builds a repository over a sqlmock-backed MySQL dialector.
func setupGormMock(t *testing.T) (sqlmock.Sqlmock, *batchtest.MockTxManager, *sqlrepo.SQLJobRepository) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	conn, err := gormadapter.NewGormDBAdapter(gormDB, dbconfig.DatabaseConfig{Type: "mysql"}, "metadata")
	require.NoError(t, err)

	txManager := &batchtest.MockTxManager{}
	repo := sqlrepo.NewSQLJobRepository(batchtest.NewTestSingleConnectionResolver(conn), txManager, "metadata")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = sqlDB.Close()
	})
	return mock, txManager, repo
}

func TestSQLJobRepository_UpdateJobExecution_VersionMismatch(t *testing.T) {
	mock, _, repo := setupGormMock(t)
	je := model.NewJobExecution("instance-1", "importCustomers", model.NewJobParameters())
	je.Version = 3

	mock.ExpectExec("UPDATE `batch_job_execution` SET .*WHERE .*version.*").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateJobExecution(context.Background(), je)
	require.Error(t, err)
	assert.True(t, exception.IsOptimisticLockingFailure(err))
	assert.Equal(t, 3, je.Version, "version is restored after a lost update")
}

func TestSQLJobRepository_UpdateStepExecution_BumpsVersion(t *testing.T) {
	mock, _, repo := setupGormMock(t)
	se := model.NewStepExecution("csv-step", nil)
	se.JobExecutionID = "execution-1"

	mock.ExpectExec("UPDATE `batch_step_execution` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStepExecution(context.Background(), se))
	assert.Equal(t, 1, se.Version)
}

func TestSQLJobRepository_SaveJobInstance_DuplicateKey(t *testing.T) {
	mock, _, repo := setupGormMock(t)
	ji, err := model.NewJobInstance("importCustomers", model.NewJobParameters())
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO `batch_job_instance`").
		WillReturnError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry for key 'ux_batch_job_instance_key'"})

	err = repo.SaveJobInstance(context.Background(), ji)
	require.Error(t, err)
	assert.True(t, exception.IsDuplicateKey(err))
}

func TestSQLJobRepository_MissingTables(t *testing.T) {
	mock, _, repo := setupGormMock(t)

	mock.ExpectQuery("SELECT \\* FROM `batch_job_execution`").
		WillReturnError(&mysqldriver.MySQLError{Number: 1146, Message: "Table 'batch.batch_job_execution' doesn't exist"})

	_, err := repo.FindJobExecutionByID(context.Background(), "missing")
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrJobExecutionNotFound)
	assert.Contains(t, err.Error(), "run the database migrations")
}

func TestSQLJobRepository_FindLatestJobExecution_NotFound(t *testing.T) {
	mock, _, repo := setupGormMock(t)

	mock.ExpectQuery("SELECT \\* FROM `batch_job_execution` WHERE .*job_instance_id.* ORDER BY restart_count desc, create_time desc LIMIT").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindLatestJobExecution(context.Background(), "instance-1")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
}

func TestSQLJobRepository_UsesTransactionFromContext(t *testing.T) {
	_, _, repo := setupGormMock(t)
	je := model.NewJobExecution("instance-1", "importCustomers", model.NewJobParameters())

	mockTx := new(batchtest.MockTx)
	mockTx.On("ExecuteUpdate", testify_mock.Anything, testify_mock.Anything, "CREATE", "batch_job_execution", testify_mock.Anything).Return(int64(1), nil)

	// No SQL is expected on the connection: the write goes through the transaction.
	err := repo.SaveJobExecution(tx.NewContext(context.Background(), mockTx), je)
	require.NoError(t, err)
	mockTx.AssertExpectations(t)
}

func TestSQLJobRepository_CreateJobExecution_RollsBackLostRace(t *testing.T) {
	_, txManager, repo := setupGormMock(t)

	mockTx := new(batchtest.MockTx)
	// Instance lookup finds nothing, then the insert hits the unique index.
	mockTx.On("ExecuteQueryAdvanced", testify_mock.Anything, testify_mock.Anything, testify_mock.Anything, "", 1).Return(nil)
	duplicate := errors.New("UNIQUE constraint failed: batch_job_instance.job_name, batch_job_instance.parameters_hash")
	mockTx.On("ExecuteUpdate", testify_mock.Anything, testify_mock.Anything, "CREATE", "batch_job_instance", testify_mock.Anything).Return(int64(0), duplicate)
	mockTx.On("IsDuplicateKeyError", duplicate).Return(true)

	txManager.On("Begin", testify_mock.Anything, testify_mock.Anything).Return(mockTx, nil)
	txManager.On("Rollback", mockTx).Return(nil)

	params := model.NewJobParameters()
	params.Put("startAt", int64(1))
	_, err := repo.CreateJobExecution(context.Background(), repository.LaunchRequest{JobName: "importCustomers", Parameters: params})
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrJobExecutionAlreadyRunning)

	txManager.AssertCalled(t, "Rollback", mockTx)
	txManager.AssertNotCalled(t, "Commit", testify_mock.Anything)
	mockTx.AssertExpectations(t)
}
