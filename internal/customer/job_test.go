package customer_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/csvimport/internal/customer"
	dbadapter "github.com/tigerroll/csvimport/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/csvimport/pkg/batch/adapter/database/gorm"
	storageconfig "github.com/tigerroll/csvimport/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/csvimport/pkg/batch/adapter/storage/local"
	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	"github.com/tigerroll/csvimport/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/csvimport/pkg/batch/core/config"
	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/csvimport/pkg/batch/core/job/runner"
	"github.com/tigerroll/csvimport/pkg/batch/infrastructure/migration"
	sqlrepo "github.com/tigerroll/csvimport/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
	batchtest "github.com/tigerroll/csvimport/pkg/batch/test"
)

// chunkSizes records how many items each committed chunk wrote.
type chunkSizes struct {
	lastWrite int
	sizes     []int
}

func (c *chunkSizes) BeforeChunk(ctx context.Context, se *model.StepExecution, chunkIndex int) {}

// AfterChunk is called with the step execution locked, so WriteCount deltas are exact.
func (c *chunkSizes) AfterChunk(ctx context.Context, se *model.StepExecution, chunkIndex int, err error) {
	if err != nil {
		return
	}
	c.sizes = append(c.sizes, se.WriteCount-c.lastWrite)
	c.lastWrite = se.WriteCount
}

type importFixture struct {
	dir      string
	workload *gormadapter.GormDBAdapter
	launcher *usecase.SimpleJobLauncher
	explorer *usecase.SimpleJobExplorer
	chunks   *chunkSizes
}

func newImportFixture(t *testing.T, batch config.BatchConfig) *importFixture {
	t.Helper()
	ctx := context.Background()

	metadata := batchtest.NewSQLiteConnection(t, "metadata")
	workload := batchtest.NewSQLiteConnection(t, "workload")
	require.NoError(t, migration.NewMigrator(workload).Up(ctx, customer.MigrationsFS(), "sqlite", migration.AppMigrationsTable))

	resolver := batchtest.NewTestConnectionResolver(map[string]dbadapter.DBConnection{
		"metadata": metadata,
		"workload": workload,
	})
	repo := sqlrepo.NewSQLJobRepository(resolver, gormadapter.NewGormTransactionManager(resolver, "metadata"), "metadata")

	dir := t.TempDir()
	conn, err := local.NewLocalAdapter(storageconfig.StorageConfig{Type: local.ProviderType, BaseDir: dir}, "input")
	require.NoError(t, err)

	chunks := &chunkSizes{}
	job, err := customer.NewJob(customer.JobOptions{
		Batch:          batch,
		Repository:     repo,
		TxManager:      gormadapter.NewGormTransactionManager(resolver, "workload"),
		Storage:        conn,
		ChunkListeners: []port.ChunkListener{chunks},
	})
	require.NoError(t, err)

	registry := usecase.NewJobRegistry()
	require.NoError(t, registry.Register(job))
	launcher := usecase.NewSimpleJobLauncher(repo, registry, runner.NewSimpleJobRunner(repo))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = launcher.Shutdown(ctx)
	})

	return &importFixture{
		dir:      dir,
		workload: workload,
		launcher: launcher,
		explorer: usecase.NewSimpleJobExplorer(repo),
		chunks:   chunks,
	}
}

func batchConfig() config.BatchConfig {
	b := config.NewConfig().Surfin.Batch
	b.Input.Path = "customers.csv"
	return b
}

func (f *importFixture) writeCSV(t *testing.T, lines ...string) {
	t.Helper()
	content := "id,firstName,lastName,email,gender,contactNo,country,dob\n" + strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "customers.csv"), []byte(content), 0o644))
}

func customerLines(from, to int) []string {
	lines := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		lines = append(lines, fmt.Sprintf("%d,First%d,Last%d,c%d@example.com,F,555-%04d,US,1990-01-%02d", i, i, i, i, i, i%28+1))
	}
	return lines
}

func (f *importFixture) run(t *testing.T, restart bool, startAt int64) *model.JobExecution {
	t.Helper()
	params := model.NewJobParameters()
	params.Put(customer.StartAtParam, startAt)

	launch := f.launcher.Launch
	if restart {
		launch = f.launcher.Restart
	}
	je, err := launch(context.Background(), customer.JobName, params)
	require.NoError(t, err)
	f.launcher.Wait()

	done, err := f.explorer.GetJobExecution(context.Background(), je.ID)
	require.NoError(t, err)
	return done
}

func (f *importFixture) storedIDs(t *testing.T) []int64 {
	t.Helper()
	var ids []int64
	require.NoError(t, f.workload.GetGormDB().Table(customer.TableName).Order("id").Pluck("id", &ids).Error)
	return ids
}

func TestImportCustomers_ChunksAndCompletes(t *testing.T) {
	f := newImportFixture(t, batchConfig())
	f.writeCSV(t, customerLines(1, 25)...)

	je := f.run(t, false, 1700000000000)

	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	require.Len(t, je.StepExecutions, 1)
	se := je.StepExecutions[0]
	assert.Equal(t, customer.StepName, se.StepName)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, 25, se.ReadCount)
	assert.Equal(t, 25, se.WriteCount)
	assert.Equal(t, 3, se.CommitCount)
	assert.Equal(t, 0, se.RollbackCount)

	sizes := append([]int(nil), f.chunks.sizes...)
	sort.Ints(sizes)
	assert.Equal(t, []int{5, 10, 10}, sizes)
	assert.Len(t, f.storedIDs(t), 25)

	var c customer.Customer
	require.NoError(t, f.workload.GetGormDB().First(&c, 7).Error)
	assert.Equal(t, customer.Customer{
		ID: 7, FirstName: "First7", LastName: "Last7", Email: "c7@example.com",
		Gender: "F", ContactNo: "555-0007", Country: "US", Dob: "1990-01-08",
	}, c)
}

func TestImportCustomers_CompletedInstanceIsNotRerun(t *testing.T) {
	f := newImportFixture(t, batchConfig())
	f.writeCSV(t, customerLines(1, 25)...)

	first := f.run(t, false, 42)
	require.Equal(t, model.BatchStatusCompleted, first.Status)

	// A later write to the store must survive the rejected launch.
	db := f.workload.GetGormDB()
	require.NoError(t, db.Table(customer.TableName).Where("id = ?", 3).Update("email", "changed@example.com").Error)

	params := model.NewJobParameters()
	params.Put(customer.StartAtParam, int64(42))
	_, err := f.launcher.Launch(context.Background(), customer.JobName, params)
	assert.ErrorIs(t, err, exception.ErrJobInstanceAlreadyComplete)
	f.launcher.Wait()

	var c customer.Customer
	require.NoError(t, db.First(&c, 3).Error)
	assert.Equal(t, "changed@example.com", c.Email)
	assert.Len(t, f.storedIDs(t), 25)
}

func TestImportCustomers_ExtraAndMissingFields(t *testing.T) {
	f := newImportFixture(t, batchConfig())
	f.writeCSV(t,
		"7,Ann,,,ann@x.com,F,555,US,1990-01-01",
		"8,Bob",
	)

	je := f.run(t, false, 7)
	require.Equal(t, model.BatchStatusCompleted, je.Status)

	var ann, bob customer.Customer
	db := f.workload.GetGormDB()
	require.NoError(t, db.First(&ann, 7).Error)
	require.NoError(t, db.First(&bob, 8).Error)
	// Fields bind by position, so the 9th value is dropped.
	assert.Equal(t, "ann@x.com", ann.Gender)
	assert.Equal(t, "US", ann.Dob)
	assert.Equal(t, "Bob", bob.FirstName)
	assert.Empty(t, bob.Email)
}

func TestImportCustomers_FailedChunkRollsBackAndResumes(t *testing.T) {
	batch := batchConfig()
	batch.PoolSize = 1
	batch.RestartPolicy = config.RestartPolicyResumeChunk
	f := newImportFixture(t, batch)

	lines := customerLines(1, 25)
	lines[14] = "not-a-number,Broken,Row,x@example.com,M,555,US,1990-01-01"
	f.writeCSV(t, lines...)

	failed := f.run(t, false, 99)
	assert.Equal(t, model.BatchStatusFailed, failed.Status)
	assert.Contains(t, fmt.Sprint(failed.Failures), "cannot map record")

	ids := f.storedIDs(t)
	for id := int64(1); id <= 10; id++ {
		assert.Contains(t, ids, id)
	}
	for id := int64(11); id <= 20; id++ {
		assert.NotContains(t, ids, id, "rolled back chunk must leave no rows")
	}

	// Fix the file and resume: committed chunks are skipped.
	f.writeCSV(t, customerLines(1, 25)...)
	resumed := f.run(t, true, 99)
	assert.Equal(t, model.BatchStatusCompleted, resumed.Status)
	assert.Equal(t, 1, resumed.RestartCount)
	assert.Equal(t, failed.JobInstanceID, resumed.JobInstanceID)
	assert.Len(t, f.storedIDs(t), 25)
}
