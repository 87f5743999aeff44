package migration_test

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/csvimport/pkg/batch/infrastructure/migration"
	batchtest "github.com/tigerroll/csvimport/pkg/batch/test"
)

var metadataTables = []string{"batch_job_instance", "batch_job_execution", "batch_step_execution", "batch_checkpoint_data"}

func TestMigrator_FrameworkSchema(t *testing.T) {
	ctx := context.Background()
	conn := batchtest.NewSQLiteConnection(t, "metadata")
	db := conn.GetGormDB()

	for _, table := range metadataTables {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	m := migration.NewMigrator(conn)
	// A second run finds nothing to apply.
	require.NoError(t, m.Up(ctx, migration.FrameworkFS(), "sqlite", migration.FrameworkMigrationsTable))

	require.NoError(t, m.Down(ctx, migration.FrameworkFS(), "sqlite", migration.FrameworkMigrationsTable))
	for _, table := range metadataTables {
		assert.False(t, db.Migrator().HasTable(table), table)
	}
}

func TestMigrator_AppMigrationsUseOwnHistory(t *testing.T) {
	ctx := context.Background()
	conn := batchtest.NewSQLiteConnection(t, "workload")

	appFS := fstest.MapFS{
		"sqlite/000001_create_widget.up.sql":   {Data: []byte("CREATE TABLE widget (id INTEGER PRIMARY KEY);")},
		"sqlite/000001_create_widget.down.sql": {Data: []byte("DROP TABLE widget;")},
	}
	require.NoError(t, migration.NewMigrator(conn).Up(ctx, appFS, "sqlite", migration.AppMigrationsTable))

	db := conn.GetGormDB()
	assert.True(t, db.Migrator().HasTable("widget"))
	assert.True(t, db.Migrator().HasTable(migration.AppMigrationsTable))
	assert.True(t, db.Migrator().HasTable(migration.FrameworkMigrationsTable))
}

func TestMigrator_UnsupportedType(t *testing.T) {
	conn := batchtest.NewSQLiteConnection(t, "metadata")
	err := migration.NewMigrator(&typedConn{GormDBAdapter: conn, dbType: "oracle"}).
		Up(context.Background(), migration.FrameworkFS(), "sqlite", migration.FrameworkMigrationsTable)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}
