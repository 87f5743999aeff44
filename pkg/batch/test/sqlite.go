package test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	dbconfig "github.com/tigerroll/csvimport/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/csvimport/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/csvimport/pkg/batch/infrastructure/migration"
)

// NewSQLiteConnection opens a private in-memory SQLite database with the batch
// metadata schema applied. The pool holds a single connection, as in production.
func NewSQLiteConnection(t *testing.T, name string) *gormadapter.GormDBAdapter {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", strings.ReplaceAll(uuid.NewString(), "-", ""))
	cfg := dbconfig.DatabaseConfig{Type: "sqlite", Database: dsn}

	db, err := gormadapter.OpenDialector(sqlite.Open(dsn), cfg)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	conn, err := gormadapter.NewGormDBAdapter(db, cfg, name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = migration.NewMigrator(conn).Up(context.Background(), migration.FrameworkFS(), "sqlite", migration.FrameworkMigrationsTable)
	require.NoError(t, err)
	return conn
}
