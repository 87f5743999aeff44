// Package migration applies versioned schema migrations with golang-migrate.
// The batch metadata schema is embedded here; applications pass their own
// fs.FS for the tables their steps write to.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/csvimport/pkg/batch/adapter/database"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// History tables used to track applied versions.
const (
	FrameworkMigrationsTable = "batch_framework_migrations"
	AppMigrationsTable       = "batch_app_migrations"
)

// Migrator handles database schema migrations.
type Migrator interface {
	// Up applies all pending migrations found under path in migrationFS.
	// tableName is the history table, e.g. FrameworkMigrationsTable.
	Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error
	// Down rolls back all applied migrations.
	Down(ctx context.Context, migrationFS fs.FS, path string, tableName string) error
}

type migrator struct {
	dbConn database.DBConnection
	dbType string
}

// NewMigrator returns a Migrator for dbConn.
func NewMigrator(dbConn database.DBConnection) Migrator {
	return &migrator{dbConn: dbConn, dbType: dbConn.Type()}
}

func (m *migrator) databaseDriver(sqlDB *sql.DB, tableName string) (migratedb.Driver, error) {
	switch m.dbType {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: tableName})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: tableName})
	case "sqlite":
		return sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: tableName})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

func (m *migrator) run(migrationFS fs.FS, path, command, tableName string) error {
	logger.Infof("Executing migration '%s' on '%s' (Path: %s, Table: %s)", command, m.dbConn.Name(), path, tableName)

	sqlDB, err := m.dbConn.GetSQLDB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sourceDriver, err := iofs.New(migrationFS, path)
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver for path %s: %w", path, err)
	}
	// The database drivers close the shared *sql.DB on Close, so only the source is released.
	defer sourceDriver.Close()

	dbDriver, err := m.databaseDriver(sqlDB, tableName)
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	instance, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	switch command {
	case "up":
		err = instance.Up()
	case "down":
		err = instance.Down()
	default:
		return fmt.Errorf("unsupported migration command: %s", command)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if version, dirty, vErr := instance.Version(); vErr == nil {
			logger.Errorf("Migration failed at version %d (dirty: %t).", version, dirty)
		}
		return fmt.Errorf("migration '%s' failed (DB: %s, Path: %s): %w", command, m.dbType, path, err)
	}

	logger.Infof("Migration '%s' on '%s' completed.", command, m.dbConn.Name())
	return nil
}

func (m *migrator) Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error {
	return m.run(migrationFS, path, "up", tableName)
}

func (m *migrator) Down(ctx context.Context, migrationFS fs.FS, path string, tableName string) error {
	return m.run(migrationFS, path, "down", tableName)
}
