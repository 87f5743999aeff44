package database

import (
	"context"
	"database/sql"

	dbconfig "github.com/tigerroll/csvimport/pkg/batch/adapter/database/config"
	coreAdapter "github.com/tigerroll/csvimport/pkg/batch/core/adapter"
)

// DBExecutor defines the write and read operations shared by connections and transactions.
type DBExecutor interface {
	// ExecuteUpdate performs write operations (INSERT, UPDATE, DELETE).
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteUpsert performs an UPSERT operation (INSERT ... ON CONFLICT DO UPDATE).
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)

	// ExecuteQuery executes a read operation (SELECT) outside of a managed transaction.
	ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error

	// ExecuteQueryAdvanced executes a read operation with optional sorting and limiting.
	ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error

	// Count counts the number of records matching the query.
	Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error)
}

// DBConnection represents an abstraction of a database connection.
type DBConnection interface {
	coreAdapter.ResourceConnection
	DBExecutor

	// IsTableNotExistError checks if the given error indicates that a table does not exist.
	IsTableNotExistError(err error) bool
	// IsDuplicateKeyError checks if the given error is a unique constraint violation.
	IsDuplicateKeyError(err error) bool
	// RefreshConnection verifies the connection and re-establishes it when needed.
	RefreshConnection(ctx context.Context) error
	// Config returns the database configuration associated with this connection.
	Config() dbconfig.DatabaseConfig
	// GetSQLDB returns the underlying *sql.DB connection, used by migrations.
	GetSQLDB() (*sql.DB, error)
}

// DBConnectionResolver resolves a healthy database connection by name.
type DBConnectionResolver interface {
	// ResolveDBConnection returns the connection named name, reconnecting if it went stale.
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}

// DBProvider provides database connections of one database type.
type DBProvider interface {
	// GetConnection retrieves a database connection with the specified name.
	GetConnection(name string) (DBConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the database type handled by this provider (e.g., "postgres", "mysql").
	Type() string
	// ForceReconnect closes and re-establishes the connection with the specified name.
	ForceReconnect(name string) (DBConnection, error)
}

// DBProviderGroup is the Fx value group collecting every DBProvider.
const DBProviderGroup = "db_providers"
