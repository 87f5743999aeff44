package gorm

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"

	"github.com/tigerroll/csvimport/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/csvimport/pkg/batch/adapter/database/config"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// GormDBAdapter implements database.DBConnection on top of a *gorm.DB pool.
type GormDBAdapter struct {
	executor
	sqlDB *sql.DB
	cfg   dbconfig.DatabaseConfig
	name  string
}

var _ database.DBConnection = (*GormDBAdapter)(nil)

// NewGormDBAdapter wraps db as the connection called name.
func NewGormDBAdapter(db *gorm.DB, cfg dbconfig.DatabaseConfig, name string) (*GormDBAdapter, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying *sql.DB for '%s': %w", name, err)
	}
	return &GormDBAdapter{
		executor: executor{db: db},
		sqlDB:    sqlDB,
		cfg:      cfg,
		name:     name,
	}, nil
}

// GetGormDB returns the underlying *gorm.DB instance.
func (a *GormDBAdapter) GetGormDB() *gorm.DB {
	return a.db
}

func (a *GormDBAdapter) Close() error {
	logger.Infof("Closing database connection '%s'...", a.name)
	return a.sqlDB.Close()
}

func (a *GormDBAdapter) Type() string {
	return a.cfg.Type
}

func (a *GormDBAdapter) Name() string {
	return a.name
}

// RefreshConnection pings the pool.
func (a *GormDBAdapter) RefreshConnection(ctx context.Context) error {
	return a.sqlDB.PingContext(ctx)
}

func (a *GormDBAdapter) Config() dbconfig.DatabaseConfig {
	return a.cfg
}

func (a *GormDBAdapter) GetSQLDB() (*sql.DB, error) {
	return a.sqlDB, nil
}

func (a *GormDBAdapter) IsTableNotExistError(err error) bool {
	return isTableNotExistError(err)
}

func (a *GormDBAdapter) IsDuplicateKeyError(err error) bool {
	return isDuplicateKeyError(err)
}
