// Package sqlite provides the GORM DBProvider for SQLite databases.
package sqlite

import (
	"errors"
	"strings"

	"go.uber.org/fx"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/csvimport/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/csvimport/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/csvimport/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/csvimport/pkg/batch/core/config"
)

const busyTimeoutMillis = "5000"

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(DSN(cfg)), nil
	})
}

// DSN returns the data source name for cfg. File databases get a busy timeout so
// that a second pool on the same file waits for the lock instead of failing.
func DSN(cfg dbconfig.DatabaseConfig) string {
	dsn := cfg.Database
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=" + busyTimeoutMillis
}

// NewProvider creates the SQLite DBProvider. A SQLite database accepts one writer
// at a time, so pools default to a single open connection.
func NewProvider(cfg *config.Config) database.DBProvider {
	p := gormadapter.NewBaseProvider(cfg, "sqlite")
	p.Adjust = func(dbCfg dbconfig.DatabaseConfig, db *gorm.DB) error {
		if dbCfg.Pool.MaxOpenConns > 0 {
			return nil
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		sqlDB.SetMaxOpenConns(1)
		return nil
	}
	return p
}

// Module contributes the SQLite provider to the db_providers group.
var Module = fx.Provide(
	fx.Annotate(
		NewProvider,
		fx.ResultTags(`group:"`+database.DBProviderGroup+`"`),
	),
)
