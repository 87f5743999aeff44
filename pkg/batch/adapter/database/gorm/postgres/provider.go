// Package postgres provides the GORM DBProvider for PostgreSQL databases.
package postgres

import (
	"fmt"

	"go.uber.org/fx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tigerroll/csvimport/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/csvimport/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/csvimport/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/csvimport/pkg/batch/core/config"
)

func init() {
	gormadapter.RegisterDialector("postgres", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return postgres.Open(DSN(cfg)), nil
	})
}

// DSN returns the keyword/value connection string for cfg.
func DSN(c dbconfig.DatabaseConfig) string {
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
}

// NewProvider creates the PostgreSQL DBProvider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return gormadapter.NewBaseProvider(cfg, "postgres")
}

// Module contributes the PostgreSQL provider to the db_providers group.
var Module = fx.Provide(
	fx.Annotate(
		NewProvider,
		fx.ResultTags(`group:"`+database.DBProviderGroup+`"`),
	),
)
