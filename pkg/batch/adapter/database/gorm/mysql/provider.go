// Package mysql provides the GORM DBProvider for MySQL databases.
package mysql

import (
	"fmt"

	"go.uber.org/fx"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/csvimport/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/csvimport/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/csvimport/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/csvimport/pkg/batch/core/config"
)

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(DSN(cfg)), nil
	})
}

// DSN returns the go-sql-driver DSN for cfg. multiStatements is enabled for migrations.
func DSN(c dbconfig.DatabaseConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=UTC&multiStatements=true",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// NewProvider creates the MySQL DBProvider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return gormadapter.NewBaseProvider(cfg, "mysql")
}

// Module contributes the MySQL provider to the db_providers group.
var Module = fx.Provide(
	fx.Annotate(
		NewProvider,
		fx.ResultTags(`group:"`+database.DBProviderGroup+`"`),
	),
)
