package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/csvimport/pkg/batch/adapter/database"
)

// Module provides the connection resolver and the transaction manager factory.
// Concrete providers are contributed by the sqlite, mysql and postgres packages.
var Module = fx.Options(
	fx.Provide(NewGormTransactionManagerFactory),
	fx.Provide(NewGormDBConnectionResolver),
	fx.Provide(func(r *GormDBConnectionResolver) database.DBConnectionResolver { return r }),
	fx.Invoke(func(lc fx.Lifecycle, r *GormDBConnectionResolver) {
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return r.CloseAll() }})
	}),
)
