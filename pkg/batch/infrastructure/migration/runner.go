package migration

import (
	"context"
	"fmt"
	"io/fs"

	"go.uber.org/fx"

	"github.com/tigerroll/csvimport/pkg/batch/adapter/database"
	"github.com/tigerroll/csvimport/pkg/batch/core/config"
)

// AppMigrations holds the application's own migrations, one directory per database type.
type AppMigrations struct {
	FS fs.FS
}

// Params are the Fx inputs of Run.
type Params struct {
	fx.In
	Cfg        *config.Config
	DBResolver database.DBConnectionResolver
	App        AppMigrations `optional:"true"`
}

// Run brings the metadata connection up to the embedded schema and, when app
// migrations are given, the workload connection up to theirs.
func Run(ctx context.Context, p Params) error {
	infra := p.Cfg.Surfin.Infrastructure

	metadata, err := p.DBResolver.ResolveDBConnection(ctx, infra.JobRepositoryDBRef)
	if err != nil {
		return fmt.Errorf("failed to resolve metadata connection '%s': %w", infra.JobRepositoryDBRef, err)
	}
	if err := NewMigrator(metadata).Up(ctx, FrameworkFS(), metadata.Type(), FrameworkMigrationsTable); err != nil {
		return err
	}

	if p.App.FS == nil {
		return nil
	}
	workload, err := p.DBResolver.ResolveDBConnection(ctx, infra.WorkloadDBRef)
	if err != nil {
		return fmt.Errorf("failed to resolve workload connection '%s': %w", infra.WorkloadDBRef, err)
	}
	return NewMigrator(workload).Up(ctx, p.App.FS, workload.Type(), AppMigrationsTable)
}

// Module runs the migrations when the application starts.
var Module = fx.Invoke(func(lc fx.Lifecycle, p Params) {
	lc.Append(fx.Hook{OnStart: func(ctx context.Context) error { return Run(ctx, p) }})
})
