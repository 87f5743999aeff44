package usecase

import (
	"context"

	"go.uber.org/fx"
)

// Module is the Fx module for JobLauncher, JobOperator, and JobExplorer.
// Jobs still running when the application stops are cancelled and awaited.
var Module = fx.Options(
	fx.Provide(NewJobRegistry),
	fx.Provide(fx.Annotate(
		NewSimpleJobExplorer,
		fx.As(new(JobExplorer)),
	)),
	fx.Provide(NewSimpleJobLauncher),
	fx.Provide(func(launcher *SimpleJobLauncher) JobLauncher { return launcher }),
	fx.Provide(fx.Annotate(
		NewDefaultJobOperator,
		fx.As(new(JobOperator)),
	)),
	fx.Invoke(func(lc fx.Lifecycle, launcher *SimpleJobLauncher) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return launcher.Shutdown(ctx)
			},
		})
	}),
)
