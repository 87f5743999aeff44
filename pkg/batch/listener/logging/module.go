package logging

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
)

// Module contributes the logging listeners to the listener value groups.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewLoggingJobListener,
			fx.As(new(port.JobExecutionListener)),
			fx.ResultTags(`group:"jobListeners"`),
		),
		fx.Annotate(
			NewLoggingStepListener,
			fx.As(new(port.StepExecutionListener)),
			fx.ResultTags(`group:"stepListeners"`),
		),
		fx.Annotate(
			NewLoggingChunkListener,
			fx.As(new(port.ChunkListener)),
			fx.ResultTags(`group:"chunkListeners"`),
		),
	),
)
