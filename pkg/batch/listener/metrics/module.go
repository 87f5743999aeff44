package metrics

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
)

// Module contributes the metrics listeners to the listener value groups.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewMetricsStepListener,
			fx.As(new(port.StepExecutionListener)),
			fx.ResultTags(`group:"stepListeners"`),
		),
	),
)
