package metrics

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/csvimport/pkg/batch/core/config"
	metrics "github.com/tigerroll/csvimport/pkg/batch/core/metrics"
)

// Module is an Fx module that provides the configured MetricRecorder and Tracer.
var Module = fx.Options(
	fx.Provide(newTelemetryWithLifecycle),
	fx.Provide(func(t *Telemetry) metrics.MetricRecorder { return t.Recorder }),
	fx.Provide(func(t *Telemetry) metrics.Tracer { return t.Tracer }),
)

func newTelemetryWithLifecycle(lc fx.Lifecycle, cfg *config.Config) (*Telemetry, error) {
	t, err := NewTelemetry(context.Background(), cfg.Surfin.System)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: t.Shutdown,
	})
	return t, nil
}
