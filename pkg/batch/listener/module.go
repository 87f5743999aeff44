package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/csvimport/pkg/batch/listener/logging"
	"github.com/tigerroll/csvimport/pkg/batch/listener/metrics"
)

// Module aggregates all listener modules of the batch framework.
var Module = fx.Options(
	logging.Module,
	metrics.Module,
)
