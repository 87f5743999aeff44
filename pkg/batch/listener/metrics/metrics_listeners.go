// Package metrics provides listeners that feed step events to a MetricRecorder.
package metrics

import (
	"context"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/csvimport/pkg/batch/core/metrics"
)

// Job start and end, item and chunk counts are recorded by the job and the chunk
// step directly; the listeners here cover what those do not.

// --- Step Execution Listener ---

type MetricsStepListener struct {
	recorder metrics.MetricRecorder
}

func NewMetricsStepListener(recorder metrics.MetricRecorder) *MetricsStepListener {
	return &MetricsStepListener{recorder: recorder}
}

func (l *MetricsStepListener) BeforeStep(ctx context.Context, stepExecution *model.StepExecution) {
	l.recorder.RecordStepStart(ctx, stepExecution)
}

func (l *MetricsStepListener) AfterStep(ctx context.Context, stepExecution *model.StepExecution) {
	l.recorder.RecordStepEnd(ctx, stepExecution)
}

var _ port.StepExecutionListener = (*MetricsStepListener)(nil)
