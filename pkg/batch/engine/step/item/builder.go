package item

import (
	"database/sql"
	"fmt"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	config "github.com/tigerroll/csvimport/pkg/batch/core/config"
	repository "github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/csvimport/pkg/batch/core/metrics"
	tx "github.com/tigerroll/csvimport/pkg/batch/core/tx"
)

// Defaults used when the builder is not told otherwise.
const (
	DefaultChunkSize = 10
	DefaultPoolSize  = 10
)

// ChunkStepBuilder assembles a ChunkStep.
//
//	step, err := item.NewChunkStepBuilder[FieldSet, Customer]("csv-step", repo, txManager).
//		Reader(reader).
//		Processor(processor).
//		Writer(writer).
//		ChunkSize(10).
//		Build()
type ChunkStepBuilder[I, O any] struct {
	step *ChunkStep[I, O]
}

// NewChunkStepBuilder starts a builder for the step named name. repo stores the step
// execution and its checkpoints; txManager opens one transaction per chunk.
func NewChunkStepBuilder[I, O any](name string, repo repository.JobRepository, txManager tx.TransactionManager) *ChunkStepBuilder[I, O] {
	return &ChunkStepBuilder[I, O]{
		step: &ChunkStep[I, O]{
			name:           name,
			chunkSize:      DefaultChunkSize,
			poolSize:       DefaultPoolSize,
			restartPolicy:  config.RestartPolicyRestartStep,
			jobRepository:  repo,
			txManager:      txManager,
			metricRecorder: metrics.NewNoOpMetricRecorder(),
			tracer:         metrics.NewNoOpTracer(),
		},
	}
}

func (b *ChunkStepBuilder[I, O]) Reader(r port.ItemReader[I]) *ChunkStepBuilder[I, O] {
	b.step.reader = r
	return b
}

func (b *ChunkStepBuilder[I, O]) Processor(p port.ItemProcessor[I, O]) *ChunkStepBuilder[I, O] {
	b.step.processor = p
	return b
}

func (b *ChunkStepBuilder[I, O]) Writer(w port.ItemWriter[O]) *ChunkStepBuilder[I, O] {
	b.step.writer = w
	return b
}

// ChunkSize sets the number of items committed together.
func (b *ChunkStepBuilder[I, O]) ChunkSize(n int) *ChunkStepBuilder[I, O] {
	b.step.chunkSize = n
	return b
}

// PoolSize sets the maximum number of chunks processed at the same time.
func (b *ChunkStepBuilder[I, O]) PoolSize(n int) *ChunkStepBuilder[I, O] {
	b.step.poolSize = n
	return b
}

// RestartPolicy sets config.RestartPolicyRestartStep or config.RestartPolicyResumeChunk.
func (b *ChunkStepBuilder[I, O]) RestartPolicy(policy string) *ChunkStepBuilder[I, O] {
	b.step.restartPolicy = policy
	return b
}

// TransactionOptions sets the options each chunk transaction is begun with.
func (b *ChunkStepBuilder[I, O]) TransactionOptions(opts *sql.TxOptions) *ChunkStepBuilder[I, O] {
	b.step.txOptions = opts
	return b
}

func (b *ChunkStepBuilder[I, O]) StepListener(l ...port.StepExecutionListener) *ChunkStepBuilder[I, O] {
	b.step.stepListeners = append(b.step.stepListeners, l...)
	return b
}

func (b *ChunkStepBuilder[I, O]) ChunkListener(l ...port.ChunkListener) *ChunkStepBuilder[I, O] {
	b.step.chunkListeners = append(b.step.chunkListeners, l...)
	return b
}

func (b *ChunkStepBuilder[I, O]) MetricRecorder(r metrics.MetricRecorder) *ChunkStepBuilder[I, O] {
	if r != nil {
		b.step.metricRecorder = r
	}
	return b
}

func (b *ChunkStepBuilder[I, O]) Tracer(t metrics.Tracer) *ChunkStepBuilder[I, O] {
	if t != nil {
		b.step.tracer = t
	}
	return b
}

// Build validates the configuration and returns the step.
func (b *ChunkStepBuilder[I, O]) Build() (*ChunkStep[I, O], error) {
	s := b.step
	switch {
	case s.name == "":
		return nil, fmt.Errorf("chunk step: name must not be empty")
	case s.reader == nil:
		return nil, fmt.Errorf("chunk step '%s': reader is required", s.name)
	case s.processor == nil:
		return nil, fmt.Errorf("chunk step '%s': processor is required", s.name)
	case s.writer == nil:
		return nil, fmt.Errorf("chunk step '%s': writer is required", s.name)
	case s.jobRepository == nil:
		return nil, fmt.Errorf("chunk step '%s': job repository is required", s.name)
	case s.txManager == nil:
		return nil, fmt.Errorf("chunk step '%s': transaction manager is required", s.name)
	case s.chunkSize <= 0:
		return nil, fmt.Errorf("chunk step '%s': chunk size must be positive, got %d", s.name, s.chunkSize)
	case s.poolSize <= 0:
		return nil, fmt.Errorf("chunk step '%s': pool size must be positive, got %d", s.name, s.poolSize)
	}
	switch s.restartPolicy {
	case config.RestartPolicyRestartStep, config.RestartPolicyResumeChunk:
	default:
		return nil, fmt.Errorf("chunk step '%s': unknown restart policy %q", s.name, s.restartPolicy)
	}
	return s, nil
}
