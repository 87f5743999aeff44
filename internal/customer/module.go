package customer

import (
	"go.uber.org/fx"

	"github.com/tigerroll/csvimport/pkg/batch/adapter/storage"
	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	"github.com/tigerroll/csvimport/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/csvimport/pkg/batch/core/config"
	repository "github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/csvimport/pkg/batch/core/metrics"
	tx "github.com/tigerroll/csvimport/pkg/batch/core/tx"
	"github.com/tigerroll/csvimport/pkg/batch/infrastructure/migration"
)

// JobParams are the Fx inputs of the importCustomers job.
type JobParams struct {
	fx.In
	Cfg            *config.Config
	Repository     repository.JobRepository
	TxManager      tx.TransactionManager `name:"workload"`
	Storage        storage.StorageConnection
	Recorder       metrics.MetricRecorder
	Tracer         metrics.Tracer
	JobListeners   []port.JobExecutionListener  `group:"jobListeners"`
	StepListeners  []port.StepExecutionListener `group:"stepListeners"`
	ChunkListeners []port.ChunkListener         `group:"chunkListeners"`
}

// NewJobFromConfig is the Fx provider of the importCustomers job.
func NewJobFromConfig(p JobParams) (port.Job, error) {
	return NewJob(JobOptions{
		Batch:          p.Cfg.Surfin.Batch,
		Bucket:         p.Cfg.Surfin.Storage.BucketName,
		Repository:     p.Repository,
		TxManager:      p.TxManager,
		Storage:        p.Storage,
		Recorder:       p.Recorder,
		Tracer:         p.Tracer,
		JobListeners:   p.JobListeners,
		StepListeners:  p.StepListeners,
		ChunkListeners: p.ChunkListeners,
	})
}

// Module builds the job, registers it with the launcher and contributes the
// customers_info migrations.
var Module = fx.Options(
	fx.Provide(NewJobFromConfig),
	fx.Supply(migration.AppMigrations{FS: MigrationsFS()}),
	fx.Invoke(func(registry *usecase.JobRegistry, job port.Job) error {
		return registry.Register(job)
	}),
)
