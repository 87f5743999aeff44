package customer

import (
	"fmt"

	"github.com/tigerroll/csvimport/pkg/batch/adapter/storage"
	"github.com/tigerroll/csvimport/pkg/batch/component/item"
	"github.com/tigerroll/csvimport/pkg/batch/component/step/reader"
	"github.com/tigerroll/csvimport/pkg/batch/component/step/writer"
	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	config "github.com/tigerroll/csvimport/pkg/batch/core/config"
	repository "github.com/tigerroll/csvimport/pkg/batch/core/domain/repository"
	"github.com/tigerroll/csvimport/pkg/batch/core/job/runner"
	metrics "github.com/tigerroll/csvimport/pkg/batch/core/metrics"
	"github.com/tigerroll/csvimport/pkg/batch/core/support/validator"
	tx "github.com/tigerroll/csvimport/pkg/batch/core/tx"
	chunk "github.com/tigerroll/csvimport/pkg/batch/engine/step/item"
)

// Default names of the job and its step.
const (
	JobName  = "importCustomers"
	StepName = "csv-step"
)

// StartAtParam is the job parameter identifying a launch, in unix milliseconds.
const StartAtParam = "startAt"

// JobOptions holds everything the importCustomers job is built from.
type JobOptions struct {
	Batch config.BatchConfig
	// Bucket is the storage bucket holding Batch.Input.Path. Empty uses the connection default.
	Bucket string

	Repository repository.JobRepository
	// TxManager opens the chunk transactions on the workload database.
	TxManager tx.TransactionManager
	Storage   storage.StorageConnection
	// Transformer is applied to every mapped customer. Nil keeps customers unchanged.
	Transformer port.ItemProcessor[Customer, Customer]

	Recorder       metrics.MetricRecorder
	Tracer         metrics.Tracer
	JobListeners   []port.JobExecutionListener
	StepListeners  []port.StepExecutionListener
	ChunkListeners []port.ChunkListener
}

// NewJob builds the importCustomers job: a single chunk step reading the input file,
// mapping each line onto a Customer and upserting every chunk into customers_info.
func NewJob(o JobOptions) (*runner.SimpleJob, error) {
	jobName := o.Batch.JobName
	if jobName == "" {
		jobName = JobName
	}
	stepName := o.Batch.StepName
	if stepName == "" {
		stepName = StepName
	}

	delimiter := ','
	if d := []rune(o.Batch.Input.Delimiter); len(d) == 1 {
		delimiter = d[0]
	} else if len(d) > 1 {
		return nil, fmt.Errorf("job '%s': delimiter must be a single character, got %q", jobName, o.Batch.Input.Delimiter)
	}

	fileReader := reader.NewFlatFileItemReader(o.Storage, reader.FlatFileOptions{
		Bucket:      o.Bucket,
		ObjectName:  o.Batch.Input.Path,
		Names:       FieldNames,
		Delimiter:   delimiter,
		LinesToSkip: o.Batch.Input.LinesToSkip,
		Strict:      o.Batch.Input.Strict,
	})

	transformer := o.Transformer
	if transformer == nil {
		transformer = item.NewPassThroughItemProcessor[Customer]()
	}
	processor := item.NewCompositeItemProcessor[reader.FieldSet, Customer, Customer](
		reader.NewMappingItemProcessor[Customer](reader.NewBeanWrapperFieldSetMapper[Customer]()),
		transformer,
	)

	customerWriter := writer.NewRepositoryItemWriter[Customer]("customerWriter", TableName, []string{"id"}, updateColumns)

	builder := chunk.NewChunkStepBuilder[reader.FieldSet, Customer](stepName, o.Repository, o.TxManager).
		Reader(fileReader).
		Processor(processor).
		Writer(customerWriter).
		TransactionOptions(tx.Options(o.Batch.IsolationLevel)).
		StepListener(o.StepListeners...).
		ChunkListener(o.ChunkListeners...).
		MetricRecorder(o.Recorder).
		Tracer(o.Tracer)
	if o.Batch.ChunkSize > 0 {
		builder.ChunkSize(o.Batch.ChunkSize)
	}
	if o.Batch.PoolSize > 0 {
		builder.PoolSize(o.Batch.PoolSize)
	}
	if o.Batch.RestartPolicy != "" {
		builder.RestartPolicy(o.Batch.RestartPolicy)
	}
	step, err := builder.Build()
	if err != nil {
		return nil, err
	}

	return runner.NewSimpleJob(
		jobName,
		step,
		o.Repository,
		validator.NewRequiredKeysValidator(StartAtParam),
		o.JobListeners,
		o.Recorder,
		o.Tracer,
	), nil
}
