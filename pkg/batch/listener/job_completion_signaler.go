package listener

import (
	"context"
	"sync"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// JobCompletionSignaler is a JobExecutionListener that closes a channel
// when a job ends, signaling its completion to external components.
type JobCompletionSignaler struct {
	// JobDoneChan is closed once, after the first job to end.
	JobDoneChan chan struct{}
	once        sync.Once
}

// NewJobCompletionSignaler creates a new instance of JobCompletionSignaler.
func NewJobCompletionSignaler(jobDoneChan chan struct{}) *JobCompletionSignaler {
	return &JobCompletionSignaler{
		JobDoneChan: jobDoneChan,
	}
}

// BeforeJob does nothing.
func (l *JobCompletionSignaler) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {}

// AfterJob closes JobDoneChan.
func (l *JobCompletionSignaler) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	l.once.Do(func() {
		logger.Debugf("JobCompletionSignaler: Job '%s' (ID: %s) ended with %s.", jobExecution.JobName, jobExecution.ID, jobExecution.Status)
		close(l.JobDoneChan)
	})
}

var _ port.JobExecutionListener = (*JobCompletionSignaler)(nil)
