// Package incrementer provides JobParametersIncrementer implementations.
package incrementer

import (
	"fmt"
	"sync/atomic"
	"time"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	core "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// TimestampIncrementer is an implementation of JobParametersIncrementer that sets a
// parameter to the current Unix time in milliseconds, so every call yields a new
// job instance. Calls within the same millisecond get the previous value plus one.
type TimestampIncrementer struct {
	name string
	now  func() time.Time
	last atomic.Int64
}

// NewTimestampIncrementer creates a new instance of TimestampIncrementer.
func NewTimestampIncrementer(name string) *TimestampIncrementer {
	return &TimestampIncrementer{
		name: name,
		now:  time.Now,
	}
}

// GetNext copies params and sets the timestamp parameter as an int64.
func (i *TimestampIncrementer) GetNext(params core.JobParameters) core.JobParameters {
	nextParams := core.NewJobParameters()
	for k, v := range params.Params {
		nextParams.Put(k, v)
	}

	timestamp := i.next()
	nextParams.Put(i.name, timestamp)
	logger.Debugf("JobParametersIncrementer '%s': Setting '%s' to %d.", i.name, i.name, timestamp)

	return nextParams
}

// next returns max(now, last+1) and records it as the last issued value.
func (i *TimestampIncrementer) next() int64 {
	for {
		last := i.last.Load()
		candidate := i.now().UnixMilli()
		if candidate <= last {
			candidate = last + 1
		}
		if i.last.CompareAndSwap(last, candidate) {
			return candidate
		}
	}
}

// Name returns the parameter key set by the incrementer.
func (i *TimestampIncrementer) Name() string {
	return i.name
}

// String returns the string representation of TimestampIncrementer.
func (i *TimestampIncrementer) String() string {
	return fmt.Sprintf("TimestampIncrementer[name=%s]", i.name)
}

// Ensure TimestampIncrementer implements core.JobParametersIncrementer
var _ port.JobParametersIncrementer = (*TimestampIncrementer)(nil)
