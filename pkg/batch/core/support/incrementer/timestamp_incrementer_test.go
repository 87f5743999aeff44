package incrementer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
)

func TestTimestampIncrementer_GetNext(t *testing.T) {
	inc := NewTimestampIncrementer("startAt")
	inc.now = func() time.Time { return time.UnixMilli(1700000000123) }

	params := core.NewJobParameters()
	params.Put("source", "customers.csv")

	next := inc.GetNext(params)

	assert.Equal(t, int64(1700000000123), next.Get("startAt"))
	assert.Equal(t, "customers.csv", next.Get("source"))
	assert.False(t, params.Contains("startAt"), "input parameters must not be modified")
	assert.Equal(t, "startAt", inc.Name())
}

func TestTimestampIncrementer_GetNextIsDistinctWithinMillisecond(t *testing.T) {
	inc := NewTimestampIncrementer("startAt")
	inc.now = func() time.Time { return time.UnixMilli(1700000000123) }

	first := inc.GetNext(core.NewJobParameters()).Get("startAt")
	second := inc.GetNext(core.NewJobParameters()).Get("startAt")

	assert.Equal(t, int64(1700000000123), first)
	assert.Equal(t, int64(1700000000124), second)
}

func TestTimestampIncrementer_GetNextTightLoop(t *testing.T) {
	inc := NewTimestampIncrementer("startAt")

	const calls = 1000
	seen := make(map[string]bool, calls)
	var last int64
	for n := 0; n < calls; n++ {
		next := inc.GetNext(core.NewJobParameters())
		v, ok := next.Get("startAt").(int64)
		require.True(t, ok)
		assert.Greater(t, v, last)
		last = v
		hash, err := next.Hash()
		require.NoError(t, err)
		seen[hash] = true
	}
	assert.Len(t, seen, calls)
}

func TestTimestampIncrementer_ConcurrentCallsAreDistinct(t *testing.T) {
	inc := NewTimestampIncrementer("startAt")

	const workers, perWorker = 8, 100
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < perWorker; n++ {
				v := inc.GetNext(core.NewJobParameters()).Get("startAt").(int64)
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}
