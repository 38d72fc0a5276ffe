package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/darshan-rambhia/racestats/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	c := New()
	assert.NotNil(t, c.Runs)
	assert.NotNil(t, c.LastPoll)
	assert.NotNil(t, c.Failures)
}

func TestRecordRun_Success(t *testing.T) {
	c := New()
	finished := time.Unix(1700000000, 0)
	c.RecordRun("driver:Ann", model.SyncReport{Job: "driver", Target: "Ann", Ingested: 4, FinishedAt: finished})

	snap := c.Snapshot()
	require.Contains(t, snap.Runs, "driver:Ann")
	assert.Equal(t, 4, snap.Runs["driver:Ann"].Ingested)
	assert.Equal(t, finished, snap.LastPoll["driver:Ann"])
	assert.Zero(t, snap.Failures["driver:Ann"])
	assert.True(t, snap.Healthy(3))
}

func TestRecordRun_FailureStreak(t *testing.T) {
	c := New()
	ok := time.Unix(1700000000, 0)
	c.RecordRun("season", model.SyncReport{FinishedAt: ok})
	c.RecordRun("season", model.SyncReport{Error: "boom", FinishedAt: ok.Add(time.Hour)})
	c.RecordRun("season", model.SyncReport{Error: "boom", FinishedAt: ok.Add(2 * time.Hour)})

	snap := c.Snapshot()
	assert.Equal(t, 2, snap.Failures["season"])
	assert.Equal(t, ok, snap.LastPoll["season"], "last success is kept")
	assert.Equal(t, "boom", snap.Runs["season"].Error)
	assert.True(t, snap.Healthy(3))
	assert.False(t, snap.Healthy(2))

	c.RecordRun("season", model.SyncReport{FinishedAt: ok.Add(3 * time.Hour)})
	assert.True(t, c.Snapshot().Healthy(1))
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	c := New()
	c.RecordRun("cars", model.SyncReport{Job: "cars", Ingested: 1})

	snap := c.Snapshot()
	snap.Runs["cars"].Ingested = 99
	snap.Failures["cars"] = 7

	again := c.Snapshot()
	assert.Equal(t, 1, again.Runs["cars"].Ingested)
	assert.Zero(t, again.Failures["cars"])
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.RecordRun("driver", model.SyncReport{Fetched: i})
		}()
		go func() {
			defer wg.Done()
			_ = c.Snapshot()
		}()
	}
	wg.Wait()
	assert.Contains(t, c.Snapshot().Runs, "driver")
}
