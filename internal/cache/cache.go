// Package cache keeps the in-memory status of sync jobs for the health
// endpoint and the index page.
package cache

import (
	"maps"
	"sync"
	"time"

	"github.com/darshan-rambhia/racestats/internal/model"
)

// Cache is a thread-safe in-memory record of recent sync runs.
type Cache struct {
	mu sync.RWMutex

	Runs     map[string]*model.SyncReport // last run per job key
	LastPoll map[string]time.Time         // last successful run per job key
	Failures map[string]int               // consecutive failures per job key
}

// CacheSnapshot is a read-only deep copy of the cache state.
type CacheSnapshot struct {
	Runs     map[string]*model.SyncReport
	LastPoll map[string]time.Time
	Failures map[string]int
}

// New returns an initialized Cache.
func New() *Cache {
	return &Cache{
		Runs:     make(map[string]*model.SyncReport),
		LastPoll: make(map[string]time.Time),
		Failures: make(map[string]int),
	}
}

// Snapshot returns a deep copy of the cache contents.
func (c *Cache) Snapshot() CacheSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := CacheSnapshot{
		Runs:     make(map[string]*model.SyncReport, len(c.Runs)),
		LastPoll: make(map[string]time.Time, len(c.LastPoll)),
		Failures: make(map[string]int, len(c.Failures)),
	}
	for k, v := range c.Runs {
		cp := *v
		snap.Runs[k] = &cp
	}
	maps.Copy(snap.LastPoll, c.LastPoll)
	maps.Copy(snap.Failures, c.Failures)
	return snap
}

// RecordRun stores the outcome of a run under key. A report with an empty
// Error counts as success and resets the failure streak.
func (c *Cache) RecordRun(key string, report model.SyncReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Runs[key] = &report
	if report.Error == "" {
		c.LastPoll[key] = report.FinishedAt
		c.Failures[key] = 0
		return
	}
	c.Failures[key]++
}

// Healthy reports whether no job has failed maxFailures times in a row.
// maxFailures <= 0 means any failure is unhealthy.
func (s CacheSnapshot) Healthy(maxFailures int) bool {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	for _, n := range s.Failures {
		if n >= maxFailures {
			return false
		}
	}
	return true
}
