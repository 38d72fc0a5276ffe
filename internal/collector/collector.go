// Package collector schedules the periodic sync jobs of serve mode and caps
// how many remote fetches run at once across all of them.
package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/darshan-rambhia/racestats/internal/metrics"
)

// Collector is a job that Run invokes on a fixed interval.
type Collector interface {
	Name() string
	Collect(ctx context.Context) error
	Interval() time.Duration
}

// WorkerPool is a counting semaphore shared by every job, so periodic driver
// syncs and reference refreshes together never exceed the configured number
// of in-flight remote fetches.
type WorkerPool struct {
	sem chan struct{}
}

// NewWorkerPool returns a pool with size slots. Sizes below one become one.
func NewWorkerPool(size int) *WorkerPool {
	return &WorkerPool{sem: make(chan struct{}, max(size, 1))}
}

// Do waits for a free slot, then runs fn on the calling goroutine and
// returns its error. If ctx ends first, fn never runs and ctx.Err() is
// returned.
func (p *WorkerPool) Do(ctx context.Context, fn func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	metrics.FetchSlotsInUse.Inc()
	defer func() {
		metrics.FetchSlotsInUse.Dec()
		<-p.sem
	}()
	return fn()
}

func (p *WorkerPool) Size() int  { return cap(p.sem) }
func (p *WorkerPool) InUse() int { return len(p.sem) }

// Run calls c.Collect right away and then once per interval until ctx ends,
// returning ctx.Err(). Collect errors are logged and do not stop the loop;
// the job reports its own status. A non-positive interval runs the job once.
func Run(ctx context.Context, c Collector) error {
	name, interval := c.Name(), c.Interval()
	slog.Info("sync job scheduled", "job", name, "interval", interval)

	collect(ctx, c)

	if interval <= 0 {
		<-ctx.Done()
		slog.Info("sync job stopped", "job", name)
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync job stopped", "job", name)
			return ctx.Err()
		case <-ticker.C:
			collect(ctx, c)
		}
	}
}

func collect(ctx context.Context, c Collector) {
	start := time.Now()
	if err := c.Collect(ctx); err != nil {
		if ctx.Err() != nil {
			return // shutting down
		}
		slog.Error("sync job failed", "job", c.Name(), "error", err, "took", time.Since(start).Round(time.Millisecond))
		return
	}
	slog.Debug("sync job finished", "job", c.Name(), "took", time.Since(start).Round(time.Millisecond))
}
