// Package pipeline orchestrates synchronization: discovery, bounded
// concurrent fetching into the session cache and normalization into the
// store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/darshan-rambhia/racestats/internal/cache"
	"github.com/darshan-rambhia/racestats/internal/collector"
	"github.com/darshan-rambhia/racestats/internal/discovery"
	"github.com/darshan-rambhia/racestats/internal/metrics"
	"github.com/darshan-rambhia/racestats/internal/model"
	"github.com/darshan-rambhia/racestats/internal/normalize"
	"github.com/darshan-rambhia/racestats/internal/notify"
	"github.com/darshan-rambhia/racestats/internal/sessioncache"
	"github.com/darshan-rambhia/racestats/internal/store"
)

// Job names used in reports, metrics and status keys.
const (
	JobDriver  = "driver"
	JobSeason  = "season"
	JobTracks  = "tracks"
	JobCars    = "cars"
	JobRebuild = "rebuild"
	JobUpdate  = "update"
)

// Remote is the subset of the remote API client the pipeline uses besides
// session fetches, which go through the session cache.
type Remote interface {
	discovery.Remote
	Tracks(ctx context.Context) ([]byte, error)
	Cars(ctx context.Context) ([]byte, error)
}

// Config controls fetch concurrency and rebuild checkpoints.
type Config struct {
	Concurrency        int // max in-flight session fetches per run
	CheckpointEvery    int // subsessions per commit during bulk ingest
	LastSeasonYear     int
	StrictDriverLookup bool
}

// Syncer runs sync jobs.
type Syncer struct {
	remote    Remote
	sessions  *sessioncache.Cache
	store     *store.Store
	discover  *discovery.Discoverer
	pool      *collector.WorkerPool
	status    *cache.Cache
	notifiers []notify.Provider
	config    Config
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithPool shares a worker pool between syncers so that concurrent jobs
// together stay under one fetch limit.
func WithPool(p *collector.WorkerPool) Option {
	return func(s *Syncer) { s.pool = p }
}

// WithStatus records every finished run in c.
func WithStatus(c *cache.Cache) Option {
	return func(s *Syncer) { s.status = c }
}

// WithNotifiers sends a notification for every run that stored something or
// failed.
func WithNotifiers(providers ...notify.Provider) Option {
	return func(s *Syncer) { s.notifiers = append(s.notifiers, providers...) }
}

// New creates a Syncer. remote may be nil for jobs that only work from the
// local cache (rebuild, update).
func New(remote Remote, sessions *sessioncache.Cache, st *store.Store, cfg Config, opts ...Option) *Syncer {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 3
	}
	if cfg.CheckpointEvery < 1 {
		cfg.CheckpointEvery = 1000
	}
	if cfg.LastSeasonYear == 0 {
		cfg.LastSeasonYear = time.Now().UTC().Year()
	}

	s := &Syncer{
		remote:   remote,
		sessions: sessions,
		store:    st,
		config:   cfg,
	}
	if remote != nil {
		s.discover = discovery.New(remote, sessions, discovery.Config{
			LastSeasonYear: cfg.LastSeasonYear,
			Strict:         cfg.StrictDriverLookup,
		})
	}
	for _, o := range opts {
		o(s)
	}
	if s.pool == nil {
		s.pool = collector.NewWorkerPool(cfg.Concurrency)
	}
	return s
}

var errNoRemote = errors.New("remote API client not configured")

// ---------------------------------------------------------------------------
// Driver and season sync
// ---------------------------------------------------------------------------

// SyncDrivers syncs each driver in turn. It stops at the first failed run and
// returns the reports of all runs attempted so far.
func (s *Syncer) SyncDrivers(ctx context.Context, identifiers []string) ([]model.SyncReport, error) {
	reports := make([]model.SyncReport, 0, len(identifiers))
	for _, id := range identifiers {
		r, err := s.SyncDriver(ctx, id)
		reports = append(reports, r)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// SyncDriver discovers the driver's subsessions, fetches the uncached ones
// and stores every one not yet in the store. Sessions cached by an earlier
// run that failed before storing them are picked up here too.
func (s *Syncer) SyncDriver(ctx context.Context, identifier string) (model.SyncReport, error) {
	return s.run(ctx, JobDriver, identifier, func(r *model.SyncReport) error {
		if s.discover == nil {
			return errNoRemote
		}
		driver, err := s.discover.ResolveDriver(ctx, identifier)
		if err != nil {
			return err
		}
		r.Target = driver.DisplayName

		found, err := s.discover.FindCustomerSubsessions(ctx, driver.CustID)
		if err != nil {
			return err
		}
		return s.fetchAndIngest(ctx, r, found)
	})
}

// SyncSeason syncs every subsession of a season quarter, optionally only one
// race week.
func (s *Syncer) SyncSeason(ctx context.Context, year, quarter int, week *int) (model.SyncReport, error) {
	target := fmt.Sprintf("%ds%d", year, quarter)
	if week != nil {
		target = fmt.Sprintf("%sw%d", target, *week)
	}
	return s.run(ctx, JobSeason, target, func(r *model.SyncReport) error {
		if s.discover == nil {
			return errNoRemote
		}
		found, err := s.discover.FindSeasonSubsessions(ctx, year, quarter, week)
		if err != nil {
			return err
		}
		return s.fetchAndIngest(ctx, r, found)
	})
}

// fetchAndIngest fetches the uncached part of found, then stores every
// discovered subsession the store lacks, cached earlier or just now.
func (s *Syncer) fetchAndIngest(ctx context.Context, r *model.SyncReport, found discovery.Found) error {
	r.Discovered = len(found.Uncached)
	slog.Info("discovered sessions", "job", r.Job, "target", r.Target,
		"total", len(found.All), "uncached", len(found.Uncached))

	fetched, err := s.fetchAll(ctx, found.Uncached)
	r.Fetched = fetched
	if err != nil {
		return err
	}

	missing, err := s.store.MissingSubsessions(ctx, found.All)
	if err != nil {
		return err
	}
	r.Skipped = len(found.All) - len(missing)

	for _, id := range missing {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := s.sessions.Read(id)
		if err != nil {
			return err
		}
		if _, err := normalize.Ingest(ctx, s.store, raw); err != nil {
			return err
		}
		r.Ingested++
	}
	return nil
}

// fetchAll makes sure every id is in the session cache. At most
// Config.Concurrency fetches of this run are in flight, further limited by
// the shared worker pool. The first failure cancels the rest.
func (s *Syncer) fetchAll(ctx context.Context, ids []int64) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	var done atomic.Int64
	total := len(ids)
	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return s.pool.Do(gctx, func() error {
				if _, err := s.sessions.GetOrFetch(gctx, id); err != nil {
					return err
				}
				n := done.Add(1)
				slog.Debug("fetched session", "subsession_id", id, "progress", n, "total", total)
				return nil
			})
		})
	}
	err := g.Wait()
	if err == nil {
		// A cancelled parent stops the loop without any goroutine failing.
		err = ctx.Err()
	}
	return int(done.Load()), err
}

// ---------------------------------------------------------------------------
// Reference data
// ---------------------------------------------------------------------------

// SyncTracks downloads the track list, snapshots it and replaces the track
// tables.
func (s *Syncer) SyncTracks(ctx context.Context) (model.SyncReport, error) {
	return s.run(ctx, JobTracks, "", func(r *model.SyncReport) error {
		if s.remote == nil {
			return errNoRemote
		}
		raw, err := s.remote.Tracks(ctx)
		if err != nil {
			return err
		}
		r.Fetched = 1
		if err := s.sessions.WriteReference(sessioncache.TracksSnapshot, raw); err != nil {
			return err
		}
		n, err := s.loadTracks(ctx, raw)
		r.Ingested = n
		return err
	})
}

// SyncCars downloads the car list, snapshots it and replaces the car table.
func (s *Syncer) SyncCars(ctx context.Context) (model.SyncReport, error) {
	return s.run(ctx, JobCars, "", func(r *model.SyncReport) error {
		if s.remote == nil {
			return errNoRemote
		}
		raw, err := s.remote.Cars(ctx)
		if err != nil {
			return err
		}
		r.Fetched = 1
		if err := s.sessions.WriteReference(sessioncache.CarsSnapshot, raw); err != nil {
			return err
		}
		n, err := s.loadCars(ctx, raw)
		r.Ingested = n
		return err
	})
}

func (s *Syncer) loadTracks(ctx context.Context, raw []byte) (int, error) {
	rows, err := normalize.FlattenTracks(raw)
	if err != nil {
		return 0, err
	}
	if err := s.store.ReplaceTracks(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *Syncer) loadCars(ctx context.Context, raw []byte) (int, error) {
	cars, err := normalize.FlattenCars(raw)
	if err != nil {
		return 0, err
	}
	if err := s.store.ReplaceCars(ctx, cars); err != nil {
		return 0, err
	}
	return len(cars), nil
}

// ---------------------------------------------------------------------------
// Rebuild and update
// ---------------------------------------------------------------------------

// Rebuild replays the reference snapshots and every cached session into the
// store. The store is expected to be empty (see store.Reset); no network
// access is needed.
func (s *Syncer) Rebuild(ctx context.Context) (model.SyncReport, error) {
	return s.run(ctx, JobRebuild, "", func(r *model.SyncReport) error {
		if err := s.reloadReference(ctx); err != nil {
			return err
		}
		ids, err := s.sessions.IDs()
		if err != nil {
			return err
		}
		r.Discovered = len(ids)
		return s.bulkIngest(ctx, r, ids)
	})
}

// Update stores the cached sessions that are missing from the store.
func (s *Syncer) Update(ctx context.Context) (model.SyncReport, error) {
	return s.run(ctx, JobUpdate, "", func(r *model.SyncReport) error {
		ids, err := s.sessions.IDs()
		if err != nil {
			return err
		}
		missing, err := s.store.MissingSubsessions(ctx, ids)
		if err != nil {
			return err
		}
		r.Discovered = len(missing)
		r.Skipped = len(ids) - len(missing)
		return s.bulkIngest(ctx, r, missing)
	})
}

func (s *Syncer) reloadReference(ctx context.Context) error {
	load := []struct {
		name string
		fn   func(context.Context, []byte) (int, error)
	}{
		{sessioncache.TracksSnapshot, s.loadTracks},
		{sessioncache.CarsSnapshot, s.loadCars},
	}
	for _, l := range load {
		raw, err := s.sessions.ReadReference(l.name)
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("reference snapshot missing, skipping", "snapshot", l.name)
			continue
		}
		if err != nil {
			return err
		}
		n, err := l.fn(ctx, raw)
		if err != nil {
			return fmt.Errorf("loading %s: %w", l.name, err)
		}
		slog.Info("reference data loaded", "snapshot", l.name, "rows", n)
	}
	return nil
}

func (s *Syncer) bulkIngest(ctx context.Context, r *model.SyncReport, ids []int64) error {
	bulk, err := s.store.NewBulkIngester(ctx, s.config.CheckpointEvery)
	if err != nil {
		return err
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			bulk.Abort() //nolint:errcheck // reporting the cancellation
			return err
		}
		raw, err := s.sessions.Read(id)
		if err == nil {
			_, err = normalize.Ingest(ctx, bulk, raw)
		}
		if err != nil {
			bulk.Abort() //nolint:errcheck // reporting the ingest failure
			r.Ingested = bulk.Committed()
			return err
		}
		if (i+1)%s.config.CheckpointEvery == 0 {
			slog.Info("ingest progress", "job", r.Job, "done", i+1, "total", len(ids))
		}
	}

	if err := bulk.Close(); err != nil {
		return err
	}
	r.Ingested = bulk.Total()
	return nil
}

// ---------------------------------------------------------------------------
// Reporting
// ---------------------------------------------------------------------------

func (s *Syncer) run(ctx context.Context, job, target string, fn func(*model.SyncReport) error) (model.SyncReport, error) {
	start := time.Now()
	report := model.SyncReport{Job: job, Target: target}

	err := fn(&report)

	report.FinishedAt = time.Now()
	report.Duration = report.FinishedAt.Sub(start)
	result := "success"
	if err != nil {
		report.Error = err.Error()
		result = "error"
	}

	metrics.SyncRunsTotal.WithLabelValues(job, result).Inc()
	metrics.SyncDuration.WithLabelValues(job).Observe(report.Duration.Seconds())
	metrics.SubsessionsIngestedTotal.Add(float64(report.Ingested))

	if s.status != nil {
		s.status.RecordRun(statusKey(job, target), report)
	}

	logArgs := []any{
		"job", job, "target", report.Target,
		"discovered", report.Discovered, "fetched", report.Fetched,
		"ingested", report.Ingested, "skipped", report.Skipped,
		"duration", report.Duration.Round(time.Millisecond),
	}
	if err != nil {
		slog.Error("sync failed", append(logArgs, "error", err)...)
	} else {
		slog.Info("sync finished", logArgs...)
	}

	if len(s.notifiers) > 0 && (err != nil || report.Ingested > 0) {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		notify.Dispatch(nctx, s.notifiers, notify.FromReport(report)) //nolint:errcheck // failures are logged by Dispatch
		cancel()
	}
	return report, err
}

// statusKey keys runs by the requested target, not the resolved one, so
// repeated runs for the same configured driver share one entry.
func statusKey(job, target string) string {
	if target == "" {
		return job
	}
	return job + ":" + target
}
