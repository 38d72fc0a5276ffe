// Package alerter watches sync job status and notifies when a job keeps
// failing or its results go stale.
package alerter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/darshan-rambhia/racestats/internal/cache"
	"github.com/darshan-rambhia/racestats/internal/model"
	"github.com/darshan-rambhia/racestats/internal/notify"
)

// AlertConfig holds configuration for alert rules. A nil rule is disabled.
type AlertConfig struct {
	SyncFailing *FailureAlert
	SyncStale   *StaleAlert
}

// FailureAlert triggers when a job failed Threshold times in a row.
type FailureAlert struct {
	Threshold int
	Severity  string
	Cooldown  time.Duration
}

// StaleAlert triggers when a job has not succeeded for MaxAge.
type StaleAlert struct {
	MaxAge   time.Duration
	Severity string
	Cooldown time.Duration
}

// DefaultAlertConfig returns sensible alert defaults.
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		SyncFailing: &FailureAlert{Threshold: 3, Severity: "critical", Cooldown: 6 * time.Hour},
		SyncStale:   &StaleAlert{MaxAge: 48 * time.Hour, Severity: "warning", Cooldown: 24 * time.Hour},
	}
}

// Alerter evaluates rules against the status cache and sends notifications.
type Alerter struct {
	cache     *cache.Cache
	providers []notify.Provider
	config    AlertConfig
	interval  time.Duration

	// lastFired maps alert key to the time it last fired.
	lastFired map[string]time.Time
	// failing holds jobs with an open failure alert, so recovery is
	// announced once.
	failing map[string]bool
}

// NewAlerter creates a new alerter.
func NewAlerter(c *cache.Cache, providers []notify.Provider, cfg AlertConfig) *Alerter {
	return &Alerter{
		cache:     c,
		providers: providers,
		config:    cfg,
		interval:  time.Minute,
		lastFired: make(map[string]time.Time),
		failing:   make(map[string]bool),
	}
}

// Run evaluates the rules every interval until ctx is cancelled.
func (a *Alerter) Run(ctx context.Context) error {
	slog.Info("alerter started", "interval", a.interval)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("alerter stopped")
			return ctx.Err()
		case <-ticker.C:
			a.evaluate(ctx, time.Now())
		}
	}
}

func (a *Alerter) evaluate(ctx context.Context, now time.Time) {
	snap := a.cache.Snapshot()

	if rule := a.config.SyncFailing; rule != nil {
		for job, n := range snap.Failures {
			if n >= rule.Threshold {
				a.failing[job] = true
				a.fire(ctx, now, "sync_failing:"+job, rule.Cooldown, model.Notification{
					Kind:      notify.KindSyncFailing,
					Severity:  rule.Severity,
					Title:     "Sync failing: " + job,
					Message:   fmt.Sprintf("%s failed %d times in a row: %s", job, n, lastError(snap, job)),
					Subject:   job,
					Timestamp: now,
					Metadata:  map[string]string{"failures": strconv.Itoa(n)},
				})
				continue
			}
			if a.failing[job] && n == 0 {
				delete(a.failing, job)
				delete(a.lastFired, "sync_failing:"+job)
				a.send(ctx, model.Notification{
					Kind:      notify.KindSyncRecovered,
					Severity:  "info",
					Title:     "Sync recovered: " + job,
					Message:   job + " succeeded again",
					Subject:   job,
					Timestamp: now,
				})
			}
		}
	}

	if rule := a.config.SyncStale; rule != nil {
		for job, last := range snap.LastPoll {
			age := now.Sub(last)
			if age < rule.MaxAge {
				continue
			}
			a.fire(ctx, now, "sync_stale:"+job, rule.Cooldown, model.Notification{
				Kind:      notify.KindSyncStale,
				Severity:  rule.Severity,
				Title:     "Sync stale: " + job,
				Message:   fmt.Sprintf("%s last succeeded %s ago", job, age.Round(time.Minute)),
				Subject:   job,
				Timestamp: now,
				Metadata:  map[string]string{"last_success": last.UTC().Format(time.RFC3339)},
			})
		}
	}
}

func lastError(snap cache.CacheSnapshot, job string) string {
	if r, ok := snap.Runs[job]; ok && r.Error != "" {
		return r.Error
	}
	return "unknown error"
}

func (a *Alerter) fire(ctx context.Context, now time.Time, key string, cooldown time.Duration, n model.Notification) {
	if last, ok := a.lastFired[key]; ok && now.Sub(last) < cooldown {
		return // still in cooldown
	}
	a.lastFired[key] = now
	a.send(ctx, n)

	slog.Warn("alert fired",
		"kind", n.Kind,
		"severity", n.Severity,
		"subject", n.Subject,
	)
}

func (a *Alerter) send(ctx context.Context, n model.Notification) {
	// Dispatch logs each provider failure itself.
	_ = notify.Dispatch(ctx, a.providers, n)
}
