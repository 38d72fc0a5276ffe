// Package metrics holds the Prometheus collectors shared by the sync pipeline
// and the remote client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RemoteRequestsTotal counts remote API requests by response status code.
	RemoteRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "racestats_remote_requests_total",
		Help: "Total number of remote API requests by HTTP status code",
	}, []string{"code"})

	// RateLimitRetriesTotal counts backoff sleeps after a 429 response.
	RateLimitRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racestats_rate_limit_retries_total",
		Help: "Total number of rate-limit backoff retries",
	})

	// RateLimitRemaining mirrors the last x-ratelimit-remaining header seen.
	RateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "racestats_rate_limit_remaining",
		Help: "Remaining remote API requests in the current rate-limit window",
	})

	// FetchSlotsInUse is the number of occupied worker pool slots.
	FetchSlotsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "racestats_fetch_slots_in_use",
		Help: "Remote fetches currently holding a worker pool slot",
	})

	// SessionCacheHitsTotal counts session payloads served from disk.
	SessionCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racestats_session_cache_hits_total",
		Help: "Total number of session payloads served from the local cache",
	})

	// SessionFetchesTotal counts session payloads fetched from the remote API.
	SessionFetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racestats_session_fetches_total",
		Help: "Total number of session payloads fetched from the remote API",
	})

	// SubsessionsIngestedTotal counts subsessions written to the store.
	SubsessionsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racestats_subsessions_ingested_total",
		Help: "Total number of subsessions normalized into the store",
	})

	// SyncRunsTotal counts sync runs by job kind and outcome.
	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "racestats_sync_runs_total",
		Help: "Total number of sync runs by job and result",
	}, []string{"job", "result"})

	// SyncDuration measures the wall time of sync runs.
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "racestats_sync_duration_seconds",
		Help:    "Sync run duration in seconds",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	}, []string{"job"})
)
