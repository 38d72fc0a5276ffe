package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/darshan-rambhia/racestats/internal/alerter"
	"github.com/darshan-rambhia/racestats/internal/cache"
	"github.com/darshan-rambhia/racestats/internal/collector"
	"github.com/darshan-rambhia/racestats/internal/config"
	"github.com/darshan-rambhia/racestats/internal/iracing"
	"github.com/darshan-rambhia/racestats/internal/notify"
	"github.com/darshan-rambhia/racestats/internal/pipeline"
	"github.com/darshan-rambhia/racestats/internal/sessioncache"
	"github.com/darshan-rambhia/racestats/internal/store"
)

// app holds the state shared by all subcommands. Config and logging are set
// up before any subcommand runs.
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "racestats",
		Short: "Sync, cache and query iRacing race results",
		Long: "racestats mirrors iRacing subsession results into a local cache and a\n" +
			"SQLite database and serves rating history and car/track usage over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["config"] == "none" {
				return nil
			}
			return a.loadConfig(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to racestats.yml config file")

	root.AddCommand(
		newSyncDriverCmd(a),
		newSyncSeasonCmd(a),
		newSyncTracksCmd(a),
		newSyncCarsCmd(a),
		newUpdateCmd(a),
		newRebuildCmd(a),
		newServeCmd(a),
		newQueryCmd(a),
		newEncodePasswordCmd(),
		newVersionCmd(),
	)
	return root
}

func (a *app) loadConfig(stderr io.Writer) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigFileNotFound) {
			fmt.Fprintf(stderr, "Copy the example config to get started:\n")
			fmt.Fprintf(stderr, "  cp racestats.example.yml %s\n\n", a.configPath)
		}
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg
	setupLogging(cfg, stderr)
	return nil
}

func setupLogging(cfg *config.Config, w io.Writer) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// openStore opens the database, creating its directory if needed.
func (a *app) openStore() (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	st, err := store.New(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return st, nil
}

// login creates a remote API client and authenticates it.
func (a *app) login(ctx context.Context) (*iracing.Client, error) {
	if err := a.cfg.RequireCredentials(); err != nil {
		return nil, err
	}
	ic := a.cfg.IRacing
	client, err := iracing.NewClient(iracing.Config{
		BaseURL:           ic.BaseURL,
		Username:          ic.Username,
		PasswordToken:     ic.PasswordToken,
		Timeout:           ic.Timeout.Duration,
		RateLimitBackoff:  ic.RateLimitBackoff.Duration,
		MaxBackoff:        ic.MaxBackoff.Duration,
		MaxRetries:        ic.MaxRetries,
		RequestsPerSecond: ic.RequestsPerSecond,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Login(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func (a *app) providers() []notify.Provider {
	var providers []notify.Provider
	for _, n := range a.cfg.Notifications {
		switch n.Type {
		case "ntfy":
			providers = append(providers, notify.NewNtfy(n.URL, n.Topic, n.Token))
		case "webhook":
			providers = append(providers, notify.NewWebhook(n.URL, n.Method, n.Format, n.Headers))
		}
	}
	return providers
}

// syncEnv is an opened store and session cache plus a Syncer over them.
type syncEnv struct {
	store  *store.Store
	syncer *pipeline.Syncer
}

func (e *syncEnv) Close() error { return e.store.Close() }

// newSyncEnv wires a Syncer. With online set it logs in to the remote API;
// otherwise the Syncer works from the local cache only.
func (a *app) newSyncEnv(ctx context.Context, online bool, opts ...pipeline.Option) (*syncEnv, error) {
	var (
		remote  pipeline.Remote
		fetcher sessioncache.Fetcher
	)
	if online {
		client, err := a.login(ctx)
		if err != nil {
			return nil, err
		}
		remote, fetcher = client, client
	}

	sessions, err := sessioncache.New(a.cfg.CacheDir, a.cfg.ReferenceDir, fetcher)
	if err != nil {
		return nil, err
	}
	st, err := a.openStore()
	if err != nil {
		return nil, err
	}

	opts = append([]pipeline.Option{pipeline.WithNotifiers(a.providers()...)}, opts...)
	syncer := pipeline.New(remote, sessions, st, a.pipelineConfig(), opts...)
	return &syncEnv{store: st, syncer: syncer}, nil
}

func (a *app) pipelineConfig() pipeline.Config {
	return pipeline.Config{
		Concurrency:        a.cfg.Sync.Concurrency,
		CheckpointEvery:    a.cfg.Sync.CheckpointEvery,
		LastSeasonYear:     a.cfg.Sync.LastSeasonYear,
		StrictDriverLookup: a.cfg.Sync.StrictDriverLookup,
	}
}

// serveEnv bundles what the serve command shares between the HTTP server and
// the periodic sync jobs.
type serveEnv struct {
	*syncEnv
	status     *cache.Cache
	collectors []collector.Collector
	alerter    *alerter.Alerter
}

func (a *app) newServeEnv(ctx context.Context) (*serveEnv, error) {
	status := cache.New()
	pool := collector.NewWorkerPool(a.cfg.Sync.Concurrency)

	online := a.cfg.RequireCredentials() == nil
	if !online {
		slog.Warn("iracing credentials not configured, serving stored data only")
	}
	env, err := a.newSyncEnv(ctx, online, pipeline.WithPool(pool), pipeline.WithStatus(status))
	if err != nil {
		return nil, err
	}

	se := &serveEnv{syncEnv: env, status: status}
	if online {
		se.collectors = append(se.collectors, pipeline.NewReferenceCollector(env.syncer, a.cfg.Sync.ReferenceInterval.Duration))
		for _, d := range a.cfg.Sync.Drivers {
			se.collectors = append(se.collectors, pipeline.NewDriverCollector(env.syncer, d, a.cfg.Sync.Interval.Duration))
		}
		if providers := a.providers(); len(providers) > 0 {
			se.alerter = alerter.NewAlerter(status, providers, a.alertConfig())
		}
	}
	return se, nil
}

// alertConfig applies the configured overrides to the default rules.
// Zero fields keep their defaults.
func (a *app) alertConfig() alerter.AlertConfig {
	cfg := alerter.DefaultAlertConfig()
	if o := a.cfg.Alerts.SyncFailing; o != nil {
		if o.Threshold > 0 {
			cfg.SyncFailing.Threshold = o.Threshold
		}
		if o.Severity != "" {
			cfg.SyncFailing.Severity = o.Severity
		}
		if o.Cooldown.Duration > 0 {
			cfg.SyncFailing.Cooldown = o.Cooldown.Duration
		}
	}
	if o := a.cfg.Alerts.SyncStale; o != nil {
		if o.MaxAge.Duration > 0 {
			cfg.SyncStale.MaxAge = o.MaxAge.Duration
		}
		if o.Severity != "" {
			cfg.SyncStale.Severity = o.Severity
		}
		if o.Cooldown.Duration > 0 {
			cfg.SyncStale.Cooldown = o.Cooldown.Duration
		}
	}
	return cfg
}
