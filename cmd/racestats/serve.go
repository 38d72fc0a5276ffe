package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/darshan-rambhia/racestats/internal/api"
	"github.com/darshan-rambhia/racestats/internal/collector"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API and keep configured drivers in sync",
		Long: "Serves rating history and car/track usage over HTTP. When iRacing\n" +
			"credentials are configured, the track and car lists and every driver\n" +
			"in sync.drivers are refreshed periodically.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	b := readBuild()
	slog.Info("starting racestats", "version", b.Version, "commit", b.Commit, "listen", a.cfg.Listen)

	env, err := a.newServeEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	g, ctx := errgroup.WithContext(ctx)

	for _, c := range env.collectors {
		g.Go(func() error { return collector.Run(ctx, c) })
	}

	if env.alerter != nil {
		g.Go(func() error { return env.alerter.Run(ctx) })
	}

	server := api.NewServer(a.cfg.Listen, env.status, env.store, a.cfg.API.RateLimit)
	g.Go(func() error { return server.Run(ctx) })

	slog.Info("all components started",
		"sync_jobs", len(env.collectors),
		"notifications", len(a.cfg.Notifications),
		"alerts", env.alerter != nil,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("racestats stopped gracefully")
	return nil
}
