package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/darshan-rambhia/racestats/internal/model"
	"github.com/darshan-rambhia/racestats/internal/store"
)

func printReport(w io.Writer, r model.SyncReport) {
	target := r.Job
	if r.Target != "" {
		target += " " + r.Target
	}
	fmt.Fprintf(w, "%s: %d discovered, %d fetched, %d stored, %d already stored (%s)\n",
		target, r.Discovered, r.Fetched, r.Ingested, r.Skipped, r.Duration.Round(time.Millisecond))
}

func newSyncDriverCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-driver NAME_OR_CUST_ID...",
		Short: "Fetch and store all results of one or more drivers",
		Long: "Looks up each driver, searches every season since they joined for\n" +
			"results not yet cached, fetches them and stores the new ones.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.newSyncEnv(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer env.Close()

			reports, err := env.syncer.SyncDrivers(cmd.Context(), args)
			for _, r := range reports {
				printReport(cmd.OutOrStdout(), r)
			}
			return err
		},
	}
}

func newSyncSeasonCmd(a *app) *cobra.Command {
	var year, quarter, week int
	cmd := &cobra.Command{
		Use:   "sync-season",
		Short: "Fetch and store all results of one season",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var weekPtr *int
			if cmd.Flags().Changed("week") {
				weekPtr = &week
			}

			env, err := a.newSyncEnv(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer env.Close()

			r, err := env.syncer.SyncSeason(cmd.Context(), year, quarter, weekPtr)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), r)
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "season year")
	cmd.Flags().IntVar(&quarter, "quarter", 0, "season quarter (1-4)")
	cmd.Flags().IntVar(&week, "week", 0, "race week, all weeks when omitted")
	_ = cmd.MarkFlagRequired("year")
	_ = cmd.MarkFlagRequired("quarter")
	return cmd
}

func newSyncTracksCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-tracks",
		Short: "Replace the stored track list with the current remote one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := a.newSyncEnv(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer env.Close()

			r, err := env.syncer.SyncTracks(cmd.Context())
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), r)
			return nil
		},
	}
}

func newSyncCarsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-cars",
		Short: "Replace the stored car list with the current remote one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := a.newSyncEnv(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer env.Close()

			r, err := env.syncer.SyncCars(cmd.Context())
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), r)
			return nil
		},
	}
}

func newUpdateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Store cached sessions that are missing from the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := a.newSyncEnv(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer env.Close()

			r, err := env.syncer.Update(cmd.Context())
			printReport(cmd.OutOrStdout(), r)
			return err
		},
	}
}

func newRebuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Recreate the database from the session cache",
		Long: "Deletes the database and replays every cached session and the\n" +
			"cached track and car lists into a fresh one. No network access.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := store.Reset(a.cfg.DBPath); err != nil {
				return err
			}
			env, err := a.newSyncEnv(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer env.Close()

			r, err := env.syncer.Rebuild(cmd.Context())
			printReport(cmd.OutOrStdout(), r)
			return err
		},
	}
}
