package main

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/darshan-rambhia/racestats/internal/api"
)

func newQueryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print stored statistics as JSON",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "rating DRIVER_NAME",
			Short: "Road rating after each rated race, oldest first",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := a.openStore()
				if err != nil {
					return err
				}
				defer st.Close()

				points, err := st.RatingHistory(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), points)
			},
		},
		&cobra.Command{
			Use:   "usage DRIVER_NAME",
			Short: "Driven time per car and track as a [track][car] matrix",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := a.openStore()
				if err != nil {
					return err
				}
				defer st.Close()

				rows, err := st.CarTrackUsage(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), api.BuildUsageMatrix(rows))
			},
		},
		&cobra.Command{
			Use:   "drivers",
			Short: "All drivers seen in stored results",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := a.openStore()
				if err != nil {
					return err
				}
				defer st.Close()

				drivers, err := st.Drivers(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), drivers)
			},
		},
	)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
