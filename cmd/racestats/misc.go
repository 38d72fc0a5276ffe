package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/darshan-rambhia/racestats/internal/iracing"
)

func newEncodePasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode-password USERNAME",
		Short: "Print the password_token for a login, reading the password from stdin",
		Long: "The auth endpoint expects a hash of the password and the lowercased\n" +
			"username instead of the plain password. Put the printed token into\n" +
			"iracing.password_token or IRACING_TOKEN.",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"config": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := bufio.NewScanner(cmd.InOrStdin())
			if !sc.Scan() {
				if err := sc.Err(); err != nil {
					return fmt.Errorf("reading password: %w", err)
				}
				return errors.New("no password on stdin")
			}
			password := strings.TrimRight(sc.Text(), "\r")
			fmt.Fprintln(cmd.OutOrStdout(), iracing.EncodePassword(args[0], password))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"config": "none"},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), readBuild())
		},
	}
}
