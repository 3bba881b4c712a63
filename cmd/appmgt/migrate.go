package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/appmgt/pkg/storage"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert the database schema",
	}

	run := func(direction string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := storage.Migrate(cfg.Database.Driver, cfg.Database.DSN, direction); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s\n", direction)
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", Args: cobra.NoArgs, RunE: run(storage.Up)},
		&cobra.Command{Use: "down", Short: "Revert all migrations", Args: cobra.NoArgs, RunE: run(storage.Down)},
	)
	return cmd
}
