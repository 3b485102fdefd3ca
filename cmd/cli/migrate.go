package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"utilpanel/internal/migration"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the run store schema at DATABASE_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.c.InitWithDatabase(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema %s is up to date\n", a.c.Config.Database.Driver, migration.NewRunner().Version())
			return nil
		},
	}
}
