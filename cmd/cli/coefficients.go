package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"utilpanel/domain/core"
	"utilpanel/internal/errors"
)

func newCoefficientsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "coefficients [run-id]",
		Short: "Print the proxy coefficients learned by a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := core.ParseRunID(args[0])
			if err != nil {
				return errors.InvalidInput(err.Error())
			}
			ctx := cmd.Context()
			if err := a.c.InitWithDatabase(ctx); err != nil {
				return err
			}
			store := a.c.Store

			m, err := store.GetRun(ctx, id)
			if err != nil {
				return err
			}
			coeffs, err := store.GetCoefficients(ctx, id)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{
				"run_id":       m.RunID,
				"calibrated":   m.Calibrated,
				"global":       m.GlobalCoefficient,
				"coefficients": coeffs,
			})
		},
	}
}
