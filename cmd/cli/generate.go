package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"utilpanel/domain/rawlog"
	"utilpanel/internal/testkit"
)

func newGenerateCmd() *cobra.Command {
	cfg := testkit.DefaultFleetConfig()
	var outDir string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic staggered-adoption fleet as four csv logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			logs := testkit.NewFleetGenerator(cfg).GenerateLogs()
			files := map[string]*rawlog.Table{
				"production.csv":   logs.Production,
				"proxy.csv":        logs.Proxy,
				"installation.csv": logs.Installation,
				"failures.csv":     logs.Failures,
			}
			for name, t := range files {
				if err := writeTable(filepath.Join(outDir, name), t); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d units x %d months to %s\n", cfg.UnitCount, cfg.Months, outDir)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&outDir, "out", "fleet", "output directory")
	f.IntVar(&cfg.UnitCount, "units", cfg.UnitCount, "number of units")
	f.IntVar(&cfg.Months, "months", cfg.Months, "number of months")
	f.Float64Var(&cfg.MissingRate, "missing-rate", cfg.MissingRate, "share of missing production readings")
	f.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	return cmd
}

func writeTable(path string, t *rawlog.Table) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(t.Headers); err != nil {
		return err
	}
	for _, row := range t.Rows {
		rec := make([]string, len(t.Headers))
		for i, h := range t.Headers {
			rec[i] = row[h]
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
