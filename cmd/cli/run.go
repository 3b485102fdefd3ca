package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"utilpanel/adapters/excel"
	"utilpanel/domain/core"
	"utilpanel/internal/config"
	"utilpanel/internal/errors"
	"utilpanel/internal/pipeline"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		paths            excel.LogPaths
		granularity      string
		windowStart      string
		windowEnd        string
		workers          int
		allowUncal       bool
		kMin, kMax       int
		outDir           string
		format           string
		store            bool
		coefficientsFrom string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the preparation pipeline over raw logs",
		Long: `Ingest production, proxy, installation and failure logs (csv or xlsx), impute
missing output, build the effective-output clock and emit the analysis panel and
survival records.

Example: utilpanel run --production prod.csv --proxy material.csv \
    --installation installs.csv --failures errors.csv --out ./out --format csv --store`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			cfg := a.c.Config
			p := &cfg.Pipeline
			if flags.Changed("granularity") {
				p.Granularity = granularity
			}
			if flags.Changed("window-start") {
				t, err := config.ParseDate(windowStart)
				if err != nil {
					return errors.ConfigInvalid("invalid --window-start: " + err.Error())
				}
				p.WindowStart = &t
			}
			if flags.Changed("window-end") {
				t, err := config.ParseDate(windowEnd)
				if err != nil {
					return errors.ConfigInvalid("invalid --window-end: " + err.Error())
				}
				p.WindowEnd = &t
			}
			if flags.Changed("workers") {
				p.Workers = workers
			}
			if flags.Changed("allow-uncalibrated") {
				p.AllowUncalibrated = allowUncal
			}
			if flags.Changed("k-min") {
				p.KBinMin = kMin
			}
			if flags.Changed("k-max") {
				p.KBinMax = kMax
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			outFormat, err := excel.ParseFormat(format)
			if err != nil {
				return errors.InvalidInput(err.Error())
			}
			opts, err := pipeline.OptionsFromConfig(*p)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if store || coefficientsFrom != "" {
				if err := a.c.InitWithDatabase(ctx); err != nil {
					return err
				}
			}
			if coefficientsFrom != "" {
				id, err := core.ParseRunID(coefficientsFrom)
				if err != nil {
					return errors.InvalidInput(err.Error())
				}
				if opts.Coefficients, err = a.c.Store.CoefficientSet(ctx, id); err != nil {
					return err
				}
			}

			logs, err := excel.ReadLogs(ctx, excel.NewDataReader(a.c.Log), paths)
			if err != nil {
				return errors.Wrap(err, "failed to read logs")
			}

			res, err := a.c.Pipeline.Run(ctx, logs, opts)
			if err != nil {
				return err
			}

			if outDir != "" {
				if err := excel.NewResultWriter(outDir, outFormat, a.c.Log).WriteResult(ctx, res); err != nil {
					return errors.Wrap(err, "failed to write outputs")
				}
			}
			if store {
				if err := a.c.Store.SaveRun(ctx, res); err != nil {
					return err
				}
			}

			m := res.Manifest
			fmt.Fprintf(cmd.OutOrStdout(), "run %s\n  window      %s .. %s (%d %s periods)\n  units       %d\n  panel rows  %d\n  survival    %d records\n  warnings    %d\n  fingerprint %s\n",
				m.RunID, m.WindowStart.Format("2006-01-02"), m.WindowEnd.Format("2006-01-02"), m.Periods, m.Granularity,
				m.Units, m.PanelRows, m.SurvivalRecords, m.Warnings, m.Fingerprint.Short())
			counts := core.CountWarnings(res.Warnings)
			kinds := make([]string, 0, len(counts))
			for kind := range counts {
				kinds = append(kinds, string(kind))
			}
			sort.Strings(kinds)
			for _, kind := range kinds {
				fmt.Fprintf(cmd.OutOrStdout(), "    %-28s %d\n", kind, counts[core.WarningKind(kind)])
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&paths.Production, "production", "", "production log (csv or xlsx)")
	f.StringVar(&paths.Proxy, "proxy", "", "proxy log (csv or xlsx)")
	f.StringVar(&paths.Installation, "installation", "", "installation log; omit to treat every unit as unregistered")
	f.StringVar(&paths.Failures, "failures", "", "failure log (csv or xlsx)")
	f.StringVar(&granularity, "granularity", "month", "period bucket: day, week or month")
	f.StringVar(&windowStart, "window-start", "", "first day of the observation window (YYYY-MM-DD)")
	f.StringVar(&windowEnd, "window-end", "", "last day of the observation window (YYYY-MM-DD)")
	f.IntVar(&workers, "workers", 4, "parallel unit workers")
	f.BoolVar(&allowUncal, "allow-uncalibrated", false, "continue without coefficients when no calibration data exists")
	f.IntVar(&kMin, "k-min", -6, "lowest relative-time bin")
	f.IntVar(&kMax, "k-max", 6, "highest relative-time bin")
	f.StringVar(&outDir, "out", "", "directory for output tables")
	f.StringVar(&format, "format", "xlsx", "output format: xlsx or csv")
	f.BoolVar(&store, "store", false, "persist the run to DATABASE_URL")
	f.StringVar(&coefficientsFrom, "coefficients-from", "", "reuse coefficients learned by a stored run")
	_ = cmd.MarkFlagRequired("production")

	return cmd
}
