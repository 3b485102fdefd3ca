package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"utilpanel/internal/config"
	"utilpanel/internal/container"
	"utilpanel/internal/logging"
)

// app carries the container every subcommand shares once configuration loads.
type app struct {
	c *container.Container
}

func main() {
	a := &app{}
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "utilpanel",
		Short: "Prepare utilization-normalized reliability panels from equipment logs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is normal; the environment is used as-is.
			_ = godotenv.Load()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			a.c, err = container.New(cfg, logging.NewLogger(logging.ParseLevel(cfg.LogLevel)))
			return err
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "ERROR, WARN, INFO or DEBUG (overrides LOG_LEVEL)")

	rootCmd.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newCoefficientsCmd(a),
		newMigrateCmd(a),
		newGenerateCmd(),
	)

	err := rootCmd.Execute()
	if a.c != nil {
		if serr := a.c.Shutdown(context.Background()); serr != nil && err == nil {
			err = serr
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
