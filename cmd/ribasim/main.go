package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/maseology/mmio"
	"github.com/spf13/cobra"

	ribasim "github.com/Deltares/Ribasim-sub006"
	"github.com/Deltares/Ribasim-sub006/dbio"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:          "ribasim",
		Short:        "ribasim simulates a surface-water basin network",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newRunCmd(&verbose))
	root.AddCommand(newCheckCmd())
	return root
}

func newLogger(verbose bool) *log.Logger {
	lvl := log.InfoLevel
	if verbose {
		lvl = log.DebugLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           lvl,
	})
}

func newRunCmd(verbose *bool) *cobra.Command {
	var progress bool
	cmd := &cobra.Command{
		Use:   "run <config.toml>",
		Short: "run a simulation from a toml configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tt := mmio.NewTimer()
			lg := newLogger(*verbose)

			cfg, err := ribasim.LoadConfig(args[0])
			if err != nil {
				return err
			}
			start, _, err := cfg.Span()
			if err != nil {
				return err
			}

			tb, err := dbio.Read(cfg.Run.Input)
			if err != nil {
				return err
			}
			lg.Info("input read", "db", cfg.Run.Input, "nodes", len(tb.Nodes), "links", len(tb.Links))

			m, err := ribasim.NewModel(tb)
			if err != nil {
				return err
			}
			m.SetLogger(lg)

			opts := cfg.SolverOpts()
			opts.Progress = progress
			res, err := m.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}

			if cfg.Run.Output != "" {
				if err := res.Write(cfg.Run.Output, start); err != nil {
					return err
				}
				lg.Info("results written", "dir", cfg.Run.Output)
			}
			tt.Lap("run complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&progress, "progress", false, "show a progress bar")
	return cmd
}

// check builds the model without running it, reporting topology and
// table errors.
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <input.db>",
		Short: "validate an input database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tb, err := dbio.Read(args[0])
			if err != nil {
				return err
			}
			if _, err := ribasim.NewModel(tb); err != nil {
				return err
			}
			fmt.Printf("ok: %d nodes, %d links\n", len(tb.Nodes), len(tb.Links))
			return nil
		},
	}
}
