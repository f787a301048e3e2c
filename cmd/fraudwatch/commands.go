package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"fraudwatch/config"
	"fraudwatch/fraud"
	"fraudwatch/ingest"
	"fraudwatch/logger"
	"fraudwatch/metrics"
	"fraudwatch/warehouse"
)

// app is the state shared by every subcommand, set up before and torn down
// after each of them.
type app struct {
	configPath string
	debug      bool

	cfg     *config.Config
	log     zerolog.Logger
	db      *gorm.DB
	metrics *metrics.Recorder
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:               "fraudwatch",
		Short:             "Nightly warehouse load and fraud report",
		Long:              "fraudwatch loads transaction, passport blacklist and terminal files into the warehouse and rebuilds the fraud report for the latest day.",
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file path.")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logs.")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Ingest pending files, print errors and rebuild the fraud report",
			RunE: a.withTeardown(func(cmd *cobra.Command) error {
				if err := a.ingest(cmd); err != nil {
					return err
				}
				return a.detect(cmd)
			}),
		},
		&cobra.Command{
			Use:   "ingest",
			Short: "Ingest pending files and print errors",
			RunE:  a.withTeardown(a.ingest),
		},
		&cobra.Command{
			Use:   "detect",
			Short: "Run fraud detection and rebuild the report",
			RunE:  a.withTeardown(a.detect),
		},
		&cobra.Command{
			Use:   "errors",
			Short: "Print the file errors of the latest run",
			RunE:  a.withTeardown(a.printErrors),
		},
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = a.debug
	}
	a.cfg = cfg
	a.log = logger.New(cfg.Debug)
	cmd.SetContext(logger.WithContext(cmd.Context(), a.log))

	a.db, err = warehouse.Open(cfg.Warehouse())
	if err != nil {
		return fmt.Errorf("open warehouse: %w", err)
	}
	a.metrics = metrics.New()
	return nil
}

// withTeardown runs fn and then closes the warehouse and writes metrics,
// also when fn fails. cobra skips post-run hooks after a RunE error.
func (a *app) withTeardown(fn func(cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if terr := a.teardown(); err == nil {
				err = terr
			}
		}()
		return fn(cmd)
	}
}

func (a *app) teardown() error {
	a.metrics.RunCompleted(time.Now().UTC())
	if a.cfg != nil {
		if err := a.metrics.WriteTextfile(a.cfg.MetricsTextfile); err != nil {
			a.log.Error().Err(err).Str("path", a.cfg.MetricsTextfile).Msg("could not write metrics")
		}
	}
	return warehouse.Close(a.db)
}

func (a *app) ingest(cmd *cobra.Command) error {
	runner, err := ingest.NewRunner(a.db, ingest.RunnerConfig{
		DataDir:    a.cfg.Dirs.Data,
		ArchiveDir: a.cfg.Dirs.Archive,
		ErrorDir:   a.cfg.Dirs.Error,
	}, logger.FromContext(cmd.Context()), a.metrics)
	if err != nil {
		return err
	}
	res, err := runner.RunOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "File processing finished")
	return ingest.SummarizeErrors(out, res.Errors)
}

func (a *app) detect(cmd *cobra.Command) error {
	engine := fraud.NewEngine(a.db, fraud.EngineConfig{OverridePath: a.cfg.WindowOverride},
		logger.FromContext(cmd.Context()), a.metrics)
	res, err := engine.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("fraud detection: %w", err)
	}
	out := cmd.OutOrStdout()
	if res.Skipped {
		fmt.Fprintln(out, "No transactions, fraud report not built")
		return nil
	}
	fmt.Fprintf(out, "Fraud report updated for %s (%d rows)\n", res.Window, res.ReportRows)
	return nil
}

func (a *app) printErrors(cmd *cobra.Command) error {
	runID, err := warehouse.LatestRunID(a.db)
	if err != nil {
		return err
	}
	if runID == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
		return nil
	}
	tasks, err := warehouse.RunErrors(a.db, runID)
	if err != nil {
		return err
	}
	return ingest.SummarizeErrors(cmd.OutOrStdout(), tasks)
}
