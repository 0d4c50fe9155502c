package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/fetch"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/simulation"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/store/cache"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/config"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/observability"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/usecase"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Normalize, simulate and compare every glacier under every dataset.",
	Long: `run loads the inventory, calibration table and geodetic reference,
forces the simulation service with each selected dataset, and writes the
climate summaries, mass balances, regional comparisons, uncertainty report
and manifest to the output directory. Finished units are cached, so an
interrupted run resumes where it stopped.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(flagOverrides(cmd.Flags())...)
		if err != nil {
			return err
		}
		if err := cfg.CheckArchives(); err != nil {
			return err
		}
		if cfg.SimulationURL == "" {
			return errors.New("SIMULATION_URL is required for run")
		}
		logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
		metrics := observability.NewMetrics()

		if fetchFirst, _ := cmd.Flags().GetBool("fetch"); fetchFirst {
			if err := usecase.FetchArchives(ctx, cfg, fetch.New(nil, logger), logger); err != nil {
				return err
			}
		}

		inputs, err := usecase.LoadInputs(inputPaths(cfg))
		if err != nil {
			return err
		}
		adapters, closeArchives, err := usecase.OpenAdapters(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeArchives(); err != nil {
				logger.Warn("failed to close archives", "error", err)
			}
		}()

		results, err := cache.New(cfg.CacheDir)
		if err != nil {
			return err
		}
		defer func() { _ = results.Close() }()

		runner, err := usecase.NewRunner(adapters, simulation.NewClient(cfg.SimulationURL, nil),
			usecase.WithCache(results),
			usecase.WithWorkers(cfg.WorkerLimit()),
			usecase.WithLogger(logger),
			usecase.WithMetrics(metrics),
			usecase.WithReferencePeriod(cfg.ReferencePeriod()),
		)
		if err != nil {
			return err
		}

		res, runErr := runner.Run(ctx, usecase.RunRequest{
			Inputs:   inputs,
			Datasets: cfg.Datasets(),
			Period:   cfg.Period(),
		})
		if res == nil {
			return runErr
		}
		if err := usecase.WriteOutputs(cfg.OutputDir, res); err != nil {
			return err
		}
		printSummary(cmd, res)
		if errors.Is(runErr, context.Canceled) {
			return fmt.Errorf("interrupted; rerun to resume from the cache: %w", runErr)
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().Int("workers", 0, "worker pool size, 0 for one per CPU (overrides WORKERS)")
	runCmd.Flags().Bool("sequential", false, "process one unit at a time (USE_PARALLEL=false)")
	runCmd.Flags().Bool("fetch", false, "download missing archives before running")
}

func inputPaths(cfg *config.Config) usecase.InputPaths {
	return usecase.InputPaths{
		Inventory:   cfg.Inputs.InventoryPath,
		Calibration: cfg.Inputs.CalibrationPath,
		Geodetic:    cfg.Inputs.GeodeticPath,
	}
}

func printSummary(cmd *cobra.Command, res *usecase.RunResult) {
	out := cmd.OutOrStdout()
	m := res.Manifest
	fmt.Fprintf(out, "run %s: %d units succeeded, %d cached, %d exclusions\n",
		m.RunID, len(m.Succeeded), m.CacheHits, len(m.Excluded))
	for kind, n := range m.ExcludedByKind() {
		fmt.Fprintf(out, "  %-22s %d\n", kind, n)
	}
	for _, r := range res.Reports {
		fmt.Fprintf(out, "region %s: mean %.1f mm w.e./yr, std %.1f, range %.1f\n",
			r.RegionID, r.CrossDatasetMean, r.CrossDatasetStd, r.Range)
	}
}
