package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/config"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/usecase"
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Recompute comparisons and the uncertainty report from existing mass-balance files.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		// The simulation period is not needed here; default it to the
		// reference period so START_YEAR and END_YEAR may be unset.
		overrides := append([]config.Override{func(c *config.Config) {
			if c.StartYear == 0 && c.EndYear == 0 {
				c.StartYear, c.EndYear = c.RefStartYear, c.RefEndYear
			}
		}}, flagOverrides(cmd.Flags())...)

		cfg, err := config.Load(overrides...)
		if err != nil {
			return err
		}
		inputs, err := usecase.LoadInputs(inputPaths(cfg))
		if err != nil {
			return err
		}
		res, err := usecase.Recompare(cfg.OutputDir, inputs, cfg.Datasets(), cfg.ReferencePeriod())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d comparisons, %d regional reports, %d exclusions written to %s\n",
			len(res.Comparisons), len(res.Reports), len(res.Excluded), cfg.OutputDir)
		return nil
	},
}
