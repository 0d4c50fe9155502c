// Command glacierunc runs glacier mass-balance simulations under several
// climate forcing datasets and reports the spread of the regional results.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/config"
)

const version = "0.1.0"

// Root is the top-level command.
var Root = &cobra.Command{
	Use:           "glacierunc",
	Short:         "Climate forcing uncertainty for glacier mass balance.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `glacierunc forces a glacier mass-balance model with several climate
datasets (CR2MET, ERA5, CRU), compares the simulated regional balance with
the geodetic reference and reports the cross-dataset spread.

Configuration is read from the environment (and a .env file in the working
directory); flags override it.`,
}

func init() {
	f := Root.PersistentFlags()
	f.String("datasets", "", "comma-separated datasets (overrides BASELINE_CLIMATE)")
	f.Int("start-year", 0, "first simulated year (overrides START_YEAR)")
	f.Int("end-year", 0, "last simulated year, inclusive (overrides END_YEAR)")
	f.String("output", "", "output directory (overrides OUTPUT_DIR)")
	f.String("log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")

	Root.AddCommand(runCmd, fetchCmd, compareCmd)
}

// flagOverrides turns the flags set on the command line into config overrides.
func flagOverrides(flags *pflag.FlagSet) []config.Override {
	var out []config.Override
	if flags.Changed("datasets") {
		v, _ := flags.GetString("datasets")
		out = append(out, func(c *config.Config) { c.BaselineClimate = strings.Split(v, ",") })
	}
	if flags.Changed("start-year") {
		v, _ := flags.GetInt("start-year")
		out = append(out, func(c *config.Config) { c.StartYear = v })
	}
	if flags.Changed("end-year") {
		v, _ := flags.GetInt("end-year")
		out = append(out, func(c *config.Config) { c.EndYear = v })
	}
	if flags.Changed("output") {
		v, _ := flags.GetString("output")
		out = append(out, func(c *config.Config) { c.OutputDir = v })
	}
	if flags.Changed("log-level") {
		v, _ := flags.GetString("log-level")
		out = append(out, func(c *config.Config) { c.LogLevel = v })
	}
	if flags.Lookup("workers") != nil && flags.Changed("workers") {
		v, _ := flags.GetInt("workers")
		out = append(out, func(c *config.Config) { c.Workers = v })
	}
	if flags.Lookup("sequential") != nil && flags.Changed("sequential") {
		v, _ := flags.GetBool("sequential")
		out = append(out, func(c *config.Config) { c.UseParallel = !v })
	}
	return out
}

func main() {
	if err := Root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
