package usecase

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	csvstore "github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/store/csv"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/climate"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/compare"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/observability"
)

// InputPaths locates the tabular inputs.
type InputPaths struct {
	Inventory   string
	Calibration string
	Geodetic    string
}

// LoadInputs reads and validates the inventory, calibration table and
// geodetic reference.
func LoadInputs(p InputPaths) (Inputs, error) {
	glaciers, err := csvstore.LoadInventory(p.Inventory)
	if err != nil {
		return Inputs{}, fmt.Errorf("inventory: %w", err)
	}
	params, err := csvstore.LoadCalibration(p.Calibration)
	if err != nil {
		return Inputs{}, fmt.Errorf("calibration: %w", err)
	}
	table, err := climate.NewCalibrationTable(params)
	if err != nil {
		return Inputs{}, fmt.Errorf("calibration: %w", err)
	}
	geodetic, err := csvstore.LoadGeodetic(p.Geodetic)
	if err != nil {
		return Inputs{}, fmt.Errorf("geodetic reference: %w", err)
	}
	return Inputs{Glaciers: glaciers, Calibration: table, Geodetic: geodetic}, nil
}

// WriteOutputs writes every output file of result into dir. The manifest is
// written last so its presence marks a complete directory.
func WriteOutputs(dir string, result *RunResult) error {
	for _, ds := range result.Manifest.Datasets {
		rows := result.Climate[ds]
		if err := csvstore.WriteFile(filepath.Join(dir, csvstore.ClimateSummaryFile(ds)), func(w io.Writer) error {
			return csvstore.WriteClimateSummaries(w, rows)
		}); err != nil {
			return err
		}
		series := result.Balances[ds]
		if err := csvstore.WriteFile(filepath.Join(dir, csvstore.MassBalanceFile(ds)), func(w io.Writer) error {
			return csvstore.WriteMassBalances(w, series)
		}); err != nil {
			return err
		}
	}
	if !result.Manifest.Canceled {
		if err := csvstore.WriteFile(filepath.Join(dir, csvstore.ComparisonFile), func(w io.Writer) error {
			return csvstore.WriteComparisons(w, result.Comparisons)
		}); err != nil {
			return err
		}
		if err := csvstore.WriteFile(filepath.Join(dir, csvstore.UncertaintyFile), func(w io.Writer) error {
			return csvstore.WriteUncertainty(w, result.Reports)
		}); err != nil {
			return err
		}
	}
	return csvstore.WriteFile(filepath.Join(dir, ManifestFile), func(w io.Writer) error {
		return WriteManifest(w, &result.Manifest)
	})
}

// CompareResult is the product of Recompare.
type CompareResult struct {
	Comparisons []domain.RegionalComparison
	Reports     []domain.UncertaintyReport
	Excluded    []Exclusion
}

// Recompare rebuilds the regional comparisons and uncertainty reports from
// the mass-balance files already in dir, without running any simulation.
// Datasets whose file is absent are skipped. The results are written back
// into dir.
func Recompare(dir string, inputs Inputs, datasets []domain.DatasetID, reference domain.Period) (*CompareResult, error) {
	if err := reference.Validate(); err != nil {
		return nil, fmt.Errorf("reference period: %w", err)
	}
	balances := make(map[domain.DatasetID][]domain.SimulatedMassBalance, len(datasets))
	var found []domain.DatasetID
	for _, ds := range datasets {
		series, err := csvstore.ReadFile(filepath.Join(dir, csvstore.MassBalanceFile(ds)), csvstore.ReadMassBalances)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		balances[ds] = series
		found = append(found, ds)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no mass-balance files in %s", dir)
	}

	r := &Runner{
		aggregator: compare.Aggregator{Reference: reference},
		logger:     observability.DiscardLogger(),
		metrics:    observability.NewMetricsForTesting(),
	}
	comparisons, reports, excluded := r.summarize(RunRequest{Inputs: inputs, Datasets: found}, balances, nil)

	if err := csvstore.WriteFile(filepath.Join(dir, csvstore.ComparisonFile), func(w io.Writer) error {
		return csvstore.WriteComparisons(w, comparisons)
	}); err != nil {
		return nil, err
	}
	if err := csvstore.WriteFile(filepath.Join(dir, csvstore.UncertaintyFile), func(w io.Writer) error {
		return csvstore.WriteUncertainty(w, reports)
	}); err != nil {
		return nil, err
	}
	return &CompareResult{Comparisons: comparisons, Reports: reports, Excluded: excluded}, nil
}
