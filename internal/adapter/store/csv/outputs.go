package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

// Output file names inside a run directory.
const (
	ComparisonFile  = "regional_comparison.csv"
	UncertaintyFile = "uncertainty_report.csv"
)

// ClimateSummaryFile returns the climate summary file name for a dataset.
func ClimateSummaryFile(id domain.DatasetID) string {
	return "climate_summary_" + string(id) + ".csv"
}

// MassBalanceFile returns the mass-balance file name for a dataset.
func MassBalanceFile(id domain.DatasetID) string {
	return "mass_balance_" + string(id) + ".csv"
}

// WriteClimateSummaries writes one row per glacier.
func WriteClimateSummaries(w io.Writer, rows []domain.ClimateSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"glacier_id", "region_id", "dataset_id", "mean_temp_c", "mean_prcp_mm", "grid_elevation_m"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			r.GlacierID, r.RegionID, string(r.DatasetID),
			formatFloat(r.MeanTempC), formatFloat(r.MeanPrcpMm), formatFloat(r.GridElevationM),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMassBalances writes one row per glacier and year.
func WriteMassBalances(w io.Writer, series []domain.SimulatedMassBalance) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"glacier_id", "region_id", "dataset_id", "year", "mass_balance_mm_we"}); err != nil {
		return err
	}
	for _, s := range series {
		for _, y := range s.Years {
			if err := cw.Write([]string{
				s.GlacierID, s.RegionID, string(s.DatasetID),
				strconv.Itoa(y.Year), formatFloat(y.MassBalanceMmWE),
			}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadMassBalances parses a mass-balance table back into per-glacier series,
// ordered by glacier id. A (glacier, year) pair may appear only once.
func ReadMassBalances(r io.Reader) ([]domain.SimulatedMassBalance, error) {
	rd, err := newReader(r)
	if err != nil {
		return nil, err
	}
	var idx [5]int
	for i, name := range []string{"glacier_id", "region_id", "dataset_id", "year", "mass_balance_mm_we"} {
		if idx[i], err = rd.h.require(name); err != nil {
			return nil, fmt.Errorf("mass balance: %w", err)
		}
	}

	type glacierYear struct {
		id   string
		year int
	}
	byGlacier := make(map[string]*domain.SimulatedMassBalance)
	seen := make(map[glacierYear]bool)
	for {
		record, err := rd.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("mass balance: %w", err)
		}
		id := field(record, idx[0])
		dataset, err := domain.ParseDatasetID(field(record, idx[2]))
		if err != nil {
			return nil, fmt.Errorf("mass balance: line %d: %w", rd.line, err)
		}
		year, err := strconv.Atoi(field(record, idx[3]))
		if err != nil {
			return nil, fmt.Errorf("mass balance: line %d: invalid year: %w", rd.line, err)
		}
		mb, err := parseFloat(record, idx[4], "mass_balance_mm_we", rd.line)
		if err != nil {
			return nil, fmt.Errorf("mass balance: %w", err)
		}
		if seen[glacierYear{id, year}] {
			return nil, fmt.Errorf("mass balance: line %d: duplicate year %d for glacier %s", rd.line, year, id)
		}
		seen[glacierYear{id, year}] = true
		s, ok := byGlacier[id]
		if !ok {
			s = &domain.SimulatedMassBalance{GlacierID: id, RegionID: field(record, idx[1]), DatasetID: dataset}
			byGlacier[id] = s
		}
		s.Years = append(s.Years, domain.AnnualBalance{Year: year, MassBalanceMmWE: mb})
	}

	out := make([]domain.SimulatedMassBalance, 0, len(byGlacier))
	for _, s := range byGlacier {
		sort.Slice(s.Years, func(i, j int) bool { return s.Years[i].Year < s.Years[j].Year })
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GlacierID < out[j].GlacierID })
	return out, nil
}

var comparisonHeader = []string{
	"region_id", "dataset_id", "n_glaciers", "n_excluded", "area_covered_km2", "rgi_area_km2",
	"rgi_glacier_count", "coverage_pct", "gmb_mean", "gmb_std", "smb_mean", "difference",
	"within_uncertainty", "glacier_spread",
}

// WriteComparisons writes one row per region and dataset.
func WriteComparisons(w io.Writer, rows []domain.RegionalComparison) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(comparisonHeader); err != nil {
		return err
	}
	for _, c := range rows {
		if err := cw.Write([]string{
			c.RegionID, string(c.DatasetID), strconv.Itoa(c.NGlaciers), strconv.Itoa(c.NExcluded),
			formatFloat(c.AreaCoveredKm2), formatFloat(c.RGIAreaKm2), strconv.Itoa(c.RGIGlacierCount),
			formatFloat(c.CoveragePct), formatFloat(c.GMBMean), formatFloat(c.GMBStd),
			formatFloat(c.SMBMean), formatFloat(c.Difference), strconv.FormatBool(c.WithinUncertainty),
			formatFloat(c.GlacierSpread),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadComparisons parses a regional comparison table.
func ReadComparisons(r io.Reader) ([]domain.RegionalComparison, error) {
	rd, err := newReader(r)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]int, len(comparisonHeader))
	for _, name := range comparisonHeader {
		i, err := rd.h.require(name)
		if err != nil {
			return nil, fmt.Errorf("comparison: %w", err)
		}
		idx[name] = i
	}

	var out []domain.RegionalComparison
	for {
		record, err := rd.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("comparison: %w", err)
		}
		c := domain.RegionalComparison{RegionID: field(record, idx["region_id"])}
		if c.DatasetID, err = domain.ParseDatasetID(field(record, idx["dataset_id"])); err != nil {
			return nil, fmt.Errorf("comparison: line %d: %w", rd.line, err)
		}
		ints := []struct {
			name string
			dst  *int
		}{
			{"n_glaciers", &c.NGlaciers},
			{"n_excluded", &c.NExcluded},
			{"rgi_glacier_count", &c.RGIGlacierCount},
		}
		for _, f := range ints {
			if *f.dst, err = strconv.Atoi(field(record, idx[f.name])); err != nil {
				return nil, fmt.Errorf("comparison: line %d: invalid %s: %w", rd.line, f.name, err)
			}
		}
		floats := []struct {
			name string
			dst  *float64
		}{
			{"area_covered_km2", &c.AreaCoveredKm2},
			{"rgi_area_km2", &c.RGIAreaKm2},
			{"coverage_pct", &c.CoveragePct},
			{"gmb_mean", &c.GMBMean},
			{"gmb_std", &c.GMBStd},
			{"smb_mean", &c.SMBMean},
			{"difference", &c.Difference},
			{"glacier_spread", &c.GlacierSpread},
		}
		for _, f := range floats {
			if *f.dst, err = parseFloat(record, idx[f.name], f.name, rd.line); err != nil {
				return nil, fmt.Errorf("comparison: %w", err)
			}
		}
		if c.WithinUncertainty, err = strconv.ParseBool(field(record, idx["within_uncertainty"])); err != nil {
			return nil, fmt.Errorf("comparison: line %d: invalid within_uncertainty: %w", rd.line, err)
		}
		out = append(out, c)
	}
	return out, nil
}

const smbMeanPrefix = "smb_mean_"
const biasPrefix = "bias_"

// WriteUncertainty writes one row per region. Per-dataset means and biases
// are written to smb_mean_<dataset> and bias_<dataset> columns for every
// dataset present in any report; cells are empty when a region lacks one.
func WriteUncertainty(w io.Writer, reports []domain.UncertaintyReport) error {
	var datasets []domain.DatasetID
	seen := make(map[domain.DatasetID]bool)
	for _, r := range reports {
		for _, id := range r.Datasets() {
			if !seen[id] {
				seen[id] = true
				datasets = append(datasets, id)
			}
		}
	}
	sortDatasets(datasets)

	head := []string{"region_id"}
	for _, id := range datasets {
		head = append(head, smbMeanPrefix+string(id))
	}
	head = append(head, "cross_dataset_mean", "cross_dataset_std", "range", "gmb_mean", "gmb_std", "mean_glacier_spread")
	for _, id := range datasets {
		head = append(head, biasPrefix+string(id))
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(head); err != nil {
		return err
	}
	for _, r := range reports {
		row := []string{r.RegionID}
		for _, id := range datasets {
			row = append(row, optionalFloat(r.PerDatasetMean, id))
		}
		row = append(row,
			formatFloat(r.CrossDatasetMean), formatFloat(r.CrossDatasetStd), formatFloat(r.Range),
			formatFloat(r.GMBMean), formatFloat(r.GMBStd), formatFloat(r.MeanGlacierSpread))
		for _, id := range datasets {
			row = append(row, optionalFloat(r.PerDatasetBias, id))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func optionalFloat(m map[domain.DatasetID]float64, id domain.DatasetID) string {
	if v, ok := m[id]; ok {
		return formatFloat(v)
	}
	return ""
}

// sortDatasets orders ids the way AllDatasets does, unknown ids last.
func sortDatasets(ids []domain.DatasetID) {
	rank := make(map[domain.DatasetID]int)
	for i, id := range domain.AllDatasets() {
		rank[id] = i + 1
	}
	sort.SliceStable(ids, func(i, j int) bool {
		ri, rj := rank[ids[i]], rank[ids[j]]
		if ri == 0 || rj == 0 {
			if ri == rj {
				return ids[i] < ids[j]
			}
			return rj == 0
		}
		return ri < rj
	})
}

// ReadUncertainty parses an uncertainty report table.
func ReadUncertainty(r io.Reader) ([]domain.UncertaintyReport, error) {
	rd, err := newReader(r)
	if err != nil {
		return nil, err
	}
	iRegion, err := rd.h.require("region_id")
	if err != nil {
		return nil, fmt.Errorf("uncertainty: %w", err)
	}
	fixed := []string{"cross_dataset_mean", "cross_dataset_std", "range", "gmb_mean", "gmb_std", "mean_glacier_spread"}
	idx := make(map[string]int, len(fixed))
	for _, name := range fixed {
		i, err := rd.h.require(name)
		if err != nil {
			return nil, fmt.Errorf("uncertainty: %w", err)
		}
		idx[name] = i
	}
	means := make(map[domain.DatasetID]int)
	biases := make(map[domain.DatasetID]int)
	for name, i := range rd.h {
		switch {
		case strings.HasPrefix(name, smbMeanPrefix):
			id, err := domain.ParseDatasetID(strings.TrimPrefix(name, smbMeanPrefix))
			if err != nil {
				return nil, fmt.Errorf("uncertainty: column %s: %w", name, err)
			}
			means[id] = i
		case strings.HasPrefix(name, biasPrefix):
			id, err := domain.ParseDatasetID(strings.TrimPrefix(name, biasPrefix))
			if err != nil {
				return nil, fmt.Errorf("uncertainty: column %s: %w", name, err)
			}
			biases[id] = i
		}
	}

	var out []domain.UncertaintyReport
	for {
		record, err := rd.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("uncertainty: %w", err)
		}
		rep := domain.UncertaintyReport{
			RegionID:       field(record, iRegion),
			PerDatasetMean: make(map[domain.DatasetID]float64),
			PerDatasetBias: make(map[domain.DatasetID]float64),
		}
		for id, i := range means {
			if field(record, i) == "" {
				continue
			}
			if rep.PerDatasetMean[id], err = parseFloat(record, i, smbMeanPrefix+string(id), rd.line); err != nil {
				return nil, fmt.Errorf("uncertainty: %w", err)
			}
		}
		for id, i := range biases {
			if field(record, i) == "" {
				continue
			}
			if rep.PerDatasetBias[id], err = parseFloat(record, i, biasPrefix+string(id), rd.line); err != nil {
				return nil, fmt.Errorf("uncertainty: %w", err)
			}
		}
		for name, dst := range map[string]*float64{
			"cross_dataset_mean":  &rep.CrossDatasetMean,
			"cross_dataset_std":   &rep.CrossDatasetStd,
			"range":               &rep.Range,
			"gmb_mean":            &rep.GMBMean,
			"gmb_std":             &rep.GMBStd,
			"mean_glacier_spread": &rep.MeanGlacierSpread,
		} {
			if *dst, err = parseFloat(record, idx[name], name, rd.line); err != nil {
				return nil, fmt.Errorf("uncertainty: %w", err)
			}
		}
		out = append(out, rep)
	}
	return out, nil
}

// WriteFile creates path atomically by writing to a temporary file in the
// same directory and renaming it.
func WriteFile(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename into %s: %w", path, err)
	}
	return nil
}

// ReadFile opens path and decodes it with read.
func ReadFile[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	var out T
	err := withFile(path, func(r io.Reader) (err error) {
		out, err = read(r)
		return err
	})
	return out, err
}
