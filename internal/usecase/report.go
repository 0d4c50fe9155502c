package usecase

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	csvstore "github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/store/csv"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/climate"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

// ErrNoReport is returned when the output directory does not hold the
// requested file yet.
var ErrNoReport = errors.New("report not available")

// DatasetInfo describes a supported dataset.
type DatasetInfo struct {
	ID             domain.DatasetID `json:"id"`
	Variant        string           `json:"variant"`
	AdapterVersion string           `json:"adapter_version"`
}

// ReportService serves the outputs of a completed run from its directory.
// Files are read on every call, so a run finishing later is picked up.
type ReportService struct {
	dir string
}

// NewReportService creates a ReportService for dir.
func NewReportService(dir string) *ReportService {
	return &ReportService{dir: dir}
}

// Datasets lists the supported datasets and their adapter versions.
func (s *ReportService) Datasets() []DatasetInfo {
	out := make([]DatasetInfo, 0, len(domain.AllDatasets()))
	for _, id := range domain.AllDatasets() {
		v, err := climate.VariantFor(id)
		if err != nil {
			continue
		}
		out = append(out, DatasetInfo{ID: id, Variant: v.String(), AdapterVersion: v.AdapterVersion()})
	}
	return out
}

// Comparisons returns the regional comparisons, optionally filtered by
// region and dataset (empty means any).
func (s *ReportService) Comparisons(regionID string, dataset domain.DatasetID) ([]domain.RegionalComparison, error) {
	rows, err := readReport(s.path(csvstore.ComparisonFile), csvstore.ReadComparisons)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RegionalComparison, 0, len(rows))
	for _, r := range rows {
		if regionID != "" && r.RegionID != regionID {
			continue
		}
		if dataset != "" && r.DatasetID != dataset {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Uncertainty returns the uncertainty reports, optionally for one region.
func (s *ReportService) Uncertainty(regionID string) ([]domain.UncertaintyReport, error) {
	reports, err := readReport(s.path(csvstore.UncertaintyFile), csvstore.ReadUncertainty)
	if err != nil {
		return nil, err
	}
	if regionID == "" {
		return reports, nil
	}
	out := make([]domain.UncertaintyReport, 0, 1)
	for _, r := range reports {
		if r.RegionID == regionID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Manifest returns the run manifest.
func (s *ReportService) Manifest() (*Manifest, error) {
	return readReport(s.path(ManifestFile), ReadManifest)
}

// Ready reports whether the directory holds a finished run.
func (s *ReportService) Ready() bool {
	_, err := os.Stat(s.path(ManifestFile))
	return err == nil
}

func (s *ReportService) path(name string) string {
	return filepath.Join(s.dir, name)
}

func readReport[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	out, err := csvstore.ReadFile(path, read)
	if errors.Is(err, fs.ErrNotExist) {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNoReport, filepath.Base(path))
	}
	return out, err
}
