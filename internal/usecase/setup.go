package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/fetch"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/store/archive"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/climate"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/config"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

// ArchiveFiles returns the NetCDF file layout configured for a dataset.
func ArchiveFiles(cfg *config.Config, id domain.DatasetID) archive.FileConfig {
	a := cfg.Archives
	fc := archive.FileConfig{Dataset: id, Names: archive.DefaultVarNames()}
	switch id {
	case domain.DatasetCR2MET:
		fc.TempPath, fc.PrcpPath, fc.ElevationPath = a.CR2METTempPath, a.CR2METPrcpPath, a.CR2METElevationPath
	case domain.DatasetERA5:
		fc.TempPath, fc.ElevationPath = a.ERA5Path, a.ERA5ElevationPath
		fc.GeopotentialElevation = a.ERA5Geopotential
	case domain.DatasetCRU:
		fc.TempPath, fc.PrcpPath, fc.ElevationPath = a.CRUTempPath, a.CRUPrcpPath, a.CRUElevationPath
	}
	return fc
}

type download struct {
	url, dest string
}

func downloads(cfg *config.Config, id domain.DatasetID) []download {
	a := cfg.Archives
	var out []download
	add := func(url, dest string) {
		if url != "" && dest != "" {
			out = append(out, download{url: url, dest: dest})
		}
	}
	switch id {
	case domain.DatasetERA5:
		add(a.ERA5URL, a.ERA5Path)
		add(a.ERA5ElevationURL, a.ERA5ElevationPath)
	case domain.DatasetCRU:
		add(a.CRUTempURL, a.CRUTempPath)
		add(a.CRUPrcpURL, a.CRUPrcpPath)
	}
	return out
}

// FetchArchives downloads every configured archive URL whose destination
// is missing. Datasets without URLs are left alone.
func FetchArchives(ctx context.Context, cfg *config.Config, f *fetch.Fetcher, logger *slog.Logger) error {
	for _, id := range cfg.Datasets() {
		for _, d := range downloads(cfg, id) {
			fetched, err := f.Ensure(ctx, id, d.url, d.dest)
			if err != nil {
				return fmt.Errorf("fetch %s archive: %w", id, err)
			}
			if fetched {
				logger.Info("archive downloaded", "dataset", string(id), "path", d.dest)
			}
		}
	}
	return nil
}

// OpenAdapters opens the archive of every selected dataset and wraps it in
// its climate adapter. The returned close function releases all archives.
func OpenAdapters(cfg *config.Config) ([]Normalizer, func() error, error) {
	var (
		out    []Normalizer
		stores []*archive.Store
	)
	closeAll := func() error {
		var errs []error
		for _, s := range stores {
			errs = append(errs, s.Close())
		}
		return errors.Join(errs...)
	}
	for _, id := range cfg.Datasets() {
		s := archive.NewStore(ArchiveFiles(cfg, id))
		stores = append(stores, s)
		// Opening the time axes now surfaces a bad path before any unit runs.
		if _, _, err := s.Coverage(); err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("open %s archive: %w", id, err)
		}
		a, err := climate.NewAdapter(id, s)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		out = append(out, a)
	}
	return out, closeAll, nil
}
