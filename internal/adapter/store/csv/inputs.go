package csv

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

// ReadInventory parses a glacier inventory. Accepted columns:
// glacier_id|RGIId, region_id|Cluster, lat|CenLat, lon|CenLon,
// elevation_m|Zmed, area_km2|Area.
func ReadInventory(r io.Reader) ([]domain.Glacier, error) {
	rd, err := newReader(r)
	if err != nil {
		return nil, err
	}
	cols := map[string][]string{
		"glacier_id":  {"glacier_id", "rgiid"},
		"region_id":   {"region_id", "cluster"},
		"lat":         {"lat", "cenlat"},
		"lon":         {"lon", "cenlon"},
		"elevation_m": {"elevation_m", "zmed"},
		"area_km2":    {"area_km2", "area"},
	}
	idx := make(map[string]int, len(cols))
	for name, aliases := range cols {
		i, err := rd.h.require(aliases...)
		if err != nil {
			return nil, fmt.Errorf("inventory: %w", err)
		}
		idx[name] = i
	}

	var glaciers []domain.Glacier
	seen := make(map[string]bool)
	for {
		record, err := rd.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("inventory: %w", err)
		}

		g := domain.Glacier{
			ID:       field(record, idx["glacier_id"]),
			RegionID: normalizeRegion(field(record, idx["region_id"])),
		}
		for _, c := range []struct {
			name string
			dst  *float64
		}{
			{"lat", &g.Point.Lat},
			{"lon", &g.Point.Lon},
			{"elevation_m", &g.Point.ElevationM},
			{"area_km2", &g.AreaKm2},
		} {
			v, err := parseFloat(record, idx[c.name], c.name, rd.line)
			if err != nil {
				return nil, fmt.Errorf("inventory: %w", err)
			}
			*c.dst = v
		}
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("inventory: line %d: %w", rd.line, err)
		}
		if seen[g.ID] {
			return nil, fmt.Errorf("inventory: line %d: duplicate glacier %s", rd.line, g.ID)
		}
		seen[g.ID] = true
		glaciers = append(glaciers, g)
	}
	if len(glaciers) == 0 {
		return nil, fmt.Errorf("inventory: no glaciers found")
	}
	return glaciers, nil
}

// ReadCalibration parses per-region parameters. Accepted columns:
// region_id|Cluster, lapse_rate|LR, precip_scaling_factor|Pf.
func ReadCalibration(r io.Reader) ([]domain.CalibrationParams, error) {
	rd, err := newReader(r)
	if err != nil {
		return nil, err
	}
	iRegion, err := rd.h.require("region_id", "cluster")
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	iLR, err := rd.h.require("lapse_rate", "lr")
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	iPf, err := rd.h.require("precip_scaling_factor", "pf")
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}

	var params []domain.CalibrationParams
	for {
		record, err := rd.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("calibration: %w", err)
		}
		lr, err := parseFloat(record, iLR, "lapse_rate", rd.line)
		if err != nil {
			return nil, fmt.Errorf("calibration: %w", err)
		}
		pf, err := parseFloat(record, iPf, "precip_scaling_factor", rd.line)
		if err != nil {
			return nil, fmt.Errorf("calibration: %w", err)
		}
		params = append(params, domain.CalibrationParams{
			RegionID:            normalizeRegion(field(record, iRegion)),
			LapseRateCPerM:      lr,
			PrecipScalingFactor: pf,
		})
	}
	return params, nil
}

// GeodeticReferencePeriodLabel is the period value of rows kept from a
// geodetic file that carries several periods.
const GeodeticReferencePeriodLabel = "2000-01-01_2020-01-01"

// ReadGeodetic parses observed balances keyed by glacier id. Accepted
// columns: glacier_id|rgiid, gmb_mean_mm_we_per_yr|dmdtda,
// gmb_std|err_dmdtda, and optional area_km2 and period. Rows whose period
// is not the reference period are skipped. The dmdtda columns are in
// m w.e. per year and are converted to mm; the gmb columns are already mm.
func ReadGeodetic(r io.Reader) (map[string]domain.GeodeticObservation, error) {
	rd, err := newReader(r)
	if err != nil {
		return nil, err
	}
	iID, err := rd.h.require("glacier_id", "rgiid")
	if err != nil {
		return nil, fmt.Errorf("geodetic: %w", err)
	}
	iMean, err := rd.h.require("gmb_mean_mm_we_per_yr", "dmdtda")
	if err != nil {
		return nil, fmt.Errorf("geodetic: %w", err)
	}
	iStd, err := rd.h.require("gmb_std", "err_dmdtda")
	if err != nil {
		return nil, fmt.Errorf("geodetic: %w", err)
	}
	iArea, hasArea := rd.h.index("area_km2")
	iPeriod, hasPeriod := rd.h.index("period")

	meanScale := rd.h.scale(iMean, "dmdtda", 1000)
	stdScale := rd.h.scale(iStd, "err_dmdtda", 1000)

	out := make(map[string]domain.GeodeticObservation)
	for {
		record, err := rd.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("geodetic: %w", err)
		}
		if hasPeriod && field(record, iPeriod) != GeodeticReferencePeriodLabel {
			continue
		}
		obs := domain.GeodeticObservation{GlacierID: field(record, iID)}
		if obs.GlacierID == "" {
			return nil, fmt.Errorf("geodetic: line %d: empty glacier id", rd.line)
		}
		if obs.MeanMmWE, err = parseFloat(record, iMean, "gmb_mean", rd.line); err != nil {
			return nil, fmt.Errorf("geodetic: %w", err)
		}
		if obs.StdMmWE, err = parseFloat(record, iStd, "gmb_std", rd.line); err != nil {
			return nil, fmt.Errorf("geodetic: %w", err)
		}
		obs.MeanMmWE *= meanScale
		obs.StdMmWE *= stdScale
		if hasArea && field(record, iArea) != "" {
			if obs.AreaKm2, err = parseFloat(record, iArea, "area_km2", rd.line); err != nil {
				return nil, fmt.Errorf("geodetic: %w", err)
			}
		}
		if _, dup := out[obs.GlacierID]; dup {
			return nil, fmt.Errorf("geodetic: line %d: duplicate glacier %s", rd.line, obs.GlacierID)
		}
		out[obs.GlacierID] = obs
	}
	return out, nil
}

// LoadInventory reads an inventory file.
func LoadInventory(path string) ([]domain.Glacier, error) {
	var out []domain.Glacier
	err := withFile(path, func(r io.Reader) (err error) {
		out, err = ReadInventory(r)
		return err
	})
	return out, err
}

// LoadCalibration reads a calibration file.
func LoadCalibration(path string) ([]domain.CalibrationParams, error) {
	var out []domain.CalibrationParams
	err := withFile(path, func(r io.Reader) (err error) {
		out, err = ReadCalibration(r)
		return err
	})
	return out, err
}

// LoadGeodetic reads a geodetic reference file.
func LoadGeodetic(path string) (map[string]domain.GeodeticObservation, error) {
	var out map[string]domain.GeodeticObservation
	err := withFile(path, func(r io.Reader) (err error) {
		out, err = ReadGeodetic(r)
		return err
	})
	return out, err
}

func withFile(path string, fn func(io.Reader) error) error {
	//nolint:gosec // G304: Path comes from run configuration.
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	if err := fn(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
