// Package climate maps gridded climate archives onto glacier locations,
// applying per-region lapse-rate and precipitation corrections.
package climate

import (
	"context"
	"errors"
	"fmt"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/store"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

// Variant is the closed set of archive kinds.
type Variant int

const (
	// RegionalDownscaled is a gap-free downscaled product in °C and mm/month.
	RegionalDownscaled Variant = iota
	// GlobalReanalysis is a gap-free reanalysis in K and m/day.
	GlobalReanalysis
	// StationBased is an interpolated station product that may have gaps.
	StationBased
)

func (v Variant) String() string {
	switch v {
	case RegionalDownscaled:
		return "regional-downscaled"
	case GlobalReanalysis:
		return "global-reanalysis"
	case StationBased:
		return "station-based"
	}
	return fmt.Sprintf("variant(%d)", int(v))
}

// AdapterVersion identifies the conversion rules applied by a variant.
func (v Variant) AdapterVersion() string {
	switch v {
	case RegionalDownscaled:
		return "cr2met-v2.5/1"
	case GlobalReanalysis:
		return "era5-monthly/1"
	case StationBased:
		return "cru-ts/1"
	}
	return ""
}

// VariantFor returns the variant that handles a dataset.
func VariantFor(id domain.DatasetID) (Variant, error) {
	switch id {
	case domain.DatasetCR2MET:
		return RegionalDownscaled, nil
	case domain.DatasetERA5:
		return GlobalReanalysis, nil
	case domain.DatasetCRU:
		return StationBased, nil
	}
	return 0, fmt.Errorf("%w: %q", domain.ErrUnknownDataset, id)
}

const kelvinOffset = 273.15

// toNative converts a raw cell value to °C and mm/month.
func (v Variant) toNative(ym domain.YearMonth, temp, prcp float64) (float64, float64) {
	switch v {
	case GlobalReanalysis:
		// Monthly means of daily totals in metres of water.
		return temp - kelvinOffset, prcp * 1000 * float64(ym.DaysIn())
	default:
		return temp, prcp
	}
}

// Adapter normalizes one dataset's archive.
type Adapter struct {
	dataset domain.DatasetID
	variant Variant
	reader  store.ClimateGridReader
}

// NewAdapter creates the adapter for dataset reading from reader.
func NewAdapter(dataset domain.DatasetID, reader store.ClimateGridReader) (*Adapter, error) {
	v, err := VariantFor(dataset)
	if err != nil {
		return nil, err
	}
	if reader == nil {
		return nil, fmt.Errorf("%s: grid reader is required", dataset)
	}
	return &Adapter{dataset: dataset, variant: v, reader: reader}, nil
}

// Dataset returns the dataset id.
func (a *Adapter) Dataset() domain.DatasetID { return a.dataset }

// Variant returns the adapter's variant.
func (a *Adapter) Variant() Variant { return a.variant }

// Version returns the adapter version stamped on normalized records.
func (a *Adapter) Version() string { return a.variant.AdapterVersion() }

// Normalize produces the corrected monthly series for glacier over period:
//
//	T = T_grid + lapse_rate * (glacier_elevation - cell_elevation)
//	P = P_grid * precip_scaling_factor
//
// When the archive has no elevation field, no lapse-rate correction is
// applied and the record is marked ElevationKnown=false.
func (a *Adapter) Normalize(ctx context.Context, g domain.Glacier, params domain.CalibrationParams, period domain.Period) (domain.NormalizedClimateRecord, error) {
	if err := period.Validate(); err != nil {
		return domain.NormalizedClimateRecord{}, err
	}
	if params.RegionID != g.RegionID {
		return domain.NormalizedClimateRecord{}, fmt.Errorf("glacier %s is in region %s, parameters are for %s", g.ID, g.RegionID, params.RegionID)
	}

	cell, err := a.reader.ReadCell(ctx, g.Point.Lat, g.Point.Lon, period)
	if err != nil {
		return domain.NormalizedClimateRecord{}, fmt.Errorf("glacier %s: %w", g.ID, err)
	}

	rec := domain.NormalizedClimateRecord{
		GlacierID:      g.ID,
		RegionID:       g.RegionID,
		DatasetID:      a.dataset,
		AdapterVersion: a.variant.AdapterVersion(),
		Period:         period,
		RefElevationM:  g.Point.ElevationM,
		GridElevationM: g.Point.ElevationM,
		ElevationKnown: cell.HasElevation,
		Series: domain.ClimateSeries{
			Point:  g.Point,
			Months: make([]domain.MonthlyClimate, 0, len(cell.Months)),
		},
	}
	dz := 0.0
	if cell.HasElevation {
		rec.GridElevationM = cell.ElevationM
		dz = g.Point.ElevationM - cell.ElevationM
	}

	for i, ym := range cell.Months {
		if cell.Missing[i] {
			if a.variant == StationBased {
				return domain.NormalizedClimateRecord{}, &domain.MissingDataError{DatasetID: a.dataset, GlacierID: g.ID, Month: ym}
			}
			return domain.NormalizedClimateRecord{}, &domain.CoverageError{
				DatasetID: a.dataset, GlacierID: g.ID,
				Want: period.NumMonths(), Got: len(cell.Months) - cell.MissingCount(),
				Detail: fmt.Sprintf("archive has no value for %s", ym),
			}
		}
		t, p := a.variant.toNative(ym, cell.Temp[i], cell.Prcp[i])
		rec.Series.Months = append(rec.Series.Months, domain.MonthlyClimate{
			Year:   ym.Year,
			Month:  int(ym.Month),
			TempC:  t + params.LapseRateCPerM*dz,
			PrcpMm: p * params.PrecipScalingFactor,
		})
	}

	if err := rec.Series.CheckSpan(period); err != nil {
		var cov *domain.CoverageError
		if errors.As(err, &cov) {
			cov.DatasetID, cov.GlacierID = a.dataset, g.ID
		}
		return domain.NormalizedClimateRecord{}, err
	}
	return rec, nil
}
