package domain

import (
	"fmt"
	"time"
)

// MonthlyClimate is one month of forcing at a glacier.
type MonthlyClimate struct {
	Year   int
	Month  int
	TempC  float64
	PrcpMm float64
}

// YearMonth returns the calendar month of the value.
func (m MonthlyClimate) YearMonth() YearMonth {
	return YearMonth{Year: m.Year, Month: time.Month(m.Month)}
}

// ClimateSeries is a gap-free monthly series at one point.
type ClimateSeries struct {
	Point  GridPoint
	Months []MonthlyClimate
}

// CheckSpan verifies that the series covers period exactly: one entry per
// month, in order, with no duplicates and no gaps.
func (s ClimateSeries) CheckSpan(p Period) error {
	want := p.NumMonths()
	if len(s.Months) != want {
		return &CoverageError{Want: want, Got: len(s.Months), Detail: "month count does not match period " + p.String()}
	}
	expected := p.First()
	for i, m := range s.Months {
		if m.Year != expected.Year || m.Month != int(expected.Month) {
			return &CoverageError{
				Want:   want,
				Got:    i,
				Detail: fmt.Sprintf("expected %s at position %d, found %04d-%02d", expected, i, m.Year, m.Month),
			}
		}
		expected = expected.Next()
	}
	return nil
}

// CalibrationParams holds the per-region correction factors.
type CalibrationParams struct {
	RegionID            string
	LapseRateCPerM      float64
	PrecipScalingFactor float64
}

// Validate rejects a precipitation factor that is not positive.
func (c CalibrationParams) Validate() error {
	if c.RegionID == "" {
		return fmt.Errorf("calibration: region id is required")
	}
	if c.PrecipScalingFactor <= 0 {
		return fmt.Errorf("calibration: region %s: precipitation factor must be positive, got %g", c.RegionID, c.PrecipScalingFactor)
	}
	return nil
}

// NormalizedClimateRecord is the adapter output handed to the simulation service.
type NormalizedClimateRecord struct {
	GlacierID      string
	RegionID       string
	DatasetID      DatasetID
	AdapterVersion string
	Period         Period
	GridElevationM float64
	RefElevationM  float64
	// ElevationKnown is false when the archive carries no surface elevation
	// and no lapse-rate correction was applied.
	ElevationKnown bool
	Series         ClimateSeries
}

// ClimateSummary is the per-glacier row of the climate summary table.
type ClimateSummary struct {
	GlacierID      string
	RegionID       string
	DatasetID      DatasetID
	MeanTempC      float64
	MeanPrcpMm     float64
	GridElevationM float64
}

// Summary returns mean temperature and mean monthly precipitation.
func (r NormalizedClimateRecord) Summary() ClimateSummary {
	out := ClimateSummary{
		GlacierID:      r.GlacierID,
		RegionID:       r.RegionID,
		DatasetID:      r.DatasetID,
		GridElevationM: r.GridElevationM,
	}
	n := len(r.Series.Months)
	if n == 0 {
		return out
	}
	var t, p float64
	for _, m := range r.Series.Months {
		t += m.TempC
		p += m.PrcpMm
	}
	out.MeanTempC = t / float64(n)
	out.MeanPrcpMm = p / float64(n)
	return out
}
