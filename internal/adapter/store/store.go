package store

import (
	"context"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

// CellSeries is the raw monthly record of one grid cell, in the archive's
// native units. Values for months flagged Missing are NaN.
type CellSeries struct {
	Lat          float64 // Cell centre latitude.
	Lon          float64 // Cell centre longitude, as stored on the axis.
	ElevationM   float64
	HasElevation bool
	Months       []domain.YearMonth
	Temp         []float64
	Prcp         []float64
	Missing      []bool
}

// MissingCount returns the number of months flagged missing.
func (c CellSeries) MissingCount() int {
	n := 0
	for _, m := range c.Missing {
		if m {
			n++
		}
	}
	return n
}

// ClimateGridReader is the interface for reading gridded monthly climate archives.
type ClimateGridReader interface {
	// ReadCell returns the nearest cell's series for every month of period.
	// It fails with *domain.OutOfRangeError when period extends beyond the
	// archive's time axis.
	ReadCell(ctx context.Context, lat, lon float64, period domain.Period) (CellSeries, error)

	// Coverage returns the first and last month on the archive's time axis.
	Coverage() (domain.YearMonth, domain.YearMonth, error)

	// Close releases resources.
	Close() error
}
