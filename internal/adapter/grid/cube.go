package grid

import (
	"context"
	"fmt"
	"math"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/store"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

// Cube is an in-memory monthly climate archive on a regular lat/lon grid.
type Cube struct {
	Dataset domain.DatasetID
	Lat     []float64 // Latitudes, ascending or descending.
	Lon     []float64 // Longitudes, ascending.
	Times   []domain.YearMonth
	// Temp and Prcp are indexed [time][lat][lon]. NaN marks a missing value.
	Temp [][][]float64
	Prcp [][][]float64
	// Elevation is indexed [lat][lon]; nil when the archive has none.
	Elevation [][]float64
}

var _ store.ClimateGridReader = (*Cube)(nil)

// Validate checks array shapes against the axes.
func (c *Cube) Validate() error {
	if len(c.Lat) == 0 || len(c.Lon) == 0 {
		return fmt.Errorf("grid must have at least one latitude and longitude")
	}
	if len(c.Times) == 0 {
		return fmt.Errorf("grid must have at least one time step")
	}
	for i := 1; i < len(c.Times); i++ {
		if !c.Times[i-1].Before(c.Times[i]) {
			return fmt.Errorf("time axis must be strictly increasing at %s", c.Times[i])
		}
	}
	for name, v := range map[string][][][]float64{"temperature": c.Temp, "precipitation": c.Prcp} {
		if len(v) != len(c.Times) {
			return fmt.Errorf("%s has %d time steps, expected %d", name, len(v), len(c.Times))
		}
		for t, plane := range v {
			if err := checkPlane(plane, len(c.Lat), len(c.Lon)); err != nil {
				return fmt.Errorf("%s step %d: %w", name, t, err)
			}
		}
	}
	if c.Elevation != nil {
		if err := checkPlane(c.Elevation, len(c.Lat), len(c.Lon)); err != nil {
			return fmt.Errorf("elevation: %w", err)
		}
	}
	return nil
}

func checkPlane(plane [][]float64, nLat, nLon int) error {
	if len(plane) != nLat {
		return fmt.Errorf("%d rows, expected %d", len(plane), nLat)
	}
	for i, row := range plane {
		if len(row) != nLon {
			return fmt.Errorf("row %d has %d values, expected %d", i, len(row), nLon)
		}
	}
	return nil
}

// Coverage returns the first and last month of the time axis.
func (c *Cube) Coverage() (domain.YearMonth, domain.YearMonth, error) {
	if len(c.Times) == 0 {
		return domain.YearMonth{}, domain.YearMonth{}, fmt.Errorf("%s: empty time axis", c.Dataset)
	}
	return c.Times[0], c.Times[len(c.Times)-1], nil
}

// ReadCell returns the nearest cell's series over period.
func (c *Cube) ReadCell(ctx context.Context, lat, lon float64, period domain.Period) (store.CellSeries, error) {
	if err := ctx.Err(); err != nil {
		return store.CellSeries{}, err
	}
	if err := c.Validate(); err != nil {
		return store.CellSeries{}, fmt.Errorf("invalid grid: %w", err)
	}
	sel, err := SelectPeriod(c.Dataset, c.Times, period)
	if err != nil {
		return store.CellSeries{}, err
	}

	iLat, iLon := Nearest(c.Lat, c.Lon, lat, lon)
	out := store.CellSeries{
		Lat:     c.Lat[iLat],
		Lon:     c.Lon[iLon],
		Months:  sel.Months,
		Temp:    make([]float64, len(sel.Months)),
		Prcp:    make([]float64, len(sel.Months)),
		Missing: make([]bool, len(sel.Months)),
	}
	if c.Elevation != nil {
		if z := c.Elevation[iLat][iLon]; !math.IsNaN(z) {
			out.ElevationM = z
			out.HasElevation = true
		}
	}
	for i, t := range sel.Index {
		if t < 0 {
			out.Temp[i], out.Prcp[i], out.Missing[i] = math.NaN(), math.NaN(), true
			continue
		}
		out.Temp[i] = c.Temp[t][iLat][iLon]
		out.Prcp[i] = c.Prcp[t][iLat][iLon]
		out.Missing[i] = math.IsNaN(out.Temp[i]) || math.IsNaN(out.Prcp[i])
	}
	return out, nil
}

// Close is a no-op.
func (c *Cube) Close() error {
	return nil
}

// Uniform builds a cube whose every cell holds the same value per month,
// computed by fn. It is used by tests and synthetic runs.
func Uniform(dataset domain.DatasetID, lats, lons []float64, period domain.Period, elevation *float64, fn func(ym domain.YearMonth) (temp, prcp float64)) *Cube {
	c := &Cube{Dataset: dataset, Lat: lats, Lon: lons, Times: period.Months()}
	for _, ym := range c.Times {
		t, p := fn(ym)
		c.Temp = append(c.Temp, fill(len(lats), len(lons), t))
		c.Prcp = append(c.Prcp, fill(len(lats), len(lons), p))
	}
	if elevation != nil {
		c.Elevation = fill(len(lats), len(lons), *elevation)
	}
	return c
}

func fill(nLat, nLon int, v float64) [][]float64 {
	plane := make([][]float64, nLat)
	for i := range plane {
		plane[i] = make([]float64, nLon)
		for j := range plane[i] {
			plane[i][j] = v
		}
	}
	return plane
}
