package domain

import (
	"fmt"
	"math"
	"strings"
)

// DatasetID identifies a climate forcing dataset.
type DatasetID string

const (
	// DatasetCR2MET is the regional downscaled product.
	DatasetCR2MET DatasetID = "CR2MET"
	// DatasetERA5 is the global reanalysis.
	DatasetERA5 DatasetID = "ERA5"
	// DatasetCRU is the station-based global product.
	DatasetCRU DatasetID = "CRU"
)

// AllDatasets lists the supported datasets in report column order.
func AllDatasets() []DatasetID {
	return []DatasetID{DatasetCR2MET, DatasetERA5, DatasetCRU}
}

// ParseDatasetID maps a case-insensitive name to a DatasetID.
func ParseDatasetID(s string) (DatasetID, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CR2MET", "CR2":
		return DatasetCR2MET, nil
	case "ERA5", "ERA5_MONTHLY":
		return DatasetERA5, nil
	case "CRU", "CRU_TS":
		return DatasetCRU, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDataset, s)
}

// GridPoint is a glacier location (centroid) with its reference elevation.
type GridPoint struct {
	Lat        float64
	Lon        float64
	ElevationM float64
}

// Glacier is one glacier inventory record.
type Glacier struct {
	ID       string
	RegionID string
	Point    GridPoint
	AreaKm2  float64
}

// Validate checks coordinate ranges and area. Every numeric field must be finite.
func (g Glacier) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("glacier id is required")
	}
	if g.RegionID == "" {
		return fmt.Errorf("glacier %s: region id is required", g.ID)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"latitude", g.Point.Lat},
		{"longitude", g.Point.Lon},
		{"elevation", g.Point.ElevationM},
		{"area", g.AreaKm2},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("glacier %s: %s is not finite", g.ID, f.name)
		}
	}
	if g.Point.Lat < -90 || g.Point.Lat > 90 {
		return fmt.Errorf("glacier %s: latitude %.4f out of range", g.ID, g.Point.Lat)
	}
	if g.Point.Lon < -180 || g.Point.Lon > 360 {
		return fmt.Errorf("glacier %s: longitude %.4f out of range", g.ID, g.Point.Lon)
	}
	if g.AreaKm2 < 0 {
		return fmt.Errorf("glacier %s: negative area %.4f", g.ID, g.AreaKm2)
	}
	return nil
}

// UnitKey identifies one independent unit of work: a glacier forced by one dataset.
type UnitKey struct {
	DatasetID DatasetID `json:"dataset_id"`
	RegionID  string    `json:"region_id"`
	GlacierID string    `json:"glacier_id"`
}

// String renders the key as dataset/region/glacier.
func (k UnitKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.DatasetID, k.RegionID, k.GlacierID)
}
