package domain

import "sort"

// RegionalComparison is the area-weighted comparison of simulated and
// observed balance for one region under one dataset.
type RegionalComparison struct {
	RegionID          string    `json:"region_id"`
	DatasetID         DatasetID `json:"dataset_id"`
	NGlaciers         int       `json:"n_glaciers"`
	NExcluded         int       `json:"n_excluded"`
	AreaCoveredKm2    float64   `json:"area_covered_km2"`
	RGIAreaKm2        float64   `json:"rgi_area_km2"`
	RGIGlacierCount   int       `json:"rgi_glacier_count"`
	CoveragePct       float64   `json:"coverage_pct"`
	GMBMean           float64   `json:"gmb_mean"`
	GMBStd            float64   `json:"gmb_std"`
	SMBMean           float64   `json:"smb_mean"`
	Difference        float64   `json:"difference"`
	WithinUncertainty bool      `json:"within_uncertainty"`
	GlacierSpread     float64   `json:"glacier_spread"`
}

// UncertaintyReport summarizes the spread of regional means across datasets.
type UncertaintyReport struct {
	RegionID          string                `json:"region_id"`
	PerDatasetMean    map[DatasetID]float64 `json:"per_dataset_mean"`
	PerDatasetBias    map[DatasetID]float64 `json:"per_dataset_bias"`
	CrossDatasetMean  float64               `json:"cross_dataset_mean"`
	CrossDatasetStd   float64               `json:"cross_dataset_std"`
	Range             float64               `json:"range"`
	GMBMean           float64               `json:"gmb_mean"`
	GMBStd            float64               `json:"gmb_std"`
	MeanGlacierSpread float64               `json:"mean_glacier_spread"`
}

// Datasets returns the datasets present in the report, in AllDatasets order
// followed by any others.
func (r UncertaintyReport) Datasets() []DatasetID {
	out := make([]DatasetID, 0, len(r.PerDatasetMean))
	seen := make(map[DatasetID]bool, len(r.PerDatasetMean))
	for _, id := range AllDatasets() {
		if _, ok := r.PerDatasetMean[id]; ok {
			out = append(out, id)
			seen[id] = true
		}
	}
	var extra []DatasetID
	for id := range r.PerDatasetMean {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}
