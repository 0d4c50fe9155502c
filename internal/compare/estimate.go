package compare

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

// Estimate summarizes one region across datasets. At least two datasets
// are required. The geodetic reference reported, and the one biases are
// measured against, is that of the first dataset in domain.AllDatasets order.
func Estimate(regionID string, comparisons map[domain.DatasetID]domain.RegionalComparison) (domain.UncertaintyReport, error) {
	if len(comparisons) < 2 {
		return domain.UncertaintyReport{}, &domain.InsufficientDatasetsError{RegionID: regionID, Have: len(comparisons)}
	}

	rep := domain.UncertaintyReport{
		RegionID:       regionID,
		PerDatasetMean: make(map[domain.DatasetID]float64, len(comparisons)),
		PerDatasetBias: make(map[domain.DatasetID]float64, len(comparisons)),
	}
	for id, c := range comparisons {
		rep.PerDatasetMean[id] = c.SMBMean
	}
	ids := rep.Datasets()

	means := make([]float64, len(ids))
	spreads := make([]float64, len(ids))
	for i, id := range ids {
		means[i] = comparisons[id].SMBMean
		spreads[i] = comparisons[id].GlacierSpread
	}

	ref := comparisons[ids[0]]
	rep.GMBMean, rep.GMBStd = ref.GMBMean, ref.GMBStd
	for _, id := range ids {
		rep.PerDatasetBias[id] = comparisons[id].SMBMean - rep.GMBMean
	}

	rep.CrossDatasetMean = stat.Mean(means, nil)
	rep.CrossDatasetStd = stat.StdDev(means, nil)
	rep.Range = floats.Max(means) - floats.Min(means)
	rep.MeanGlacierSpread = stat.Mean(spreads, nil)
	return rep, nil
}
