// Package compare computes regional simulated-versus-observed statistics
// and the spread of regional means across climate datasets.
package compare

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

// Exclusion reasons for glaciers left out of a regional cohort.
const (
	ReasonNoSimulation     = "no_simulation"
	ReasonNoGeodetic       = "no_geodetic"
	ReasonNoReferenceYears = "no_reference_years"
)

// Excluded is a glacier dropped from a regional cohort.
type Excluded struct {
	GlacierID string
	Reason    string
}

// Aggregator joins simulated and observed balances per region.
type Aggregator struct {
	// Reference is the window of simulated years averaged per glacier.
	Reference domain.Period
}

// NewAggregator uses domain.GeodeticReferencePeriod.
func NewAggregator() Aggregator {
	return Aggregator{Reference: domain.GeodeticReferencePeriod}
}

// Aggregate computes the area-weighted comparison for one region and
// dataset. glaciers is the inventory (any region; only regionID is used),
// simulated the model output and observed the geodetic reference by id.
//
//	smb_mean = Σ a_i smb_i / Σ a_i
//	gmb_mean = Σ a_i g_i / Σ a_i
//	gmb_std  = sqrt(Σ a_i² s_i²) / Σ a_i
//
// Glaciers are summed in id order, so the result does not depend on input order.
func (a Aggregator) Aggregate(regionID string, dataset domain.DatasetID, glaciers []domain.Glacier, simulated []domain.SimulatedMassBalance, observed map[string]domain.GeodeticObservation) (domain.RegionalComparison, []Excluded, error) {
	if err := a.Reference.Validate(); err != nil {
		return domain.RegionalComparison{}, nil, fmt.Errorf("reference period: %w", err)
	}

	var region []domain.Glacier
	for _, g := range glaciers {
		if g.RegionID == regionID {
			region = append(region, g)
		}
	}
	sort.Slice(region, func(i, j int) bool { return region[i].ID < region[j].ID })

	sims := make(map[string]domain.SimulatedMassBalance, len(simulated))
	for _, s := range simulated {
		if s.DatasetID == dataset {
			sims[s.GlacierID] = s
		}
	}

	out := domain.RegionalComparison{
		RegionID:        regionID,
		DatasetID:       dataset,
		RGIGlacierCount: len(region),
	}

	var (
		excluded             []Excluded
		area, smb, gmb, gStd []float64
	)
	for _, g := range region {
		out.RGIAreaKm2 += g.AreaKm2

		sim, ok := sims[g.ID]
		if !ok {
			excluded = append(excluded, Excluded{GlacierID: g.ID, Reason: ReasonNoSimulation})
			continue
		}
		obs, ok := observed[g.ID]
		if !ok {
			excluded = append(excluded, Excluded{GlacierID: g.ID, Reason: ReasonNoGeodetic})
			continue
		}
		mean, n := sim.MeanOver(a.Reference)
		if n == 0 {
			excluded = append(excluded, Excluded{GlacierID: g.ID, Reason: ReasonNoReferenceYears})
			continue
		}

		area = append(area, g.AreaKm2)
		smb = append(smb, mean)
		gmb = append(gmb, obs.MeanMmWE)
		gStd = append(gStd, obs.StdMmWE)
	}
	out.NGlaciers = len(area)
	out.NExcluded = len(excluded)

	totalArea := floats.Sum(area)
	if !(totalArea > 0) || math.IsInf(totalArea, 0) {
		return domain.RegionalComparison{}, excluded, &domain.EmptyCohortError{RegionID: regionID, DatasetID: dataset, Excluded: len(excluded)}
	}
	out.AreaCoveredKm2 = totalArea
	if out.RGIAreaKm2 > 0 {
		out.CoveragePct = totalArea / out.RGIAreaKm2 * 100
	}

	// Divide rather than scale by 1/total: a/a is exactly 1, so a lone
	// glacier's value passes through unchanged.
	weights := make([]float64, len(area))
	for i, a := range area {
		weights[i] = a / totalArea
	}
	out.SMBMean = floats.Dot(weights, smb)
	out.GMBMean = floats.Dot(weights, gmb)

	weightedErr := make([]float64, len(gStd))
	floats.MulTo(weightedErr, area, gStd)
	out.GMBStd = math.Sqrt(floats.Dot(weightedErr, weightedErr)) / totalArea

	out.Difference = out.SMBMean - out.GMBMean
	out.WithinUncertainty = math.Abs(out.Difference) <= out.GMBStd
	out.GlacierSpread = sampleStd(smb)
	return out, excluded, nil
}

// sampleStd returns the n-1 standard deviation, or 0 for fewer than two values.
func sampleStd(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	return stat.StdDev(x, nil)
}
