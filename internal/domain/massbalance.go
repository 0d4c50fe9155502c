package domain

// AnnualBalance is the simulated specific mass balance of one year.
type AnnualBalance struct {
	Year            int     `json:"year"`
	MassBalanceMmWE float64 `json:"mass_balance_mm_we"`
}

// SimulatedMassBalance is the simulation output for one glacier under one dataset.
type SimulatedMassBalance struct {
	GlacierID string
	RegionID  string
	DatasetID DatasetID
	Years     []AnnualBalance
}

// Key returns the unit of work that produced the balance.
func (s SimulatedMassBalance) Key() UnitKey {
	return UnitKey{DatasetID: s.DatasetID, RegionID: s.RegionID, GlacierID: s.GlacierID}
}

// MeanOver returns the mean annual balance over the years inside p and the
// number of years that contributed.
func (s SimulatedMassBalance) MeanOver(p Period) (float64, int) {
	var sum float64
	var n int
	for _, y := range s.Years {
		if !p.ContainsYear(y.Year) {
			continue
		}
		sum += y.MassBalanceMmWE
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// Mean returns the mean over all simulated years.
func (s SimulatedMassBalance) Mean() float64 {
	if len(s.Years) == 0 {
		return 0
	}
	var sum float64
	for _, y := range s.Years {
		sum += y.MassBalanceMmWE
	}
	return sum / float64(len(s.Years))
}

// GeodeticObservation is the observed mean annual balance of a glacier over
// GeodeticReferencePeriod, in mm w.e. per year.
type GeodeticObservation struct {
	GlacierID string
	MeanMmWE  float64
	StdMmWE   float64
	AreaKm2   float64
}
