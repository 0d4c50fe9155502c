package climate

import (
	"fmt"
	"sort"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

// CalibrationTable holds per-region lapse rate and precipitation factor.
// It is immutable after construction and safe for concurrent reads.
type CalibrationTable struct {
	byRegion map[string]domain.CalibrationParams
}

// NewCalibrationTable validates params and rejects duplicate regions.
func NewCalibrationTable(params []domain.CalibrationParams) (*CalibrationTable, error) {
	t := &CalibrationTable{byRegion: make(map[string]domain.CalibrationParams, len(params))}
	for _, p := range params {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := t.byRegion[p.RegionID]; dup {
			return nil, fmt.Errorf("calibration: duplicate region %s", p.RegionID)
		}
		t.byRegion[p.RegionID] = p
	}
	return t, nil
}

// Lookup returns the parameters for an exact region id.
func (t *CalibrationTable) Lookup(regionID string) (domain.CalibrationParams, error) {
	p, ok := t.byRegion[regionID]
	if !ok {
		return domain.CalibrationParams{}, fmt.Errorf("%w: %s", domain.ErrUnknownRegion, regionID)
	}
	return p, nil
}

// Regions lists the configured regions in order.
func (t *CalibrationTable) Regions() []string {
	out := make([]string, 0, len(t.byRegion))
	for id := range t.byRegion {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
