package usecase

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

// ManifestFile is the manifest's name inside a run's output directory.
const ManifestFile = "manifest.json"

// KindAggregation marks glaciers that finished but were left out of a
// regional cohort (for example, no geodetic observation).
const KindAggregation domain.ErrorKind = "aggregation"

// Exclusion records one unit, region or region/dataset pair that did not
// contribute to the outputs. Region-level entries leave GlacierID empty;
// estimator entries also leave DatasetID empty.
type Exclusion struct {
	Unit   domain.UnitKey   `json:"unit"`
	Kind   domain.ErrorKind `json:"kind"`
	Reason string           `json:"reason"`
}

// Manifest describes a completed or interrupted run.
type Manifest struct {
	RunID      string             `json:"run_id"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Datasets   []domain.DatasetID `json:"datasets"`
	StartYear  int                `json:"start_year"`
	EndYear    int                `json:"end_year"`
	Canceled   bool               `json:"canceled"`
	CacheHits  int                `json:"cache_hits"`
	Succeeded  []domain.UnitKey   `json:"succeeded"`
	Excluded   []Exclusion        `json:"excluded"`
}

// ExcludedByKind counts exclusions per kind.
func (m *Manifest) ExcludedByKind() map[domain.ErrorKind]int {
	out := make(map[domain.ErrorKind]int)
	for _, e := range m.Excluded {
		out[e.Kind]++
	}
	return out
}

func (m *Manifest) sort() {
	sort.Slice(m.Succeeded, func(i, j int) bool { return m.Succeeded[i].String() < m.Succeeded[j].String() })
	sort.SliceStable(m.Excluded, func(i, j int) bool {
		a, b := m.Excluded[i].Unit.String(), m.Excluded[j].Unit.String()
		if a != b {
			return a < b
		}
		return m.Excluded[i].Kind < m.Excluded[j].Kind
	})
}

// WriteManifest encodes m as indented JSON.
func WriteManifest(w io.Writer, m *Manifest) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return nil
}

// ReadManifest decodes a manifest written by WriteManifest.
func ReadManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}
