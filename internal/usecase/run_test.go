package usecase

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/store/cache"
	csvstore "github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/store/csv"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/climate"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/observability"
)

type fakeNormalizer struct {
	dataset domain.DatasetID
	fail    map[string]error
}

func (f *fakeNormalizer) Dataset() domain.DatasetID { return f.dataset }

func (f *fakeNormalizer) Version() string { return string(f.dataset) + "/test" }

func (f *fakeNormalizer) Normalize(_ context.Context, g domain.Glacier, params domain.CalibrationParams, period domain.Period) (domain.NormalizedClimateRecord, error) {
	if err := f.fail[g.ID]; err != nil {
		return domain.NormalizedClimateRecord{}, err
	}
	months := make([]domain.MonthlyClimate, 0, period.NumMonths())
	for _, ym := range period.Months() {
		months = append(months, domain.MonthlyClimate{Year: ym.Year, Month: int(ym.Month), TempC: -2, PrcpMm: 100 * params.PrecipScalingFactor})
	}
	return domain.NormalizedClimateRecord{
		GlacierID:      g.ID,
		RegionID:       g.RegionID,
		DatasetID:      f.dataset,
		AdapterVersion: f.Version(),
		Period:         period,
		RefElevationM:  g.Point.ElevationM,
		ElevationKnown: true,
		Series:         domain.ClimateSeries{Point: g.Point, Months: months},
	}, nil
}

// fakeSimulation returns a constant balance per dataset.
type fakeSimulation struct {
	balance map[domain.DatasetID]float64
	fail    map[domain.UnitKey]bool
	calls   atomic.Int32
}

func (f *fakeSimulation) Run(_ context.Context, glacierID string, climate domain.NormalizedClimateRecord, startYear, endYear int) ([]domain.AnnualBalance, error) {
	f.calls.Add(1)
	key := domain.UnitKey{DatasetID: climate.DatasetID, RegionID: climate.RegionID, GlacierID: glacierID}
	if f.fail[key] {
		return nil, &domain.SimulationError{GlacierID: glacierID, Err: errors.New("model diverged")}
	}
	var out []domain.AnnualBalance
	for y := startYear; y <= endYear; y++ {
		out = append(out, domain.AnnualBalance{Year: y, MassBalanceMmWE: f.balance[climate.DatasetID]})
	}
	return out, nil
}

func testInputs(t *testing.T) Inputs {
	t.Helper()
	table, err := climate.NewCalibrationTable([]domain.CalibrationParams{
		{RegionID: "R1", LapseRateCPerM: -0.0065, PrecipScalingFactor: 1.5},
		{RegionID: "R2", LapseRateCPerM: -0.0065, PrecipScalingFactor: 2},
	})
	require.NoError(t, err)

	obs := func(id string) domain.GeodeticObservation {
		return domain.GeodeticObservation{GlacierID: id, MeanMmWE: -600, StdMmWE: 100, AreaKm2: 1}
	}
	return Inputs{
		Glaciers: []domain.Glacier{
			{ID: "G2", RegionID: "R1", Point: domain.GridPoint{Lat: -33.1, Lon: -70.1, ElevationM: 4000}, AreaKm2: 1},
			{ID: "G1", RegionID: "R1", Point: domain.GridPoint{Lat: -33.0, Lon: -70.0, ElevationM: 4200}, AreaKm2: 1},
			{ID: "G3", RegionID: "R2", Point: domain.GridPoint{Lat: -45.0, Lon: -73.0, ElevationM: 1500}, AreaKm2: 2},
		},
		Calibration: table,
		Geodetic:    map[string]domain.GeodeticObservation{"G1": obs("G1"), "G2": obs("G2"), "G3": obs("G3")},
	}
}

func newTestRunner(t *testing.T, sim *fakeSimulation, opts ...Option) *Runner {
	t.Helper()
	base := []Option{
		WithWorkers(4),
		WithLogger(observability.DiscardLogger()),
		WithMetrics(observability.NewMetricsForTesting()),
	}
	r, err := NewRunner([]Normalizer{
		&fakeNormalizer{dataset: domain.DatasetCR2MET},
		&fakeNormalizer{dataset: domain.DatasetERA5},
	}, sim, append(base, opts...)...)
	require.NoError(t, err)
	return r
}

func defaultSimulation() *fakeSimulation {
	return &fakeSimulation{
		balance: map[domain.DatasetID]float64{domain.DatasetCR2MET: -500, domain.DatasetERA5: -700},
		fail:    map[domain.UnitKey]bool{{DatasetID: domain.DatasetERA5, RegionID: "R2", GlacierID: "G3"}: true},
	}
}

func testRequest(t *testing.T) RunRequest {
	return RunRequest{
		Inputs:   testInputs(t),
		Datasets: []domain.DatasetID{domain.DatasetCR2MET, domain.DatasetERA5},
		Period:   domain.Period{StartYear: 2000, EndYear: 2019},
	}
}

func findExclusion(m Manifest, key domain.UnitKey) (Exclusion, bool) {
	for _, e := range m.Excluded {
		if e.Unit == key {
			return e, true
		}
	}
	return Exclusion{}, false
}

func TestRun_IsolatesFailures(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	sim := defaultSimulation()
	r := newTestRunner(t, sim, WithClock(clock))

	res, err := r.Run(context.Background(), testRequest(t))
	require.NoError(t, err)

	m := res.Manifest
	assert.NotEmpty(t, m.RunID)
	assert.Equal(t, start, m.StartedAt)
	assert.False(t, m.Canceled)
	assert.Len(t, m.Succeeded, 5)
	assert.Equal(t, int32(6), sim.calls.Load())

	unitErr, ok := findExclusion(m, domain.UnitKey{DatasetID: domain.DatasetERA5, RegionID: "R2", GlacierID: "G3"})
	require.True(t, ok)
	assert.Equal(t, domain.KindSimulation, unitErr.Kind)

	cohort, ok := findExclusion(m, domain.UnitKey{DatasetID: domain.DatasetERA5, RegionID: "R2"})
	require.True(t, ok)
	assert.Equal(t, domain.KindEmptyCohort, cohort.Kind)

	estimate, ok := findExclusion(m, domain.UnitKey{RegionID: "R2"})
	require.True(t, ok)
	assert.Equal(t, domain.KindInsufficientDatasets, estimate.Kind)

	assert.Len(t, m.Excluded, 3, "the failed unit is not reported a second time by the aggregator")

	// R1 under both datasets, R2 under CR2MET only.
	require.Len(t, res.Comparisons, 3)
	require.Len(t, res.Reports, 1)
	report := res.Reports[0]
	assert.Equal(t, "R1", report.RegionID)
	assert.InDelta(t, -600, report.CrossDatasetMean, 1e-9)
	assert.InDelta(t, 100*math.Sqrt2, report.CrossDatasetStd, 1e-9)
	assert.InDelta(t, 200, report.Range, 1e-9)
	assert.InDelta(t, -600, report.GMBMean, 1e-9)

	require.Len(t, res.Balances[domain.DatasetCR2MET], 3)
	assert.Equal(t, "G1", res.Balances[domain.DatasetCR2MET][0].GlacierID, "outputs are sorted by glacier id")
	require.Len(t, res.Climate[domain.DatasetERA5], 2)
	assert.InDelta(t, 150, res.Climate[domain.DatasetERA5][0].MeanPrcpMm, 1e-9)
}

func TestRun_SequentialMatchesParallel(t *testing.T) {
	parallel, err := newTestRunner(t, defaultSimulation()).Run(context.Background(), testRequest(t))
	require.NoError(t, err)
	sequential, err := newTestRunner(t, defaultSimulation(), WithWorkers(1)).Run(context.Background(), testRequest(t))
	require.NoError(t, err)

	assert.Equal(t, parallel.Comparisons, sequential.Comparisons)
	assert.Equal(t, parallel.Reports, sequential.Reports)
	assert.Equal(t, parallel.Manifest.Succeeded, sequential.Manifest.Succeeded)
}

func TestRun_ReusesCachedUnits(t *testing.T) {
	store, err := cache.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	first := defaultSimulation()
	_, err = newTestRunner(t, first, WithCache(store)).Run(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.Equal(t, int32(6), first.calls.Load())

	second := defaultSimulation()
	res, err := newTestRunner(t, second, WithCache(store)).Run(context.Background(), testRequest(t))
	require.NoError(t, err)

	// Only the failed unit is attempted again.
	assert.Equal(t, int32(1), second.calls.Load())
	assert.Equal(t, 5, res.Manifest.CacheHits)
	assert.Len(t, res.Manifest.Succeeded, 5)
}

func TestRun_CacheIgnoresOtherPeriod(t *testing.T) {
	store, err := cache.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	req := testRequest(t)
	_, err = newTestRunner(t, defaultSimulation(), WithCache(store)).Run(context.Background(), req)
	require.NoError(t, err)

	req.Period = domain.Period{StartYear: 1990, EndYear: 2019}
	sim := defaultSimulation()
	res, err := newTestRunner(t, sim, WithCache(store)).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(6), sim.calls.Load())
	assert.Equal(t, 0, res.Manifest.CacheHits)
}

func TestRun_UnknownRegionIsInputError(t *testing.T) {
	req := testRequest(t)
	req.Inputs.Glaciers = append(req.Inputs.Glaciers, domain.Glacier{
		ID: "G9", RegionID: "R9", Point: domain.GridPoint{Lat: -50, Lon: -73, ElevationM: 1000}, AreaKm2: 1,
	})

	res, err := newTestRunner(t, defaultSimulation()).Run(context.Background(), req)
	require.NoError(t, err)

	e, ok := findExclusion(res.Manifest, domain.UnitKey{DatasetID: domain.DatasetCR2MET, RegionID: "R9", GlacierID: "G9"})
	require.True(t, ok)
	assert.Equal(t, domain.KindInput, e.Kind)
	assert.Contains(t, e.Reason, "R9")
}

func TestRun_NormalizeFailureIsRecorded(t *testing.T) {
	sim := defaultSimulation()
	r, err := NewRunner([]Normalizer{
		&fakeNormalizer{dataset: domain.DatasetCR2MET, fail: map[string]error{
			"G1": &domain.MissingDataError{DatasetID: domain.DatasetCR2MET, GlacierID: "G1", Month: domain.YearMonth{Year: 2005, Month: time.June}},
		}},
	}, sim)
	require.NoError(t, err)

	req := testRequest(t)
	req.Datasets = []domain.DatasetID{domain.DatasetCR2MET}
	res, err := r.Run(context.Background(), req)
	require.NoError(t, err)

	e, ok := findExclusion(res.Manifest, domain.UnitKey{DatasetID: domain.DatasetCR2MET, RegionID: "R1", GlacierID: "G1"})
	require.True(t, ok)
	assert.Equal(t, domain.KindMissingData, e.Kind)
	assert.Equal(t, int32(2), sim.calls.Load(), "the failed unit never reaches the simulation")
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sim := defaultSimulation()
	res, err := newTestRunner(t, sim).Run(ctx, testRequest(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Manifest.Canceled)
	assert.Empty(t, res.Manifest.Succeeded)
	assert.Empty(t, res.Reports)
	assert.Equal(t, int32(0), sim.calls.Load())
}

func TestRun_RequestValidation(t *testing.T) {
	r := newTestRunner(t, defaultSimulation())

	req := testRequest(t)
	req.Period = domain.Period{StartYear: 2000, EndYear: 2000}
	_, err := r.Run(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)

	req = testRequest(t)
	req.Datasets = []domain.DatasetID{domain.DatasetCRU}
	_, err = r.Run(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrUnknownDataset)
}

func TestNewRunner_RejectsDuplicateDatasets(t *testing.T) {
	_, err := NewRunner([]Normalizer{
		&fakeNormalizer{dataset: domain.DatasetCRU},
		&fakeNormalizer{dataset: domain.DatasetCRU},
	}, defaultSimulation())
	assert.Error(t, err)

	_, err = NewRunner(nil, nil)
	assert.Error(t, err)
}

func TestWriteOutputsAndRecompare(t *testing.T) {
	dir := t.TempDir()
	req := testRequest(t)
	res, err := newTestRunner(t, defaultSimulation()).Run(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, WriteOutputs(dir, res))

	for _, name := range []string{
		ManifestFile,
		csvstore.ComparisonFile,
		csvstore.UncertaintyFile,
		csvstore.MassBalanceFile(domain.DatasetCR2MET),
		csvstore.ClimateSummaryFile(domain.DatasetERA5),
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	f, err := os.Open(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	defer f.Close()
	m, err := ReadManifest(f)
	require.NoError(t, err)
	assert.Equal(t, res.Manifest.RunID, m.RunID)
	assert.Equal(t, res.Manifest.Succeeded, m.Succeeded)

	again, err := Recompare(dir, req.Inputs, domain.AllDatasets(), domain.GeodeticReferencePeriod)
	require.NoError(t, err)
	require.Len(t, again.Reports, 1)
	assert.InDelta(t, res.Reports[0].CrossDatasetStd, again.Reports[0].CrossDatasetStd, 1e-9)
	assert.Len(t, again.Comparisons, len(res.Comparisons))
}

func TestRecompare_NoFiles(t *testing.T) {
	_, err := Recompare(t.TempDir(), testInputs(t), domain.AllDatasets(), domain.GeodeticReferencePeriod)
	assert.Error(t, err)
}

func TestLoadInputs_GeodeticUnitsFollowColumns(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}
	paths := InputPaths{
		Inventory:   write("inventory.csv", "glacier_id,region_id,lat,lon,elevation_m,area_km2\nRGI60-17.00001,1,-49.5,-73.2,1450,2.5\n"),
		Calibration: write("calibration.csv", "region_id,lapse_rate,precip_scaling_factor\n1,-0.0065,2.5\n"),
		Geodetic:    write("geodetic_mm.csv", "glacier_id,gmb_mean_mm_we_per_yr,gmb_std\nRGI60-17.00001,-450,120\n"),
	}

	in, err := LoadInputs(paths)
	require.NoError(t, err)
	assert.Equal(t, -450.0, in.Geodetic["RGI60-17.00001"].MeanMmWE)
	assert.Equal(t, 120.0, in.Geodetic["RGI60-17.00001"].StdMmWE)

	paths.Geodetic = write("geodetic_m.csv", "rgiid,dmdtda,err_dmdtda\nRGI60-17.00001,-0.45,0.12\n")
	in, err = LoadInputs(paths)
	require.NoError(t, err)
	assert.InDelta(t, -450, in.Geodetic["RGI60-17.00001"].MeanMmWE, 1e-9)
	assert.InDelta(t, 120, in.Geodetic["RGI60-17.00001"].StdMmWE, 1e-9)
}
