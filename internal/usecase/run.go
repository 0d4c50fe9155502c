// Package usecase orchestrates a full run: every (dataset, glacier) unit is
// normalized and simulated in a bounded worker pool, then the finished units
// are aggregated per region and the cross-dataset spread is estimated.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/simulation"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/store/cache"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/climate"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/compare"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/observability"
)

// Normalizer produces a glacier's corrected climate from one dataset.
// *climate.Adapter implements it.
type Normalizer interface {
	Dataset() domain.DatasetID
	Version() string
	Normalize(ctx context.Context, g domain.Glacier, params domain.CalibrationParams, period domain.Period) (domain.NormalizedClimateRecord, error)
}

// ResultCache stores finished units. *cache.Store implements it.
type ResultCache interface {
	Get(key domain.UnitKey) (cache.Entry, bool, error)
	Put(e cache.Entry) (bool, error)
}

// Inputs are the tabular inputs shared by every unit.
type Inputs struct {
	Glaciers    []domain.Glacier
	Calibration *climate.CalibrationTable
	Geodetic    map[string]domain.GeodeticObservation
}

// RunRequest selects the datasets and simulation period of a run.
type RunRequest struct {
	Inputs   Inputs
	Datasets []domain.DatasetID
	Period   domain.Period
}

// RunResult holds everything a run produced.
type RunResult struct {
	Manifest    Manifest
	Climate     map[domain.DatasetID][]domain.ClimateSummary
	Balances    map[domain.DatasetID][]domain.SimulatedMassBalance
	Comparisons []domain.RegionalComparison
	Reports     []domain.UncertaintyReport
}

// Runner executes runs. It holds no per-run state and may be reused.
type Runner struct {
	normalizers map[domain.DatasetID]Normalizer
	sim         simulation.Service
	cache       ResultCache
	aggregator  compare.Aggregator
	workers     int
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithCache enables the result cache.
func WithCache(c ResultCache) Option {
	return func(r *Runner) { r.cache = c }
}

// WithWorkers sets the worker pool size; values below 1 mean 1.
func WithWorkers(n int) Option {
	return func(r *Runner) { r.workers = n }
}

// WithClock sets the time source for manifest timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithReferencePeriod sets the window compared against the geodetic reference.
func WithReferencePeriod(p domain.Period) Option {
	return func(r *Runner) { r.aggregator.Reference = p }
}

// NewRunner creates a Runner. The simulation service is wrapped so every
// call is checked for a valid period and a complete yearly output.
func NewRunner(normalizers []Normalizer, sim simulation.Service, opts ...Option) (*Runner, error) {
	if sim == nil {
		return nil, errors.New("simulation service is required")
	}
	r := &Runner{
		normalizers: make(map[domain.DatasetID]Normalizer, len(normalizers)),
		sim:         simulation.Checked{Next: sim},
		aggregator:  compare.NewAggregator(),
		workers:     1,
		clock:       clockwork.NewRealClock(),
		logger:      observability.DiscardLogger(),
		metrics:     observability.NewMetricsForTesting(),
	}
	for _, n := range normalizers {
		if _, dup := r.normalizers[n.Dataset()]; dup {
			return nil, fmt.Errorf("duplicate normalizer for %s", n.Dataset())
		}
		r.normalizers[n.Dataset()] = n
	}
	for _, o := range opts {
		o(r)
	}
	if r.workers < 1 {
		r.workers = 1
	}
	return r, nil
}

type unit struct {
	key     domain.UnitKey
	glacier domain.Glacier
	norm    Normalizer
}

// collector gathers unit outcomes from concurrent workers.
type collector struct {
	mu        sync.Mutex
	climate   map[domain.DatasetID][]domain.ClimateSummary
	balances  map[domain.DatasetID][]domain.SimulatedMassBalance
	succeeded []domain.UnitKey
	excluded  []Exclusion
	cacheHits int
}

func (c *collector) success(e cache.Entry, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ds := e.Key.DatasetID
	c.climate[ds] = append(c.climate[ds], e.Climate)
	c.balances[ds] = append(c.balances[ds], e.Balance)
	c.succeeded = append(c.succeeded, e.Key)
	if hit {
		c.cacheHits++
	}
}

func (c *collector) exclude(key domain.UnitKey, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.excluded = append(c.excluded, Exclusion{Unit: key, Kind: domain.KindOf(err), Reason: err.Error()})
}

// Run executes req. Unit failures are recorded in the manifest and do not
// fail the run. When ctx is canceled no new units are scheduled, finished
// units remain in the cache, and the partial result is returned together
// with the context error.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if err := req.Period.Validate(); err != nil {
		return nil, err
	}
	if req.Inputs.Calibration == nil {
		return nil, errors.New("calibration table is required")
	}
	if len(req.Datasets) == 0 {
		return nil, errors.New("at least one dataset is required")
	}
	units, err := r.plan(req)
	if err != nil {
		return nil, err
	}

	manifest := Manifest{
		RunID:     uuid.NewString(),
		StartedAt: r.clock.Now().UTC(),
		Datasets:  req.Datasets,
		StartYear: req.Period.StartYear,
		EndYear:   req.Period.EndYear,
	}
	r.logger.Info("run started",
		"run_id", manifest.RunID,
		"units", len(units),
		"workers", r.workers,
		"period", req.Period.String(),
	)

	col := &collector{
		climate:  make(map[domain.DatasetID][]domain.ClimateSummary),
		balances: make(map[domain.DatasetID][]domain.SimulatedMassBalance),
	}

	// Workers never return errors to the group: a failed unit must not
	// cancel its siblings.
	g := new(errgroup.Group)
	g.SetLimit(r.workers)
	for _, u := range units {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r.metrics.ActiveWorkers.Inc()
			defer r.metrics.ActiveWorkers.Dec()
			r.process(ctx, req, u, col)
			return nil
		})
	}
	_ = g.Wait()

	manifest.Succeeded = col.succeeded
	manifest.Excluded = col.excluded
	manifest.CacheHits = col.cacheHits

	result := &RunResult{Climate: col.climate, Balances: col.balances}
	for ds := range result.Climate {
		sortSummaries(result.Climate[ds])
		sortBalances(result.Balances[ds])
	}

	if err := ctx.Err(); err != nil {
		manifest.Canceled = true
		manifest.FinishedAt = r.clock.Now().UTC()
		manifest.sort()
		result.Manifest = manifest
		r.logger.Warn("run canceled", "run_id", manifest.RunID, "succeeded", len(manifest.Succeeded))
		return result, fmt.Errorf("run %s canceled: %w", manifest.RunID, err)
	}

	comparisons, reports, excluded := r.summarize(req, result.Balances, col.excludedKeys())
	result.Comparisons = comparisons
	result.Reports = reports
	manifest.Excluded = append(manifest.Excluded, excluded...)
	manifest.FinishedAt = r.clock.Now().UTC()
	manifest.sort()
	result.Manifest = manifest

	r.logger.Info("run finished",
		"run_id", manifest.RunID,
		"succeeded", len(manifest.Succeeded),
		"excluded", len(manifest.Excluded),
		"cache_hits", manifest.CacheHits,
		"regions", len(reports),
		"duration", manifest.FinishedAt.Sub(manifest.StartedAt).String(),
	)
	return result, nil
}

// plan lists the units in dataset then glacier id order.
func (r *Runner) plan(req RunRequest) ([]unit, error) {
	glaciers := append([]domain.Glacier(nil), req.Inputs.Glaciers...)
	sort.Slice(glaciers, func(i, j int) bool { return glaciers[i].ID < glaciers[j].ID })

	var units []unit
	for _, ds := range req.Datasets {
		norm, ok := r.normalizers[ds]
		if !ok {
			return nil, fmt.Errorf("%w: no climate adapter configured for %s", domain.ErrUnknownDataset, ds)
		}
		for _, g := range glaciers {
			units = append(units, unit{
				key:     domain.UnitKey{DatasetID: ds, RegionID: g.RegionID, GlacierID: g.ID},
				glacier: g,
				norm:    norm,
			})
		}
	}
	return units, nil
}

// process runs one unit and records its outcome.
func (r *Runner) process(ctx context.Context, req RunRequest, u unit, col *collector) {
	ds := string(u.key.DatasetID)
	logger := r.logger.With("dataset", ds, "region", u.key.RegionID, "glacier", u.key.GlacierID)

	if ctx.Err() != nil {
		return
	}

	if entry, ok := r.cached(u, req.Period, logger); ok {
		r.metrics.CacheHits.WithLabelValues(ds).Inc()
		col.success(entry, true)
		return
	}

	entry, err := r.compute(ctx, req, u)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return
		}
		kind := domain.KindOf(err)
		r.metrics.UnitsExcluded.WithLabelValues(ds, string(kind)).Inc()
		logger.Warn("unit excluded", "kind", string(kind), "error", err)
		col.exclude(u.key, err)
		return
	}

	if r.cache != nil {
		if _, err := r.cache.Put(entry); err != nil {
			logger.Warn("failed to cache unit", "error", err)
		}
	}
	col.success(entry, false)
}

// cached returns a usable cache entry for u: same adapter version and a
// balance covering the requested period.
func (r *Runner) cached(u unit, p domain.Period, logger *slog.Logger) (cache.Entry, bool) {
	if r.cache == nil {
		return cache.Entry{}, false
	}
	entry, ok, err := r.cache.Get(u.key)
	if err != nil {
		logger.Warn("ignoring unreadable cache entry", "error", err)
		return cache.Entry{}, false
	}
	if !ok {
		return cache.Entry{}, false
	}
	if entry.Version != u.norm.Version() {
		logger.Debug("cache entry version mismatch", "cached", entry.Version, "current", u.norm.Version())
		return cache.Entry{}, false
	}
	if err := simulation.CheckYears(u.key.DatasetID, u.key.GlacierID, p, entry.Balance.Years); err != nil {
		logger.Debug("cache entry does not cover period", "error", err)
		return cache.Entry{}, false
	}
	return entry, true
}

func (r *Runner) compute(ctx context.Context, req RunRequest, u unit) (cache.Entry, error) {
	params, err := req.Inputs.Calibration.Lookup(u.glacier.RegionID)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("glacier %s: %w", u.glacier.ID, err)
	}

	record, err := u.norm.Normalize(ctx, u.glacier, params, req.Period)
	if err != nil {
		return cache.Entry{}, err
	}
	r.metrics.UnitsNormalized.WithLabelValues(string(u.key.DatasetID)).Inc()

	start := time.Now()
	years, err := r.sim.Run(ctx, u.glacier.ID, record, req.Period.StartYear, req.Period.EndYear)
	r.metrics.SimulationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return cache.Entry{}, err
	}
	r.metrics.UnitsSimulated.WithLabelValues(string(u.key.DatasetID)).Inc()

	return cache.Entry{
		Key:     u.key,
		Version: record.AdapterVersion,
		Climate: record.Summary(),
		Balance: domain.SimulatedMassBalance{
			GlacierID: u.glacier.ID,
			RegionID:  u.glacier.RegionID,
			DatasetID: u.key.DatasetID,
			Years:     years,
		},
		StoredAt: r.clock.Now().UTC(),
	}, nil
}

func (c *collector) excludedKeys() map[domain.UnitKey]bool {
	out := make(map[domain.UnitKey]bool, len(c.excluded))
	for _, e := range c.excluded {
		out[e.Unit] = true
	}
	return out
}

// summarize is the single-threaded barrier step: per region and dataset
// aggregation, then per region estimation. Region failures are returned as
// exclusions and do not affect other regions.
func (r *Runner) summarize(req RunRequest, balances map[domain.DatasetID][]domain.SimulatedMassBalance, failed map[domain.UnitKey]bool) ([]domain.RegionalComparison, []domain.UncertaintyReport, []Exclusion) {
	var (
		comparisons []domain.RegionalComparison
		reports     []domain.UncertaintyReport
		excluded    []Exclusion
	)
	for _, region := range regions(req.Inputs.Glaciers) {
		perDataset := make(map[domain.DatasetID]domain.RegionalComparison, len(req.Datasets))
		for _, ds := range req.Datasets {
			cmp, dropped, err := r.aggregator.Aggregate(region, ds, req.Inputs.Glaciers, balances[ds], req.Inputs.Geodetic)
			for _, d := range dropped {
				key := domain.UnitKey{DatasetID: ds, RegionID: region, GlacierID: d.GlacierID}
				// Failed units are already recorded with their own kind.
				if d.Reason == compare.ReasonNoSimulation && failed[key] {
					continue
				}
				excluded = append(excluded, Exclusion{Unit: key, Kind: KindAggregation, Reason: d.Reason})
			}
			if err != nil {
				r.metrics.UnitsExcluded.WithLabelValues(string(ds), string(domain.KindOf(err))).Inc()
				r.logger.Warn("region excluded", "dataset", string(ds), "region", region, "error", err)
				excluded = append(excluded, Exclusion{
					Unit:   domain.UnitKey{DatasetID: ds, RegionID: region},
					Kind:   domain.KindOf(err),
					Reason: err.Error(),
				})
				continue
			}
			comparisons = append(comparisons, cmp)
			perDataset[ds] = cmp
		}

		report, err := compare.Estimate(region, perDataset)
		if err != nil {
			r.logger.Warn("region has no uncertainty estimate", "region", region, "error", err)
			excluded = append(excluded, Exclusion{
				Unit:   domain.UnitKey{RegionID: region},
				Kind:   domain.KindOf(err),
				Reason: err.Error(),
			})
			continue
		}
		reports = append(reports, report)
	}
	return comparisons, reports, excluded
}

func regions(glaciers []domain.Glacier) []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range glaciers {
		if !seen[g.RegionID] {
			seen[g.RegionID] = true
			out = append(out, g.RegionID)
		}
	}
	sort.Strings(out)
	return out
}

func sortSummaries(rows []domain.ClimateSummary) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].GlacierID < rows[j].GlacierID })
}

func sortBalances(rows []domain.SimulatedMassBalance) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].GlacierID < rows[j].GlacierID })
}
