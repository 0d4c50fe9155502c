// Package archive provides access to monthly climate archives stored as
// CF-convention NetCDF files (CR2MET, ERA5 monthly means, CRU TS).
package archive

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/fhs/go-netcdf/netcdf"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/grid"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/store"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

// VarNames lists candidate variable names, tried in order.
type VarNames struct {
	Lat       []string
	Lon       []string
	Time      []string
	Temp      []string
	Prcp      []string
	Elevation []string
}

// DefaultVarNames covers the names used by the supported archives.
func DefaultVarNames() VarNames {
	return VarNames{
		Lat:       []string{"lat", "latitude", "y"},
		Lon:       []string{"lon", "longitude", "x"},
		Time:      []string{"time", "valid_time", "t"},
		Temp:      []string{"tmean", "t2m", "tmp", "temp"},
		Prcp:      []string{"pr", "pr_month", "tp", "pre", "prcp"},
		Elevation: []string{"elevation", "z", "orog", "hgt"},
	}
}

// FileConfig locates an archive's variables. TempPath is required;
// PrcpPath and ElevationPath default to TempPath when empty.
type FileConfig struct {
	Dataset       domain.DatasetID
	TempPath      string
	PrcpPath      string
	ElevationPath string
	// GeopotentialElevation marks the elevation field as surface
	// geopotential (m2 s-2, as ERA5 ships it) to be divided by g.
	GeopotentialElevation bool
	Names                 VarNames
}

// standardGravity converts geopotential to geopotential height.
const standardGravity = 9.80665

// Store reads cells from NetCDF archives. The NetCDF C library is not safe
// for concurrent use, so all file access is serialized.
type Store struct {
	cfg   FileConfig
	mu    sync.Mutex
	files map[string]*ncFile // Open files by path.

	elevOnce sync.Once
	elev     *elevationGrid
	elevErr  error
}

var _ store.ClimateGridReader = (*Store)(nil)

type ncFile struct {
	f     netcdf.File
	lat   []float64
	lon   []float64
	times []domain.YearMonth // Nil when the file has no time axis.
}

type elevationGrid struct {
	lat, lon []float64
	values   [][]float64
}

// NewStore creates a new NetCDF archive store.
func NewStore(cfg FileConfig) *Store {
	if cfg.PrcpPath == "" {
		cfg.PrcpPath = cfg.TempPath
	}
	if cfg.ElevationPath == "" {
		cfg.ElevationPath = cfg.TempPath
	}
	if cfg.Names.Temp == nil {
		cfg.Names = DefaultVarNames()
	}
	return &Store{cfg: cfg, files: make(map[string]*ncFile)}
}

// Coverage returns the months covered by both temperature and precipitation.
func (s *Store) Coverage() (domain.YearMonth, domain.YearMonth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tf, err := s.open(s.cfg.TempPath)
	if err != nil {
		return domain.YearMonth{}, domain.YearMonth{}, err
	}
	pf, err := s.open(s.cfg.PrcpPath)
	if err != nil {
		return domain.YearMonth{}, domain.YearMonth{}, err
	}
	if len(tf.times) == 0 || len(pf.times) == 0 {
		return domain.YearMonth{}, domain.YearMonth{}, fmt.Errorf("%s: archive has no time axis", s.cfg.Dataset)
	}
	first, last := tf.times[0], tf.times[len(tf.times)-1]
	if first.Before(pf.times[0]) {
		first = pf.times[0]
	}
	if pl := pf.times[len(pf.times)-1]; pl.Before(last) {
		last = pl
	}
	return first, last, nil
}

// ReadCell returns the nearest cell's temperature and precipitation over
// period, in the archive's native units.
func (s *Store) ReadCell(ctx context.Context, lat, lon float64, period domain.Period) (store.CellSeries, error) {
	if err := ctx.Err(); err != nil {
		return store.CellSeries{}, err
	}

	temp, cLat, cLon, months, err := s.readSeries(s.cfg.TempPath, s.cfg.Names.Temp, lat, lon, period)
	if err != nil {
		return store.CellSeries{}, fmt.Errorf("%s temperature: %w", s.cfg.Dataset, err)
	}
	prcp, _, _, _, err := s.readSeries(s.cfg.PrcpPath, s.cfg.Names.Prcp, lat, lon, period)
	if err != nil {
		return store.CellSeries{}, fmt.Errorf("%s precipitation: %w", s.cfg.Dataset, err)
	}

	out := store.CellSeries{
		Lat:     cLat,
		Lon:     cLon,
		Months:  months,
		Temp:    temp,
		Prcp:    prcp,
		Missing: make([]bool, len(months)),
	}
	for i := range months {
		out.Missing[i] = math.IsNaN(temp[i]) || math.IsNaN(prcp[i])
	}

	if z, ok, err := s.elevationAt(lat, lon); err != nil {
		return store.CellSeries{}, fmt.Errorf("%s elevation: %w", s.cfg.Dataset, err)
	} else if ok {
		out.ElevationM = z
		out.HasElevation = true
	}
	return out, nil
}

// Close closes every open file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	for path, f := range s.files {
		if err := f.f.Close(); err != nil && first == nil {
			first = fmt.Errorf("failed to close %s: %w", path, err)
		}
		delete(s.files, path)
	}
	return first
}

// open returns the cached handle for path. Caller must hold s.mu.
func (s *Store) open(path string) (*ncFile, error) {
	if f, ok := s.files[path]; ok {
		return f, nil
	}
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file %s: %w", path, err)
	}

	f := &ncFile{f: nc}
	if f.lat, err = readAxis(nc, s.cfg.Names.Lat); err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("%s: latitude: %w", path, err)
	}
	if f.lon, err = readAxis(nc, s.cfg.Names.Lon); err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("%s: longitude: %w", path, err)
	}
	if tv, ok := findVar(nc, s.cfg.Names.Time); ok {
		raw, err := readAll(tv)
		if err != nil {
			_ = nc.Close()
			return nil, fmt.Errorf("%s: time: %w", path, err)
		}
		units, err := textAttr(tv, "units")
		if err != nil {
			_ = nc.Close()
			return nil, fmt.Errorf("%s: time units: %w", path, err)
		}
		if f.times, err = grid.DecodeCFTime(units, raw); err != nil {
			_ = nc.Close()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	s.files[path] = f
	return f, nil
}

// readSeries reads one variable's monthly series at the nearest cell.
func (s *Store) readSeries(path string, names []string, lat, lon float64, period domain.Period) ([]float64, float64, float64, []domain.YearMonth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.open(path)
	if err != nil {
		return nil, 0, 0, nil, err
	}
	if f.times == nil {
		return nil, 0, 0, nil, fmt.Errorf("%s: no time axis", path)
	}
	sel, err := grid.SelectPeriod(s.cfg.Dataset, f.times, period)
	if err != nil {
		return nil, 0, 0, nil, err
	}
	v, ok := findVar(f.f, names)
	if !ok {
		return nil, 0, 0, nil, fmt.Errorf("%s: variable not found (tried: %v)", path, names)
	}

	iLat, iLon := grid.Nearest(f.lat, f.lon, lat, lon)
	out := make([]float64, len(sel.Months))
	for i := range out {
		out[i] = math.NaN()
	}
	if sel.Lo < 0 {
		return out, f.lat[iLat], f.lon[iLon], sel.Months, nil
	}

	start, count, err := cellSlab(v, len(f.lat), len(f.lon), sel.Lo, sel.Hi-sel.Lo+1, iLat, iLon)
	if err != nil {
		return nil, 0, 0, nil, fmt.Errorf("%s: %w", path, err)
	}
	slab, err := readSlice(v, start, count)
	if err != nil {
		return nil, 0, 0, nil, fmt.Errorf("%s: %w", path, err)
	}
	for i, t := range sel.Index {
		if t >= 0 {
			out[i] = slab[t-sel.Lo]
		}
	}
	return out, f.lat[iLat], f.lon[iLon], sel.Months, nil
}

// cellSlab builds the hyperslab for one cell over nTime steps. The variable
// must be [time, lat, lon] or [time, lon, lat].
func cellSlab(v netcdf.Var, nLat, nLon, t0, nTime, iLat, iLon int) ([]uint64, []uint64, error) {
	dims, err := v.Dims()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get dimensions: %w", err)
	}
	if len(dims) != 3 {
		return nil, nil, fmt.Errorf("expected 3D [time, lat, lon] data, got %dD", len(dims))
	}
	d1, err := dims[1].Len()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get dim1 length: %w", err)
	}
	d2, err := dims[2].Len()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get dim2 length: %w", err)
	}

	//nolint:gosec // G115: Safe int to uint64 conversion for NetCDF indices.
	switch {
	case d1 == uint64(nLat) && d2 == uint64(nLon):
		return []uint64{uint64(t0), uint64(iLat), uint64(iLon)}, []uint64{uint64(nTime), 1, 1}, nil
	case d1 == uint64(nLon) && d2 == uint64(nLat):
		return []uint64{uint64(t0), uint64(iLon), uint64(iLat)}, []uint64{uint64(nTime), 1, 1}, nil
	}
	return nil, nil, fmt.Errorf("dimension mismatch: data is [_, %d, %d], expected [_, %d, %d] or [_, %d, %d]",
		d1, d2, nLat, nLon, nLon, nLat)
}

// elevationAt returns the surface elevation of the nearest cell, if the
// archive carries one. The grid is loaded once.
func (s *Store) elevationAt(lat, lon float64) (float64, bool, error) {
	s.elevOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.elev, s.elevErr = s.loadElevation()
	})
	if s.elevErr != nil {
		return 0, false, s.elevErr
	}
	if s.elev == nil {
		return 0, false, nil
	}
	iLat, iLon := grid.Nearest(s.elev.lat, s.elev.lon, lat, lon)
	z := s.elev.values[iLat][iLon]
	if math.IsNaN(z) {
		return 0, false, nil
	}
	if s.cfg.GeopotentialElevation {
		z /= standardGravity
	}
	return z, true, nil
}

// loadElevation reads the 2D elevation field. Caller must hold s.mu.
func (s *Store) loadElevation() (*elevationGrid, error) {
	f, err := s.open(s.cfg.ElevationPath)
	if err != nil {
		return nil, err
	}
	v, ok := findVar(f.f, s.cfg.Names.Elevation)
	if !ok {
		return nil, nil
	}
	dims, err := v.Dims()
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions: %w", err)
	}
	nLat, nLon := len(f.lat), len(f.lon)
	var start, count []uint64
	switch len(dims) {
	case 2:
		start, count = []uint64{0, 0}, nil
	case 3:
		// Time-invariant fields are sometimes stored with a length-1 time axis.
		start, count = []uint64{0, 0, 0}, []uint64{1}
	default:
		return nil, fmt.Errorf("expected 2D elevation, got %dD", len(dims))
	}
	last := len(dims) - 1
	a, err := dims[last-1].Len()
	if err != nil {
		return nil, err
	}
	b, err := dims[last].Len()
	if err != nil {
		return nil, err
	}
	lonLat := false
	//nolint:gosec // G115: Safe int to uint64 conversion for NetCDF dimensions.
	switch {
	case a == uint64(nLat) && b == uint64(nLon):
	case a == uint64(nLon) && b == uint64(nLat):
		lonLat = true
	default:
		return nil, fmt.Errorf("elevation dimension mismatch: [%d, %d], expected [%d, %d]", a, b, nLat, nLon)
	}
	count = append(count, a, b)

	flat, err := readSlice(v, start, count)
	if err != nil {
		return nil, err
	}
	rows := make([][]float64, a)
	for i := range rows {
		rows[i] = flat[i*int(b) : (i+1)*int(b)]
	}
	if lonLat {
		rows = transpose2D(rows)
	}
	return &elevationGrid{lat: f.lat, lon: f.lon, values: rows}, nil
}

func findVar(nc netcdf.File, names []string) (netcdf.Var, bool) {
	for _, name := range names {
		if v, err := nc.Var(name); err == nil {
			return v, true
		}
	}
	return netcdf.Var{}, false
}

func readAxis(nc netcdf.File, names []string) ([]float64, error) {
	v, ok := findVar(nc, names)
	if !ok {
		return nil, fmt.Errorf("variable not found (tried: %v)", names)
	}
	return readAll(v)
}

// readAll reads an entire 1D variable.
func readAll(v netcdf.Var) ([]float64, error) {
	dims, err := v.Dims()
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions: %w", err)
	}
	if len(dims) != 1 {
		return nil, fmt.Errorf("expected 1D variable, got %dD", len(dims))
	}
	n, err := dims[0].Len()
	if err != nil {
		return nil, err
	}
	return readSlice(v, []uint64{0}, []uint64{n})
}

// readSlice reads a hyperslab as float64, converting from the stored type
// and unpacking scale_factor, add_offset and fill values (fills become NaN).
func readSlice(v netcdf.Var, start, count []uint64) ([]float64, error) {
	varType, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get variable type: %w", err)
	}
	total := uint64(1)
	for _, c := range count {
		total *= c
	}

	var data []float64
	switch varType {
	case netcdf.DOUBLE:
		data = make([]float64, total)
		if err := v.ReadFloat64Slice(data, start, count); err != nil {
			return nil, fmt.Errorf("failed to read float64: %w", err)
		}
	case netcdf.FLOAT:
		buf := make([]float32, total)
		if err := v.ReadFloat32Slice(buf, start, count); err != nil {
			return nil, fmt.Errorf("failed to read float32: %w", err)
		}
		data = make([]float64, total)
		for i, val := range buf {
			data[i] = float64(val)
		}
	case netcdf.INT:
		buf := make([]int32, total)
		if err := v.ReadInt32Slice(buf, start, count); err != nil {
			return nil, fmt.Errorf("failed to read int32: %w", err)
		}
		data = make([]float64, total)
		for i, val := range buf {
			data[i] = float64(val)
		}
	case netcdf.SHORT:
		buf := make([]int16, total)
		if err := v.ReadInt16Slice(buf, start, count); err != nil {
			return nil, fmt.Errorf("failed to read int16: %w", err)
		}
		data = make([]float64, total)
		for i, val := range buf {
			data[i] = float64(val)
		}
	default:
		return nil, fmt.Errorf("unsupported data type: %v (expected DOUBLE, FLOAT, INT, or SHORT)", varType)
	}

	unpack(v, data)
	return data, nil
}

// netCDF default fill for floats is 9.96921e36.
const defaultFillThreshold = 9e36

func unpack(v netcdf.Var, data []float64) {
	fill, hasFill := getFillValue(v)
	scale, hasScale := numAttr(v, "scale_factor")
	offset, _ := numAttr(v, "add_offset")
	if !hasScale || scale == 0 {
		scale = 1
	}
	for i, x := range data {
		if math.IsNaN(x) || math.Abs(x) >= defaultFillThreshold {
			data[i] = math.NaN()
			continue
		}
		if hasFill && math.Abs(x-fill) <= 1e-6*math.Max(1, math.Abs(fill)) {
			data[i] = math.NaN()
			continue
		}
		data[i] = x*scale + offset
	}
}

func getFillValue(v netcdf.Var) (float64, bool) {
	for _, name := range []string{"_FillValue", "missing_value"} {
		if val, ok := numAttr(v, name); ok {
			return val, true
		}
	}
	return 0, false
}

// numAttr reads the first value of a numeric attribute.
func numAttr(v netcdf.Var, name string) (float64, bool) {
	a := v.Attr(name)
	if a == (netcdf.Attr{}) {
		return 0, false
	}
	if n, err := a.Len(); err != nil || n == 0 {
		return 0, false
	}
	buf64 := make([]float64, 1)
	if err := a.ReadFloat64s(buf64); err == nil {
		return buf64[0], true
	}
	buf32 := make([]float32, 1)
	if err := a.ReadFloat32s(buf32); err == nil {
		return float64(buf32[0]), true
	}
	bufi := make([]int32, 1)
	if err := a.ReadInt32s(bufi); err == nil {
		return float64(bufi[0]), true
	}
	return 0, false
}

func textAttr(v netcdf.Var, name string) (string, error) {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil {
		return "", fmt.Errorf("attribute %s: %w", name, err)
	}
	buf := make([]byte, n)
	if err := a.ReadBytes(buf); err != nil {
		return "", fmt.Errorf("attribute %s: %w", name, err)
	}
	return strings.TrimRight(string(buf), "\x00 "), nil
}

// transpose2D transposes a 2D array.
func transpose2D(data [][]float64) [][]float64 {
	if len(data) == 0 {
		return data
	}
	nRows, nCols := len(data), len(data[0])
	out := make([][]float64, nCols)
	for i := range out {
		out[i] = make([]float64, nRows)
		for j := 0; j < nRows; j++ {
			out[i][j] = data[j][i]
		}
	}
	return out
}
