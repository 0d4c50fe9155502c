package archive

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fhs/go-netcdf/netcdf"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

const fill = -9999

// createMonthlyNC writes a [time, lat, lon] FLOAT variable with values
// value(t, i, j), a CF time axis and optionally an elevation field.
func createMonthlyNC(t *testing.T, path, varName, units string, times []float64, lats, lons []float64, elev []float64, value func(ti, i, j int) float32) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := netcdf.CreateFile(path, netcdf.CLOBBER)
	if err != nil {
		t.Fatalf("create nc: %v", err)
	}
	defer f.Close()

	timeDim, _ := f.AddDim("time", uint64(len(times)))
	latDim, _ := f.AddDim("lat", uint64(len(lats)))
	lonDim, _ := f.AddDim("lon", uint64(len(lons)))
	vt, _ := f.AddVar("time", netcdf.DOUBLE, []netcdf.Dim{timeDim})
	vlat, _ := f.AddVar("lat", netcdf.DOUBLE, []netcdf.Dim{latDim})
	vlon, _ := f.AddVar("lon", netcdf.DOUBLE, []netcdf.Dim{lonDim})
	vdata, _ := f.AddVar(varName, netcdf.FLOAT, []netcdf.Dim{timeDim, latDim, lonDim})
	var velev netcdf.Var
	if elev != nil {
		velev, _ = f.AddVar("elevation", netcdf.DOUBLE, []netcdf.Dim{latDim, lonDim})
	}
	if err := vt.Attr("units").WriteBytes([]byte(units)); err != nil {
		t.Fatalf("write units: %v", err)
	}
	if err := vdata.Attr("_FillValue").WriteFloat32s([]float32{fill}); err != nil {
		t.Fatalf("write fill: %v", err)
	}

	if err := f.EndDef(); err != nil {
		t.Fatalf("enddef: %v", err)
	}

	if err := vt.WriteFloat64s(times); err != nil {
		t.Fatalf("write time: %v", err)
	}
	if err := vlat.WriteFloat64s(lats); err != nil {
		t.Fatalf("write lat: %v", err)
	}
	if err := vlon.WriteFloat64s(lons); err != nil {
		t.Fatalf("write lon: %v", err)
	}
	flat := make([]float32, 0, len(times)*len(lats)*len(lons))
	for ti := range times {
		for i := range lats {
			for j := range lons {
				flat = append(flat, value(ti, i, j))
			}
		}
	}
	if err := vdata.WriteFloat32s(flat); err != nil {
		t.Fatalf("write %s: %v", varName, err)
	}
	if elev != nil {
		if err := velev.WriteFloat64s(elev); err != nil {
			t.Fatalf("write elevation: %v", err)
		}
	}
}

// monthsSince1960 returns the CR2MET time coordinates for whole years.
func monthsSince1960(startYear, endYear int) []float64 {
	var out []float64
	for m := (startYear - 1960) * 12; m < (endYear-1960+1)*12; m++ {
		out = append(out, float64(m))
	}
	return out
}

// cr2metFixture writes separate tmean and pr files for 1999-2001 on a
// 2x2 grid with a descending latitude axis.
func cr2metFixture(t *testing.T) FileConfig {
	dir := t.TempDir()
	times := monthsSince1960(1999, 2001)
	lats := []float64{-49.0, -50.0}
	lons := []float64{-74.0, -73.0}
	elev := []float64{900, 1100, 1300, 1500}

	tPath := filepath.Join(dir, "CR2MET_tmean.nc")
	pPath := filepath.Join(dir, "CR2MET_pr.nc")
	createMonthlyNC(t, tPath, "tmean", "months since 1960-01-01", times, lats, lons, elev,
		func(ti, i, j int) float32 {
			if ti == 14 && i == 1 && j == 0 {
				return fill
			}
			return float32(ti%12) + float32(10*i+j)
		})
	createMonthlyNC(t, pPath, "pr", "months since 1960-01-01", times, lats, lons, nil,
		func(ti, i, j int) float32 { return float32(100 + ti) })

	return FileConfig{Dataset: domain.DatasetCR2MET, TempPath: tPath, PrcpPath: pPath}
}

// TestStore_ReadCell tests nearest-cell extraction across separate files.
func TestStore_ReadCell(t *testing.T) {
	s := NewStore(cr2metFixture(t))
	defer s.Close()

	p := domain.Period{StartYear: 2000, EndYear: 2001}
	cell, err := s.ReadCell(context.Background(), -49.9, -73.9, p)
	if err != nil {
		t.Fatalf("ReadCell: %v", err)
	}
	if cell.Lat != -50 || cell.Lon != -74 {
		t.Errorf("nearest cell: expected (-50, -74), got (%v, %v)", cell.Lat, cell.Lon)
	}
	if len(cell.Months) != 24 {
		t.Fatalf("expected 24 months, got %d", len(cell.Months))
	}
	if cell.Months[0] != p.First() || cell.Months[23] != p.Last() {
		t.Errorf("span: got %s..%s", cell.Months[0], cell.Months[23])
	}
	// 2000-01 is index 12 on the file axis.
	if cell.Temp[0] != 10 {
		t.Errorf("temp 2000-01: expected 10, got %v", cell.Temp[0])
	}
	if cell.Prcp[0] != 112 || cell.Prcp[23] != 135 {
		t.Errorf("prcp: got %v .. %v", cell.Prcp[0], cell.Prcp[23])
	}
	if !cell.HasElevation || cell.ElevationM != 1300 {
		t.Errorf("elevation: expected 1300, got %v (known=%v)", cell.ElevationM, cell.HasElevation)
	}
}

// TestStore_ReadCell_FillValue tests that fill values are flagged missing.
func TestStore_ReadCell_FillValue(t *testing.T) {
	s := NewStore(cr2metFixture(t))
	defer s.Close()

	cell, err := s.ReadCell(context.Background(), -50, -74, domain.Period{StartYear: 2000, EndYear: 2001})
	if err != nil {
		t.Fatalf("ReadCell: %v", err)
	}
	if cell.MissingCount() != 1 || !cell.Missing[2] || !math.IsNaN(cell.Temp[2]) {
		t.Errorf("expected only 2000-03 missing, got %v", cell.Missing)
	}
}

// TestStore_ReadCell_OutOfRange tests that periods beyond the file fail.
func TestStore_ReadCell_OutOfRange(t *testing.T) {
	s := NewStore(cr2metFixture(t))
	defer s.Close()

	_, err := s.ReadCell(context.Background(), -50, -74, domain.Period{StartYear: 1999, EndYear: 2020})
	var oor *domain.OutOfRangeError
	if !errors.As(err, &oor) {
		t.Fatalf("expected OutOfRangeError, got %v", err)
	}
	if oor.DatasetID != domain.DatasetCR2MET {
		t.Errorf("dataset: got %s", oor.DatasetID)
	}

	first, last, err := s.Coverage()
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if first.Year != 1999 || last.Year != 2001 || last.Month != 12 {
		t.Errorf("coverage: got %s..%s", first, last)
	}
}

// TestStore_ReadCell_Reanalysis tests a combined file on a 0..360 axis
// with an hourly time encoding and no elevation field.
func TestStore_ReadCell_Reanalysis(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "era5_monthly.nc")

	// Mid-month timestamps, hours since 1900-01-01.
	var times []float64
	days := 36524.0 // 2000-01-01
	for y := 2000; y <= 2001; y++ {
		for m := 1; m <= 12; m++ {
			times = append(times, (days+14)*24)
			days += float64((domain.YearMonth{Year: y, Month: time.Month(m)}).DaysIn())
		}
	}
	createMonthlyNC(t, path, "t2m", "hours since 1900-01-01 00:00:00.0", times,
		[]float64{-49.75, -50.0}, []float64{286.0, 286.25}, nil,
		func(ti, i, j int) float32 { return 273.15 + float32(j) })

	s := NewStore(FileConfig{Dataset: domain.DatasetERA5, TempPath: path, Names: VarNames{
		Lat: []string{"lat"}, Lon: []string{"lon"}, Time: []string{"time"},
		Temp: []string{"t2m"}, Prcp: []string{"t2m"}, Elevation: []string{"z"},
	}})
	defer s.Close()

	cell, err := s.ReadCell(context.Background(), -50, -73.75, domain.Period{StartYear: 2000, EndYear: 2001})
	if err != nil {
		t.Fatalf("ReadCell: %v", err)
	}
	if cell.Lon != 286.25 {
		t.Errorf("wrapped longitude: expected 286.25, got %v", cell.Lon)
	}
	if math.Abs(cell.Temp[0]-274.15) > 1e-4 {
		t.Errorf("temp: expected 274.15, got %v", cell.Temp[0])
	}
	if cell.HasElevation {
		t.Error("expected no elevation")
	}
	if cell.MissingCount() != 0 {
		t.Errorf("expected no missing months, got %d", cell.MissingCount())
	}
}
