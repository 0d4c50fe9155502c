package domain

import (
	"fmt"
	"time"
)

// YearMonth is a calendar month.
type YearMonth struct {
	Year  int
	Month time.Month
}

// Index returns the number of months since year 0, used for ordering and gap checks.
func (ym YearMonth) Index() int {
	return ym.Year*12 + int(ym.Month) - 1
}

// Next returns the following month.
func (ym YearMonth) Next() YearMonth {
	if ym.Month == time.December {
		return YearMonth{Year: ym.Year + 1, Month: time.January}
	}
	return YearMonth{Year: ym.Year, Month: ym.Month + 1}
}

// Before reports whether ym is strictly earlier than other.
func (ym YearMonth) Before(other YearMonth) bool {
	return ym.Index() < other.Index()
}

// DaysIn returns the number of days in the month.
func (ym YearMonth) DaysIn() int {
	return time.Date(ym.Year, ym.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// Period is an inclusive range of whole calendar years, January of StartYear
// through December of EndYear.
type Period struct {
	StartYear int
	EndYear   int
}

// NewPeriod validates and returns a period. The end year is inclusive and
// must be strictly after the start year.
func NewPeriod(startYear, endYear int) (Period, error) {
	p := Period{StartYear: startYear, EndYear: endYear}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate checks that EndYear > StartYear.
func (p Period) Validate() error {
	if p.StartYear <= 0 {
		return fmt.Errorf("%w: start year %d must be positive", ErrInvalidPeriod, p.StartYear)
	}
	if p.EndYear <= p.StartYear {
		return fmt.Errorf("%w: end year %d must be after start year %d", ErrInvalidPeriod, p.EndYear, p.StartYear)
	}
	return nil
}

// First returns the first month of the period.
func (p Period) First() YearMonth {
	return YearMonth{Year: p.StartYear, Month: time.January}
}

// Last returns the last month of the period.
func (p Period) Last() YearMonth {
	return YearMonth{Year: p.EndYear, Month: time.December}
}

// NumMonths returns the count of months in the period.
func (p Period) NumMonths() int {
	return (p.EndYear - p.StartYear + 1) * 12
}

// Months lists every month in the period in order.
func (p Period) Months() []YearMonth {
	months := make([]YearMonth, 0, p.NumMonths())
	for ym := p.First(); !p.Last().Before(ym); ym = ym.Next() {
		months = append(months, ym)
	}
	return months
}

// Years lists every year in the period in order.
func (p Period) Years() []int {
	years := make([]int, 0, p.EndYear-p.StartYear+1)
	for y := p.StartYear; y <= p.EndYear; y++ {
		years = append(years, y)
	}
	return years
}

// ContainsYear reports whether year lies inside the period.
func (p Period) ContainsYear(year int) bool {
	return year >= p.StartYear && year <= p.EndYear
}

func (p Period) String() string {
	return fmt.Sprintf("%d-%d", p.StartYear, p.EndYear)
}

// GeodeticReferencePeriod is the window covered by the geodetic observations.
var GeodeticReferencePeriod = Period{StartYear: 2000, EndYear: 2019}
