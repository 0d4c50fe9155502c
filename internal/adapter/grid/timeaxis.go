package grid

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

// DecodeCFTime converts CF time coordinates ("<unit> since <date>") into
// calendar months. Supported units are months, days and hours.
func DecodeCFTime(units string, values []float64) ([]domain.YearMonth, error) {
	fields := strings.Fields(strings.TrimSpace(units))
	if len(fields) < 3 || !strings.EqualFold(fields[1], "since") {
		return nil, fmt.Errorf("unsupported time units %q", units)
	}
	base, err := parseCFDate(fields[2])
	if err != nil {
		return nil, fmt.Errorf("time units %q: %w", units, err)
	}

	out := make([]domain.YearMonth, len(values))
	switch strings.ToLower(fields[0]) {
	case "months", "month":
		for i, v := range values {
			n := int(math.Floor(v + 1e-6))
			t := base.AddDate(0, n, 0)
			out[i] = domain.YearMonth{Year: t.Year(), Month: t.Month()}
		}
	case "days", "day":
		for i, v := range values {
			t := base.Add(time.Duration(v * float64(24*time.Hour)))
			out[i] = domain.YearMonth{Year: t.Year(), Month: t.Month()}
		}
	case "hours", "hour":
		for i, v := range values {
			t := base.Add(time.Duration(v * float64(time.Hour)))
			out[i] = domain.YearMonth{Year: t.Year(), Month: t.Month()}
		}
	default:
		return nil, fmt.Errorf("unsupported time unit %q", fields[0])
	}
	return out, nil
}

// parseCFDate accepts "YYYY-M-D" with or without zero padding.
func parseCFDate(s string) (time.Time, error) {
	parts := strings.Split(strings.SplitN(s, "T", 2)[0], "-")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("invalid reference date %q", s)
	}
	var ymd [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid reference date %q: %w", s, err)
		}
		ymd[i] = n
	}
	return time.Date(ymd[0], time.Month(ymd[1]), ymd[2], 0, 0, 0, 0, time.UTC), nil
}

// Selection maps each month of a period to its position on a time axis.
type Selection struct {
	Months []domain.YearMonth
	// Index holds the axis position for each month, or -1 when the archive
	// has no entry for it.
	Index []int
	// Lo and Hi bound the axis positions used (inclusive), for slab reads.
	Lo, Hi int
}

// SelectPeriod locates period on an ascending time axis. It fails with
// *domain.OutOfRangeError when the period is not inside the axis.
func SelectPeriod(dataset domain.DatasetID, times []domain.YearMonth, period domain.Period) (Selection, error) {
	if len(times) == 0 {
		return Selection{}, fmt.Errorf("%s: empty time axis", dataset)
	}
	first, last := times[0], times[len(times)-1]
	if period.First().Before(first) || last.Before(period.Last()) {
		return Selection{}, &domain.OutOfRangeError{
			DatasetID: dataset,
			Requested: period,
			Covered:   [2]domain.YearMonth{first, last},
		}
	}

	pos := make(map[int]int, len(times))
	for i, ym := range times {
		if _, dup := pos[ym.Index()]; !dup {
			pos[ym.Index()] = i
		}
	}

	months := period.Months()
	sel := Selection{Months: months, Index: make([]int, len(months)), Lo: -1, Hi: -1}
	for i, ym := range months {
		idx, ok := pos[ym.Index()]
		if !ok {
			sel.Index[i] = -1
			continue
		}
		sel.Index[i] = idx
		if sel.Lo < 0 || idx < sel.Lo {
			sel.Lo = idx
		}
		if idx > sel.Hi {
			sel.Hi = idx
		}
	}
	return sel, nil
}
