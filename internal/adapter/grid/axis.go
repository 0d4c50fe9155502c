// Package grid holds the coordinate-axis helpers shared by the climate grid
// readers and an in-memory reader used for tests and small inputs.
package grid

import "math"

// NearestIndex finds the index of the value closest to target in a sorted
// axis. Both ascending and descending axes are supported.
func NearestIndex(axis []float64, target float64) int {
	n := len(axis)
	if n == 0 {
		return 0
	}
	if n > 1 && axis[0] > axis[n-1] {
		// Descending: search the mirrored axis.
		i := nearestAscending(func(k int) float64 { return -axis[k] }, n, -target)
		return i
	}
	return nearestAscending(func(k int) float64 { return axis[k] }, n, target)
}

func nearestAscending(at func(int) float64, n int, target float64) int {
	left, right := 0, n-1
	for left < right {
		mid := (left + right) / 2
		if at(mid) < target {
			left = mid + 1
		} else {
			right = mid
		}
	}
	// Check if left-1 is closer.
	if left > 0 && math.Abs(at(left-1)-target) <= math.Abs(at(left)-target) {
		return left - 1
	}
	return left
}

// LonAxisRequiresWrap reports whether a longitude axis is on 0..360.
func LonAxisRequiresWrap(lons []float64) bool {
	if len(lons) == 0 {
		return false
	}
	minVal := lons[0]
	maxVal := lons[len(lons)-1]
	if minVal > maxVal {
		minVal, maxVal = maxVal, minVal
	}
	return minVal >= 0 && maxVal > 180
}

// NormalizeLon360 maps arbitrary degree longitudes into the [0, 360) range.
func NormalizeLon360(lon float64) float64 {
	lon = math.Mod(lon, 360)
	if lon < 0 {
		lon += 360
	}
	return lon
}

// NormalizeLon180 maps arbitrary degree longitudes into the [-180, 180) range.
func NormalizeLon180(lon float64) float64 {
	lon = NormalizeLon360(lon)
	if lon >= 180 {
		lon -= 360
	}
	return lon
}

// NormalizeLonForAxis expresses lon in the same convention as the axis.
func NormalizeLonForAxis(lons []float64, lon float64) float64 {
	if LonAxisRequiresWrap(lons) {
		return NormalizeLon360(lon)
	}
	return NormalizeLon180(lon)
}

// Nearest returns the nearest (lat, lon) indices on the given axes.
func Nearest(lats, lons []float64, lat, lon float64) (int, int) {
	return NearestIndex(lats, lat), NearestIndex(lons, NormalizeLonForAxis(lons, lon))
}
