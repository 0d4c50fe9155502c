package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for input and lookup failures.
var (
	ErrUnknownRegion  = errors.New("unknown region")
	ErrUnknownDataset = errors.New("unknown dataset")
	ErrInvalidPeriod  = errors.New("invalid period")
)

// ErrorKind is the stable manifest label for a failure class.
type ErrorKind string

const (
	KindOutOfRange           ErrorKind = "out_of_range"
	KindMissingData          ErrorKind = "missing_data"
	KindCoverage             ErrorKind = "coverage"
	KindEmptyCohort          ErrorKind = "empty_cohort"
	KindInsufficientDatasets ErrorKind = "insufficient_datasets"
	KindSimulation           ErrorKind = "simulation"
	KindInput                ErrorKind = "input"
	KindCanceled             ErrorKind = "canceled"
)

// OutOfRangeError reports a requested period that extends beyond an archive's coverage.
type OutOfRangeError struct {
	DatasetID DatasetID
	Requested Period
	Covered   [2]YearMonth // First and last month present in the archive.
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s: requested %s outside archive coverage %s..%s",
		e.DatasetID, e.Requested, e.Covered[0], e.Covered[1])
}

// MissingDataError reports a month absent from a sparse archive.
type MissingDataError struct {
	DatasetID DatasetID
	GlacierID string
	Month     YearMonth
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("%s: glacier %s: no data for %s", e.DatasetID, e.GlacierID, e.Month)
}

// CoverageError reports output that does not span the requested period.
type CoverageError struct {
	DatasetID DatasetID
	GlacierID string
	Want      int
	Got       int
	Detail    string
}

func (e *CoverageError) Error() string {
	msg := fmt.Sprintf("%s: glacier %s: incomplete coverage (want %d, got %d)", e.DatasetID, e.GlacierID, e.Want, e.Got)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// EmptyCohortError reports a region with no glaciers present in both simulated and observed data.
type EmptyCohortError struct {
	RegionID  string
	DatasetID DatasetID
	Excluded  int
}

func (e *EmptyCohortError) Error() string {
	return fmt.Sprintf("region %s (%s): no joinable glaciers (%d excluded)", e.RegionID, e.DatasetID, e.Excluded)
}

// InsufficientDatasetsError reports fewer than two datasets available for a region.
type InsufficientDatasetsError struct {
	RegionID string
	Have     int
}

func (e *InsufficientDatasetsError) Error() string {
	return fmt.Sprintf("region %s: cross-dataset estimate needs at least 2 datasets, have %d", e.RegionID, e.Have)
}

// SimulationError wraps a failure reported by the mass-balance simulation service.
type SimulationError struct {
	GlacierID string
	Err       error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation failed for glacier %s: %v", e.GlacierID, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *SimulationError) Unwrap() error {
	return e.Err
}

// KindOf classifies err for the run manifest.
func KindOf(err error) ErrorKind {
	var (
		outOfRange *OutOfRangeError
		missing    *MissingDataError
		coverage   *CoverageError
		empty      *EmptyCohortError
		few        *InsufficientDatasetsError
		sim        *SimulationError
	)
	switch {
	case errors.As(err, &outOfRange):
		return KindOutOfRange
	case errors.As(err, &missing):
		return KindMissingData
	case errors.As(err, &coverage):
		return KindCoverage
	case errors.As(err, &empty):
		return KindEmptyCohort
	case errors.As(err, &few):
		return KindInsufficientDatasets
	case errors.As(err, &sim):
		return KindSimulation
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInput
	}
}
