package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/upstream"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

type fakeService struct {
	calls int
	years []domain.AnnualBalance
}

func (f *fakeService) Run(_ context.Context, _ string, _ domain.NormalizedClimateRecord, _, _ int) ([]domain.AnnualBalance, error) {
	f.calls++
	return f.years, nil
}

func balances(years ...int) []domain.AnnualBalance {
	out := make([]domain.AnnualBalance, len(years))
	for i, y := range years {
		out[i] = domain.AnnualBalance{Year: y, MassBalanceMmWE: -float64(i)}
	}
	return out
}

func TestChecked_RejectsInvalidPeriodBeforeInvoking(t *testing.T) {
	f := &fakeService{}
	_, err := Checked{Next: f}.Run(context.Background(), "g1", domain.NormalizedClimateRecord{}, 2020, 2020)
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)
	assert.Zero(t, f.calls)
}

func TestChecked_IncompleteOutput(t *testing.T) {
	f := &fakeService{years: balances(2000, 2001)}
	_, err := Checked{Next: f}.Run(context.Background(), "g1", domain.NormalizedClimateRecord{DatasetID: domain.DatasetCRU}, 2000, 2002)
	var cov *domain.CoverageError
	require.ErrorAs(t, err, &cov)
	assert.Equal(t, 3, cov.Want)
	assert.Equal(t, 2, cov.Got)
}

func TestChecked_CompleteOutput(t *testing.T) {
	f := &fakeService{years: balances(2000, 2001, 2002)}
	years, err := Checked{Next: f}.Run(context.Background(), "g1", domain.NormalizedClimateRecord{}, 2000, 2002)
	require.NoError(t, err)
	assert.Len(t, years, 3)
}

func TestClient_Run(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/mass-balance", r.URL.Path)
		var req runRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "g1", req.GlacierID)
		assert.Equal(t, "ERA5", req.DatasetID)
		assert.Len(t, req.Months, 24)
		_ = json.NewEncoder(w).Encode(runResponse{GlacierID: req.GlacierID, Years: balances(2000, 2001)})
	}))
	defer server.Close()

	p := domain.Period{StartYear: 2000, EndYear: 2001}
	rec := domain.NormalizedClimateRecord{GlacierID: "g1", DatasetID: domain.DatasetERA5, Period: p}
	for _, ym := range p.Months() {
		rec.Series.Months = append(rec.Series.Months, domain.MonthlyClimate{Year: ym.Year, Month: int(ym.Month)})
	}

	years, err := NewClient(server.URL+"/", server.Client()).Run(context.Background(), "g1", rec, 2000, 2001)
	require.NoError(t, err)
	assert.Equal(t, balances(2000, 2001), years)
}

func TestClient_ModelFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"glacier exceeds domain"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, server.Client()).Run(context.Background(), "g9", domain.NormalizedClimateRecord{}, 2000, 2001)
	var se *domain.SimulationError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "g9", se.GlacierID)
	assert.Contains(t, err.Error(), "glacier exceeds domain")
	assert.Equal(t, domain.KindSimulation, domain.KindOf(err))
}

// TestClient_GlacierFailuresKeepBreakerClosed tests that repeated model
// failures for one glacier do not exclude other glaciers as circuit open.
func TestClient_GlacierFailuresKeepBreakerClosed(t *testing.T) {
	var badCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req runRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch req.GlacierID {
		case "bad-5xx":
			w.WriteHeader(http.StatusInternalServerError)
		case "bad-422":
			badCalls.Add(1)
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"mass balance diverged"}`))
		default:
			_ = json.NewEncoder(w).Encode(runResponse{GlacierID: req.GlacierID, Years: balances(2000, 2001)})
		}
	}))
	defer server.Close()

	transport := NewUpstream(server.Client(),
		upstream.WithBreakerSettings(gobreaker.Settings{
			Name:        "trip-fast",
			ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 2 },
			Timeout:     time.Minute,
		}),
		upstream.WithSleepFunc(func(context.Context, time.Duration) bool { return true }))
	client := NewClient(server.URL, transport)

	for i := 0; i < 3; i++ {
		_, err := client.Run(context.Background(), "bad-5xx", domain.NormalizedClimateRecord{}, 2000, 2001)
		assert.Equal(t, domain.KindSimulation, domain.KindOf(err))
		assert.NotErrorIs(t, err, upstream.ErrCircuitOpen)

		_, err = client.Run(context.Background(), "bad-422", domain.NormalizedClimateRecord{}, 2000, 2001)
		assert.ErrorContains(t, err, "mass balance diverged")
	}
	assert.Equal(t, int32(3), badCalls.Load(), "422 is not retried")
	assert.Equal(t, "closed", transport.State())

	years, err := client.Run(context.Background(), "good", domain.NormalizedClimateRecord{}, 2000, 2001)
	require.NoError(t, err)
	assert.Len(t, years, 2)
}
