// Package simulation connects to the external mass-balance model.
package simulation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/upstream"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

// Service runs the mass-balance model for one glacier.
type Service interface {
	Run(ctx context.Context, glacierID string, climate domain.NormalizedClimateRecord, startYear, endYear int) ([]domain.AnnualBalance, error)
}

// Checked wraps a Service with argument and output validation: the period
// must be valid before the model is invoked, and the model must return
// exactly one balance for every year of it.
type Checked struct {
	Next Service
}

// Run validates, delegates and checks the result span.
func (c Checked) Run(ctx context.Context, glacierID string, climate domain.NormalizedClimateRecord, startYear, endYear int) ([]domain.AnnualBalance, error) {
	p, err := domain.NewPeriod(startYear, endYear)
	if err != nil {
		return nil, err
	}
	years, err := c.Next.Run(ctx, glacierID, climate, startYear, endYear)
	if err != nil {
		return nil, err
	}
	return years, CheckYears(climate.DatasetID, glacierID, p, years)
}

// CheckYears verifies one entry per year of p in ascending order.
func CheckYears(dataset domain.DatasetID, glacierID string, p domain.Period, years []domain.AnnualBalance) error {
	want := p.Years()
	if len(years) != len(want) {
		return &domain.CoverageError{DatasetID: dataset, GlacierID: glacierID, Want: len(want), Got: len(years),
			Detail: "simulation output does not span " + p.String()}
	}
	for i, y := range want {
		if years[i].Year != y {
			return &domain.CoverageError{DatasetID: dataset, GlacierID: glacierID, Want: len(want), Got: i,
				Detail: fmt.Sprintf("expected year %d at position %d, got %d", y, i, years[i].Year)}
		}
	}
	return nil
}

// Doer is the subset of upstream.Client used by Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the simulation service over HTTP.
type Client struct {
	baseURL string
	http    Doer
}

// NewUpstream builds the retrying transport for the simulation service.
// Model failures for one glacier come back as error statuses, so only
// network failures count toward opening the shared breaker; otherwise
// one bad glacier would get unrelated glaciers excluded.
func NewUpstream(httpClient *http.Client, opts ...upstream.Option) *upstream.Client {
	opts = append([]upstream.Option{upstream.WithTransportFailuresOnly()}, opts...)
	return upstream.New(httpClient, "simulation", upstream.DefaultRetryPolicy(), "glacierunc", opts...)
}

// NewClient creates a Client for the service at baseURL. A nil doer uses NewUpstream.
func NewClient(baseURL string, doer Doer) *Client {
	if doer == nil {
		doer = NewUpstream(nil)
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: doer}
}

type monthJSON struct {
	Year   int     `json:"year"`
	Month  int     `json:"month"`
	TempC  float64 `json:"temp_c"`
	PrcpMm float64 `json:"prcp_mm"`
}

type runRequest struct {
	GlacierID      string      `json:"glacier_id"`
	DatasetID      string      `json:"dataset_id"`
	AdapterVersion string      `json:"adapter_version"`
	StartYear      int         `json:"start_year"`
	EndYear        int         `json:"end_year"`
	RefElevationM  float64     `json:"ref_elevation_m"`
	GridElevationM float64     `json:"grid_elevation_m"`
	Months         []monthJSON `json:"months"`
}

type runResponse struct {
	GlacierID string                 `json:"glacier_id"`
	Years     []domain.AnnualBalance `json:"years"`
	Error     string                 `json:"error,omitempty"`
}

// Run posts the forcing and decodes the annual balances.
func (c *Client) Run(ctx context.Context, glacierID string, climate domain.NormalizedClimateRecord, startYear, endYear int) ([]domain.AnnualBalance, error) {
	body := runRequest{
		GlacierID:      glacierID,
		DatasetID:      string(climate.DatasetID),
		AdapterVersion: climate.AdapterVersion,
		StartYear:      startYear,
		EndYear:        endYear,
		RefElevationM:  climate.RefElevationM,
		GridElevationM: climate.GridElevationM,
		Months:         make([]monthJSON, len(climate.Series.Months)),
	}
	for i, m := range climate.Series.Months {
		body.Months[i] = monthJSON{Year: m.Year, Month: m.Month, TempC: m.TempC, PrcpMm: m.PrcpMm}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/mass-balance", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.SimulationError{GlacierID: glacierID, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.SimulationError{GlacierID: glacierID, Err: err}
	}
	var out runResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil && resp.StatusCode == http.StatusOK {
			return nil, &domain.SimulationError{GlacierID: glacierID, Err: fmt.Errorf("invalid response: %w", err)}
		}
	}
	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &domain.SimulationError{GlacierID: glacierID, Err: fmt.Errorf("status %d: %s", resp.StatusCode, msg)}
	}
	return out.Years, nil
}
