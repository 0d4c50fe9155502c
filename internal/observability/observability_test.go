package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "json")
	logger.Debug("hidden")
	logger.Info("unit done", "dataset", "ERA5")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "unit done", rec["msg"])
	assert.Equal(t, "ERA5", rec["dataset"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "debug", "text").Debug("shown", "glacier", "RGI60-17.00001")
	assert.Contains(t, buf.String(), "glacier=RGI60-17.00001")
}

func TestMetricsForTesting(t *testing.T) {
	m := NewMetricsForTesting()
	m.UnitsExcluded.WithLabelValues("CRU", "missing_data").Inc()
	m.UnitsExcluded.WithLabelValues("CRU", "missing_data").Inc()
	m.ActiveWorkers.Set(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.UnitsExcluded.WithLabelValues("CRU", "missing_data")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveWorkers))

	// A second instance is independent.
	other := NewMetricsForTesting()
	assert.Equal(t, 0.0, testutil.ToFloat64(other.ActiveWorkers))
}
