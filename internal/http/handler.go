// Package http exposes a completed run's reports over a read-only JSON API.
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/usecase"
)

// Handler handles HTTP requests for run reports.
type Handler struct {
	reports *usecase.ReportService
}

// NewHandler creates a new HTTP handler.
func NewHandler(reports *usecase.ReportService) *Handler {
	return &Handler{
		reports: reports,
	}
}

// GetDatasets handles GET /v1/datasets.
func (h *Handler) GetDatasets(c *gin.Context) {
	datasets := h.reports.Datasets()
	c.JSON(http.StatusOK, gin.H{
		"datasets": datasets,
		"count":    len(datasets),
	})
}

// GetComparisons handles GET /v1/comparisons?region=&dataset=.
func (h *Handler) GetComparisons(c *gin.Context) {
	var dataset domain.DatasetID
	if s := c.Query("dataset"); s != "" {
		id, err := domain.ParseDatasetID(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		dataset = id
	}

	rows, err := h.reports.Comparisons(c.Query("region"), dataset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"comparisons": rows,
		"count":       len(rows),
	})
}

// GetUncertainty handles GET /v1/uncertainty?region=.
func (h *Handler) GetUncertainty(c *gin.Context) {
	region := c.Query("region")
	reports, err := h.reports.Uncertainty(region)
	if err != nil {
		writeError(c, err)
		return
	}
	if region != "" && len(reports) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no uncertainty report for region " + region})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reports": reports,
		"count":   len(reports),
	})
}

// GetManifest handles GET /v1/manifest.
func (h *Handler) GetManifest(c *gin.Context) {
	m, err := h.reports.Manifest()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"run_loaded": h.reports.Ready(),
		"time":       time.Now().UTC().Format(time.RFC3339),
	})
}

func writeError(c *gin.Context, err error) {
	if errors.Is(err, usecase.ErrNoReport) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
