// Package config defines the run configuration. Values come from the
// environment (optionally seeded from a .env file) and may be overridden by
// CLI flags before validation.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

// Config is the configuration of one pipeline run. It is built once and
// passed explicitly to the components that need it.
type Config struct {
	// BaselineClimate lists the datasets to force the model with.
	BaselineClimate []string `envconfig:"BASELINE_CLIMATE" default:"CR2MET,ERA5,CRU" validate:"min=1,dive,oneof=CR2MET ERA5 CRU"`

	StartYear    int `envconfig:"START_YEAR" validate:"required,gt=0"`
	EndYear      int `envconfig:"END_YEAR" validate:"required,gtfield=StartYear"`
	RefStartYear int `envconfig:"REF_START_YEAR" default:"2000" validate:"gt=0"`
	RefEndYear   int `envconfig:"REF_END_YEAR" default:"2019" validate:"gtfield=RefStartYear"`

	UseParallel bool `envconfig:"USE_PARALLEL" default:"true"`
	Workers     int  `envconfig:"WORKERS" default:"0" validate:"gte=0"` // 0 means runtime.NumCPU()

	Inputs   InputConfig
	Archives ArchiveConfig

	SimulationURL string `envconfig:"SIMULATION_URL" validate:"omitempty,url"`
	OutputDir     string `envconfig:"OUTPUT_DIR" default:"output" validate:"required"`
	CacheDir      string `envconfig:"CACHE_DIR" default:"cache" validate:"required"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`

	Server ServerConfig
}

// InputConfig locates the tabular inputs.
type InputConfig struct {
	InventoryPath   string `envconfig:"INVENTORY_PATH" validate:"required"`
	CalibrationPath string `envconfig:"CALIBRATION_PATH" validate:"required"`
	GeodeticPath    string `envconfig:"GEODETIC_PATH" validate:"required"`
}

// ArchiveConfig locates the climate archives. Empty URLs disable fetching.
type ArchiveConfig struct {
	CR2METTempPath      string `envconfig:"CR2MET_TEMP_PATH"`
	CR2METPrcpPath      string `envconfig:"CR2MET_PRCP_PATH"`
	CR2METElevationPath string `envconfig:"CR2MET_ELEVATION_PATH"`

	ERA5Path          string `envconfig:"ERA5_PATH"`
	ERA5ElevationPath string `envconfig:"ERA5_ELEVATION_PATH"`
	ERA5URL           string `envconfig:"ERA5_URL" validate:"omitempty,url"`
	ERA5ElevationURL  string `envconfig:"ERA5_ELEVATION_URL" validate:"omitempty,url"`
	ERA5Geopotential  bool   `envconfig:"ERA5_GEOPOTENTIAL" default:"true"`

	CRUTempPath      string `envconfig:"CRU_TEMP_PATH"`
	CRUPrcpPath      string `envconfig:"CRU_PRCP_PATH"`
	CRUElevationPath string `envconfig:"CRU_ELEVATION_PATH"`
	CRUTempURL       string `envconfig:"CRU_TEMP_URL" validate:"omitempty,url"`
	CRUPrcpURL       string `envconfig:"CRU_PRCP_URL" validate:"omitempty,url"`
}

// ServerConfig holds the report server settings.
type ServerConfig struct {
	Port               string   `envconfig:"PORT" default:"8080"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ConfigErrorType categorizes configuration failures.
type ConfigErrorType string

const (
	// ErrParsing indicates an environment value could not be parsed.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrArchive indicates a selected dataset has no usable archive path.
	ErrArchive ConfigErrorType = "ARCHIVE_MISSING"
)

// ConfigError is returned by Load.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Datasets returns the selected datasets in canonical order without duplicates.
func (c *Config) Datasets() []domain.DatasetID {
	selected := make(map[domain.DatasetID]bool, len(c.BaselineClimate))
	for _, s := range c.BaselineClimate {
		if id, err := domain.ParseDatasetID(s); err == nil {
			selected[id] = true
		}
	}
	var out []domain.DatasetID
	for _, id := range domain.AllDatasets() {
		if selected[id] {
			out = append(out, id)
		}
	}
	return out
}

// Period returns the simulation period.
func (c *Config) Period() domain.Period {
	return domain.Period{StartYear: c.StartYear, EndYear: c.EndYear}
}

// ReferencePeriod returns the geodetic comparison period.
func (c *Config) ReferencePeriod() domain.Period {
	return domain.Period{StartYear: c.RefStartYear, EndYear: c.RefEndYear}
}

// WorkerLimit returns the worker pool size.
func (c *Config) WorkerLimit() int {
	if !c.UseParallel {
		return 1
	}
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// normalize rewrites dataset aliases to their canonical names so validation
// sees CR2MET rather than "cr2".
func (c *Config) normalize() {
	for i, s := range c.BaselineClimate {
		s = strings.TrimSpace(s)
		if id, err := domain.ParseDatasetID(s); err == nil {
			s = string(id)
		}
		c.BaselineClimate[i] = s
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.LogFormat = strings.ToLower(c.LogFormat)
}
