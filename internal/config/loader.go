package config

import (
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

// Override mutates a freshly parsed Config before validation. CLI flags are
// applied this way.
type Override func(*Config)

// Load reads a .env file if present, processes the environment into a
// Config, applies overrides, and validates the result. Archive paths are
// checked separately by CheckArchives.
func Load(overrides ...Override) (*Config, error) {
	// Missing .env is not an error; existing variables are not overridden.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}
	for _, o := range overrides {
		o(&cfg)
	}
	cfg.normalize()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	return &cfg, nil
}

// CheckArchives requires a temperature path for every selected dataset.
// Commands that never open an archive skip it.
func (c *Config) CheckArchives() error {
	for _, id := range c.Datasets() {
		var path string
		switch id {
		case domain.DatasetCR2MET:
			path = c.Archives.CR2METTempPath
		case domain.DatasetERA5:
			path = c.Archives.ERA5Path
		case domain.DatasetCRU:
			path = c.Archives.CRUTempPath
		}
		if path == "" {
			return &ConfigError{
				Type:    ErrArchive,
				Message: "no archive path configured for " + string(id),
			}
		}
	}
	return nil
}
