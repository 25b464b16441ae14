// Package config holds the pipeline configuration. Values resolve in three
// layers: built-in defaults, an optional JSON file, then environment
// variables. Fields are pointers so a partial config file only overrides
// what it names; the Get* accessors supply defaults for the rest.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/measo-data/biomass.report/internal/grid"
)

// Default analysis windows: a historical reference decade and a
// matching end-of-century future decade.
const (
	DefaultReferenceStartYear = 2005
	DefaultReferenceEndYear   = 2014
	DefaultFutureStartYear    = 2091
	DefaultFutureEndYear      = 2100
)

// DefaultDatabaseFile is the run-archive filename created under output_root
// unless an explicit database path is configured.
const DefaultDatabaseFile = "biomass_runs.db"

// Config is the root pipeline configuration. The JSON schema doubles as the
// config-file format, so the same document can be checked into an analysis
// directory and reused across runs.
type Config struct {
	// Roots
	InputRoot  *string `json:"input_root,omitempty" env:"BIOMASS_INPUT_ROOT"`
	OutputRoot *string `json:"output_root,omitempty" env:"BIOMASS_OUTPUT_ROOT"`

	// Run archive
	DatabasePath *string `json:"database_path,omitempty" env:"BIOMASS_DATABASE_PATH"`
	DisableDB    *bool   `json:"disable_db,omitempty" env:"BIOMASS_DISABLE_DB"`

	// Analysis windows and scenarios
	Scenarios          []string `json:"scenarios,omitempty" env:"BIOMASS_SCENARIOS"`
	ReferenceStartYear *int     `json:"reference_start_year,omitempty" env:"BIOMASS_REFERENCE_START_YEAR"`
	ReferenceEndYear   *int     `json:"reference_end_year,omitempty" env:"BIOMASS_REFERENCE_END_YEAR"`
	FutureStartYear    *int     `json:"future_start_year,omitempty" env:"BIOMASS_FUTURE_START_YEAR"`
	FutureEndYear      *int     `json:"future_end_year,omitempty" env:"BIOMASS_FUTURE_END_YEAR"`

	// Regional mask tables
	CCAMLRMaskPath *string `json:"ccamlr_mask_path,omitempty" env:"BIOMASS_CCAMLR_MASK_PATH"`
	CCAMLRKeyPath  *string `json:"ccamlr_key_path,omitempty" env:"BIOMASS_CCAMLR_KEY_PATH"`
	MEASOMaskPath  *string `json:"measo_mask_path,omitempty" env:"BIOMASS_MEASO_MASK_PATH"`
	Schemes        []string `json:"schemes,omitempty" env:"BIOMASS_SCHEMES"`

	// Per-source longitude corrections onto the shared lattice.
	LonOffsets []grid.OffsetRule `json:"lon_offsets,omitempty"`

	// Worker pool size for per-model reductions.
	Workers *int `json:"workers,omitempty" env:"BIOMASS_WORKERS"`
}

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file and applies environment overrides.
// Fields omitted from the file keep their defaults, so partial configs are
// safe.
func Load(path string) (*Config, error) {
	cfg := Empty()

	if path != "" {
		cleanPath := filepath.Clean(path)
		if ext := filepath.Ext(cleanPath); ext != ".json" {
			return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
		}
		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overlays BIOMASS_* environment variables onto the config.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// Validate checks the configuration for values that would make a run
// meaningless. Unset fields are fine; the accessors default them.
func (c *Config) Validate() error {
	if c.ReferenceStartYear != nil && c.ReferenceEndYear != nil &&
		*c.ReferenceStartYear > *c.ReferenceEndYear {
		return fmt.Errorf("reference window start %d after end %d", *c.ReferenceStartYear, *c.ReferenceEndYear)
	}
	if c.FutureStartYear != nil && c.FutureEndYear != nil &&
		*c.FutureStartYear > *c.FutureEndYear {
		return fmt.Errorf("future window start %d after end %d", *c.FutureStartYear, *c.FutureEndYear)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	for _, s := range c.Schemes {
		switch strings.ToLower(s) {
		case "ccamlr", "measo":
		default:
			return fmt.Errorf("unknown region scheme %q", s)
		}
	}
	return nil
}

// GetInputRoot returns the directory holding raw model series and masks.
func (c *Config) GetInputRoot() string {
	if c.InputRoot != nil {
		return *c.InputRoot
	}
	return "."
}

// GetOutputRoot returns the destination for all intermediate and final
// artifacts.
func (c *Config) GetOutputRoot() string {
	if c.OutputRoot != nil {
		return *c.OutputRoot
	}
	return "output"
}

// GetDatabasePath returns the run-archive database path.
func (c *Config) GetDatabasePath() string {
	if c.DatabasePath != nil {
		return *c.DatabasePath
	}
	return filepath.Join(c.GetOutputRoot(), DefaultDatabaseFile)
}

// GetDisableDB reports whether the run archive is disabled.
func (c *Config) GetDisableDB() bool {
	return c.DisableDB != nil && *c.DisableDB
}

// GetScenarios returns the emissions scenarios contributing a future decade.
func (c *Config) GetScenarios() []string {
	if len(c.Scenarios) > 0 {
		return c.Scenarios
	}
	return []string{"ssp126", "ssp585"}
}

// GetReferenceWindow returns the inclusive historical reference years.
func (c *Config) GetReferenceWindow() (start, end int) {
	start, end = DefaultReferenceStartYear, DefaultReferenceEndYear
	if c.ReferenceStartYear != nil {
		start = *c.ReferenceStartYear
	}
	if c.ReferenceEndYear != nil {
		end = *c.ReferenceEndYear
	}
	return start, end
}

// GetFutureWindow returns the inclusive future decade years.
func (c *Config) GetFutureWindow() (start, end int) {
	start, end = DefaultFutureStartYear, DefaultFutureEndYear
	if c.FutureStartYear != nil {
		start = *c.FutureStartYear
	}
	if c.FutureEndYear != nil {
		end = *c.FutureEndYear
	}
	return start, end
}

// GetCCAMLRMaskPath returns the rasterized CCAMLR planning-domain table.
func (c *Config) GetCCAMLRMaskPath() string {
	if c.CCAMLRMaskPath != nil {
		return *c.CCAMLRMaskPath
	}
	return filepath.Join(c.GetInputRoot(), "masks", "ccamlr_domains.csv")
}

// GetCCAMLRKeyPath returns the numeric-key to display-name table.
func (c *Config) GetCCAMLRKeyPath() string {
	if c.CCAMLRKeyPath != nil {
		return *c.CCAMLRKeyPath
	}
	return filepath.Join(c.GetInputRoot(), "masks", "ccamlr_domain_names.csv")
}

// GetMEASOMaskPath returns the rasterized MEASO assessment-region table.
func (c *Config) GetMEASOMaskPath() string {
	if c.MEASOMaskPath != nil {
		return *c.MEASOMaskPath
	}
	return filepath.Join(c.GetInputRoot(), "masks", "measo_regions.csv")
}

// GetSchemes returns the region schemes to report on.
func (c *Config) GetSchemes() []string {
	if len(c.Schemes) > 0 {
		return c.Schemes
	}
	return []string{"ccamlr", "measo"}
}

// GetLonOffsets returns the per-source longitude correction table.
func (c *Config) GetLonOffsets() []grid.OffsetRule {
	if c.LonOffsets != nil {
		return c.LonOffsets
	}
	return grid.DefaultOffsets()
}

// GetWorkers returns the reduction worker pool size.
func (c *Config) GetWorkers() int {
	if c.Workers != nil {
		return *c.Workers
	}
	return 4
}
