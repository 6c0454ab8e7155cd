package main

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
)

// Config is the HCL-backed run configuration for a full-grid prediction
// pass over one archive member.
type Config struct {
	// Archive is the tar archive holding the dataset.
	Archive string `hcl:"archive"`

	// Member selects which archive member to iterate.
	Member int `hcl:"member,optional"`

	// Cutoff is the atomic interaction cutoff distance in Å.
	Cutoff float64 `hcl:"cutoff,optional"`

	// ProbesPerSlice is the number of grid points per work unit.
	ProbesPerSlice int `hcl:"probes_per_slice,optional"`

	// Workers is the slice worker count. The HCL file may reference the
	// `cpus` variable to scale with the machine.
	Workers int `hcl:"workers,optional"`

	// Output is the Arrow IPC file the grid results are written to.
	Output string `hcl:"output"`

	// IgnorePBC forces non-periodic treatment of the structure.
	IgnorePBC bool `hcl:"ignore_pbc,optional"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `hcl:"log_level,optional"`
}

// LoadConfig reads and validates an HCL configuration file. The evaluation
// context exposes `cpus` so files can write `workers = cpus`.
func LoadConfig(path string) (*Config, error) {
	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"cpus": cty.NumberIntVal(int64(runtime.NumCPU())),
		},
	}
	cfg := &Config{
		Cutoff:         5.0,
		ProbesPerSlice: 5000,
		Workers:        6,
		LogLevel:       "info",
	}
	if err := hclsimple.DecodeFile(path, evalCtx, cfg); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	if cfg.Archive == "" {
		return nil, fmt.Errorf("config %s: archive must be set", path)
	}
	if cfg.Output == "" {
		return nil, fmt.Errorf("config %s: output must be set", path)
	}
	if cfg.Cutoff <= 0 {
		return nil, fmt.Errorf("config %s: cutoff must be positive", path)
	}
	if cfg.ProbesPerSlice <= 0 || cfg.Workers <= 0 {
		return nil, fmt.Errorf("config %s: probes_per_slice and workers must be positive", path)
	}
	return cfg, nil
}

// logLevel maps the configured level name to a slog level.
func (c *Config) logLevel() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
}
