// Package config provides run configuration loading for ising.
// It supports loading from YAML files and environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nvandessel/ising/internal/constants"
	"github.com/nvandessel/ising/internal/driver"
	"github.com/nvandessel/ising/internal/lattice"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// RunConfig contains all settings of a simulation run.
type RunConfig struct {
	// Lattice is the extent of the periodic square lattice.
	Lattice lattice.Shape `json:"lattice" yaml:"lattice"`

	// Seed seeds the single random source of the run.
	Seed uint64 `json:"seed" yaml:"seed"`

	// Start selects the initial configuration: "hot" (random) or "cold" (all +1).
	Start constants.Start `json:"start" yaml:"start"`

	// Sweeps contains the number of sweeps per phase.
	Sweeps SweepConfig `json:"sweeps" yaml:"sweeps"`

	// Temperatures is the schedule, in run order. Empty means the default
	// 12-point schedule 0.5, 1.0, ..., 6.0.
	Temperatures []float64 `json:"temperatures,omitempty" yaml:"temperatures,omitempty"`

	// Output contains settings for persisted results.
	Output OutputConfig `json:"output" yaml:"output"`

	// Logging contains settings for operational and phase logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Metrics contains settings for the Prometheus textfile export.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// SweepConfig configures the length of each Monte Carlo phase.
type SweepConfig struct {
	// ThermInit is the number of sweeps of the initial thermalisation.
	ThermInit int `json:"therm_init" yaml:"therm_init"`

	// Therm is the number of re-thermalisation sweeps per temperature.
	Therm SweepCounts `json:"therm" yaml:"therm"`

	// Prod is the number of measured sweeps per temperature.
	Prod SweepCounts `json:"prod" yaml:"prod"`
}

// SweepCounts is either one count for every temperature or one count per
// temperature. In YAML and JSON it is a scalar or a list.
type SweepCounts []int

// UnmarshalYAML accepts an integer or a sequence of integers.
func (s *SweepCounts) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var n int
		if err := value.Decode(&n); err != nil {
			return err
		}
		*s = SweepCounts{n}
	case yaml.SequenceNode:
		var ns []int
		if err := value.Decode(&ns); err != nil {
			return err
		}
		*s = ns
	default:
		return fmt.Errorf("line %d: sweep count must be an integer or a list of integers", value.Line)
	}
	return nil
}

// MarshalYAML writes a single count as a scalar.
func (s SweepCounts) MarshalYAML() (interface{}, error) {
	if len(s) == 1 {
		return s[0], nil
	}
	return []int(s), nil
}

// MarshalJSON writes a single count as a number.
func (s SweepCounts) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]int(s))
}

// UnmarshalJSON accepts a number or an array of numbers.
func (s *SweepCounts) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*s = SweepCounts{n}
		return nil
	}
	var ns []int
	if err := json.Unmarshal(data, &ns); err != nil {
		return fmt.Errorf("sweep count must be an integer or a list of integers: %w", err)
	}
	*s = ns
	return nil
}

// OutputConfig configures where and how observables are persisted.
type OutputConfig struct {
	// Dir is the output directory. It is cleared at the start of a run.
	Dir string `json:"dir" yaml:"dir"`

	// Formats lists the enabled backends: "text", "sqlite", "arrow".
	Formats []constants.Format `json:"formats" yaml:"formats"`

	// Snapshots records the spin configuration after every production sweep.
	// Only the text and sqlite formats store snapshots.
	Snapshots bool `json:"snapshots" yaml:"snapshots"`
}

// LoggingConfig configures ising's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables the JSONL phase trace in the output directory.
	Level string `json:"level" yaml:"level"`
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile is the path of the .prom file written at the end of a run.
	// Empty disables the export.
	Textfile string `json:"textfile,omitempty" yaml:"textfile,omitempty"`
}

// Default returns a RunConfig with the reference parameters.
func Default() *RunConfig {
	return &RunConfig{
		Lattice: lattice.Shape{
			X: constants.DefaultLatticeX,
			Y: constants.DefaultLatticeY,
		},
		Seed:  constants.DefaultSeed,
		Start: constants.StartHot,
		Sweeps: SweepConfig{
			ThermInit: constants.DefaultThermInit,
			Therm:     SweepCounts{constants.DefaultTherm},
			Prod:      SweepCounts{constants.DefaultProd},
		},
		Output: OutputConfig{
			Dir:     constants.DefaultOutputDir,
			Formats: []constants.Format{constants.FormatText},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from defaults, then path (if non-empty), then
// environment variables.
func Load(path string) (*RunConfig, error) {
	config := Default()

	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Keys missing
// from the file keep their default values.
func LoadFromFile(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return config, nil
}

// Save writes the configuration as YAML to path.
func (c *RunConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Schedule returns the configured temperatures, or the default schedule.
func (c *RunConfig) Schedule() driver.Schedule {
	if len(c.Temperatures) == 0 {
		return driver.DefaultSchedule()
	}
	return driver.Schedule(append([]float64(nil), c.Temperatures...))
}

// Params converts the configuration into driver parameters.
func (c *RunConfig) Params() driver.Params {
	return driver.Params{
		Shape:     c.Lattice,
		Seed:      c.Seed,
		Start:     c.Start,
		Schedule:  c.Schedule(),
		ThermInit: c.Sweeps.ThermInit,
		Therm:     driver.Sweeps(c.Sweeps.Therm),
		Prod:      driver.Sweeps(c.Sweeps.Prod),
		Snapshots: c.Output.Snapshots,
	}
}

// Validate checks that the configuration is valid.
func (c *RunConfig) Validate() error {
	if !c.Lattice.Valid() {
		return fmt.Errorf("%w: lattice must be at least 1x1, got %s", ErrInvalid, c.Lattice)
	}

	if !c.Start.Valid() {
		return fmt.Errorf("%w: invalid start: %s (valid: hot, cold)", ErrInvalid, c.Start)
	}

	if c.Sweeps.ThermInit < 0 {
		return fmt.Errorf("%w: sweep counts must be non-negative, got therm_init=%d", ErrInvalid, c.Sweeps.ThermInit)
	}

	schedule := c.Schedule()
	if err := schedule.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := driver.Sweeps(c.Sweeps.Therm).Validate(len(schedule)); err != nil {
		return fmt.Errorf("%w: sweeps.therm: %v", ErrInvalid, err)
	}
	if err := driver.Sweeps(c.Sweeps.Prod).Validate(len(schedule)); err != nil {
		return fmt.Errorf("%w: sweeps.prod: %v", ErrInvalid, err)
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("%w: output directory must not be empty", ErrInvalid)
	}

	if len(c.Output.Formats) == 0 {
		return fmt.Errorf("%w: at least one output format is required", ErrInvalid)
	}
	for _, f := range c.Output.Formats {
		if !f.Valid() {
			return fmt.Errorf("%w: invalid output format: %s (valid: text, sqlite, arrow)", ErrInvalid, f)
		}
	}
	if c.Output.Snapshots && !c.HasFormat(constants.FormatText) && !c.HasFormat(constants.FormatSQLite) {
		return fmt.Errorf("%w: snapshots need the text or sqlite format", ErrInvalid)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("%w: invalid log level: %s (valid: info, debug, trace, or empty for default)", ErrInvalid, c.Logging.Level)
	}

	return nil
}

// HasFormat reports whether f is among the enabled output formats.
func (c *RunConfig) HasFormat(f constants.Format) bool {
	for _, have := range c.Output.Formats {
		if have == f {
			return true
		}
	}
	return false
}

// applyEnvOverrides applies environment variable overrides to the config.
// Malformed numeric values are an error.
func applyEnvOverrides(config *RunConfig) error {
	ints := []struct {
		name string
		dst  *int
	}{
		{"ISING_LX", &config.Lattice.X},
		{"ISING_LY", &config.Lattice.Y},
		{"ISING_THERM_INIT", &config.Sweeps.ThermInit},
	}
	for _, o := range ints {
		if v := os.Getenv(o.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", o.name, err)
			}
			*o.dst = n
		}
	}

	counts := []struct {
		name string
		dst  *SweepCounts
	}{
		{"ISING_THERM", &config.Sweeps.Therm},
		{"ISING_PROD", &config.Sweeps.Prod},
	}
	for _, o := range counts {
		if v := os.Getenv(o.name); v != "" {
			n, err := parseCounts(v)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", o.name, err)
			}
			*o.dst = n
		}
	}

	if v := os.Getenv("ISING_SNAPSHOTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing ISING_SNAPSHOTS: %w", err)
		}
		config.Output.Snapshots = b
	}

	if v := os.Getenv("ISING_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing ISING_SEED: %w", err)
		}
		config.Seed = n
	}

	if v := os.Getenv("ISING_START"); v != "" {
		config.Start = constants.Start(v)
	}

	if v := os.Getenv("ISING_OUTPUT_DIR"); v != "" {
		config.Output.Dir = v
	}

	if v := os.Getenv("ISING_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	return nil
}

// parseCounts parses a comma-separated list of sweep counts.
func parseCounts(v string) (SweepCounts, error) {
	fields := strings.Split(v, ",")
	counts := make(SweepCounts, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		counts = append(counts, n)
	}
	return counts, nil
}
