// Package constants provides named constants used throughout the ising codebase.
// This centralizes the reference run parameters so that config defaults and
// the CLI agree on them.
package constants

// Lattice defaults
const (
	// DefaultLatticeX is the number of sites in the x direction.
	DefaultLatticeX = 4

	// DefaultLatticeY is the number of sites in the y direction.
	DefaultLatticeY = 3
)

// Sweep counts per phase
const (
	// DefaultThermInit is the number of thermalisation sweeps performed once,
	// at the first temperature, before the schedule starts.
	DefaultThermInit = 1000

	// DefaultTherm is the number of re-thermalisation sweeps per temperature.
	DefaultTherm = 1000

	// DefaultProd is the number of measured production sweeps per temperature.
	DefaultProd = 10000
)

// Temperature schedule defaults: T_k = DefaultScheduleStep * (k+1).
const (
	// DefaultSchedulePoints is the number of temperatures in the default schedule.
	DefaultSchedulePoints = 12

	// DefaultScheduleStep is the spacing of the default schedule.
	DefaultScheduleStep = 0.5
)

// DefaultSeed seeds the random source when none is configured.
const DefaultSeed uint64 = 138

// Output layout
const (
	// DefaultOutputDir is where run data is written when no directory is given.
	DefaultOutputDir = "./data"

	// TemperaturesFile lists the schedule as "<index>: <temperature>" lines.
	TemperaturesFile = "temperatures.dat"

	// DatabaseFile is the SQLite database name inside the output directory.
	DatabaseFile = "ising.db"

	// PhaseLogFile is the JSONL phase trace written at debug level.
	PhaseLogFile = "phases.jsonl"
)
