package constants

// Start selects the initial spin configuration of a run.
type Start string

const (
	// StartHot draws every spin independently at random.
	StartHot Start = "hot"

	// StartCold sets every spin to +1.
	StartCold Start = "cold"
)

// Valid returns true if the start is a recognized value.
func (s Start) Valid() bool {
	switch s {
	case StartHot, StartCold:
		return true
	}
	return false
}

// String returns the string representation of the start.
func (s Start) String() string {
	return string(s)
}

// Format names an output backend.
type Format string

const (
	// FormatText writes whitespace-separated .dat files.
	FormatText Format = "text"

	// FormatSQLite records runs and samples in ising.db.
	FormatSQLite Format = "sqlite"

	// FormatArrow writes one Arrow IPC file per temperature.
	FormatArrow Format = "arrow"
)

// Valid returns true if the format is a recognized value.
func (f Format) Valid() bool {
	switch f {
	case FormatText, FormatSQLite, FormatArrow:
		return true
	}
	return false
}

// String returns the string representation of the format.
func (f Format) String() string {
	return string(f)
}
