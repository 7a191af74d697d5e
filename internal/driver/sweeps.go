package driver

import "fmt"

// Sweeps is a per-temperature sweep count. A single value applies to every
// temperature of the schedule; otherwise there is one value per temperature.
type Sweeps []int

// At returns the sweep count of temperature i.
func (s Sweeps) At(i int) int {
	if len(s) == 1 {
		return s[0]
	}
	return s[i]
}

// Validate checks that s broadcasts over n temperatures and holds no
// negative count.
func (s Sweeps) Validate(n int) error {
	if len(s) != 1 && len(s) != n {
		return fmt.Errorf("got %d sweep counts for %d temperatures (want 1 or %d)", len(s), n, n)
	}
	for i, v := range s {
		if v < 0 {
			return fmt.Errorf("sweep count %d must be non-negative, got %d", i, v)
		}
	}
	return nil
}
