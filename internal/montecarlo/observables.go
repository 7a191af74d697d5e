package montecarlo

import "fmt"

// Sink receives one observable sample per completed sweep.
type Sink interface {
	Record(energy, magnetisation float64)
}

// Observables is an append-only pair of time series recorded during one
// production phase. Both series always have the same length.
type Observables struct {
	energy        []float64
	magnetisation []float64
}

// NewObservables returns an empty store with room for capacity samples.
func NewObservables(capacity int) *Observables {
	return &Observables{
		energy:        make([]float64, 0, capacity),
		magnetisation: make([]float64, 0, capacity),
	}
}

// NewObservablesFrom wraps previously persisted series. The slices are copied.
func NewObservablesFrom(energy, magnetisation []float64) (*Observables, error) {
	if len(energy) != len(magnetisation) {
		return nil, fmt.Errorf("observable series length mismatch: %d energies, %d magnetisations",
			len(energy), len(magnetisation))
	}
	o := NewObservables(len(energy))
	o.energy = append(o.energy, energy...)
	o.magnetisation = append(o.magnetisation, magnetisation...)
	return o, nil
}

// Record appends one sample.
func (o *Observables) Record(energy, magnetisation float64) {
	o.energy = append(o.energy, energy)
	o.magnetisation = append(o.magnetisation, magnetisation)
}

// Len returns the number of recorded samples.
func (o *Observables) Len() int {
	return len(o.energy)
}

// Energy returns a copy of the energy series in append order.
func (o *Observables) Energy() []float64 {
	return append([]float64(nil), o.energy...)
}

// Magnetisation returns a copy of the magnetisation series in append order.
func (o *Observables) Magnetisation() []float64 {
	return append([]float64(nil), o.magnetisation...)
}
