// Package rng provides the seeded random source of a Monte Carlo run.
//
// A Source is deterministic: the same seed and the same sequence of calls
// always yield the same values. It is not safe for concurrent use; parallel
// runs must each own a Source created with a distinct seed or stream.
package rng

import (
	"math/rand/v2"

	"github.com/nvandessel/ising/internal/lattice"
)

// Source draws site indices, spins and uniform reals from a PCG generator.
type Source struct {
	r *rand.Rand
}

// New returns a Source seeded with seed on stream 0.
func New(seed uint64) *Source {
	return NewStream(seed, 0)
}

// NewStream returns a Source for an independent stream of the same seed.
func NewStream(seed, stream uint64) *Source {
	return &Source{r: rand.New(rand.NewPCG(seed, stream))}
}

// Index returns a uniform site index in [0, n). It panics if n <= 0.
func (s *Source) Index(n int) int {
	return s.r.IntN(n)
}

// Spin returns Up or Down with equal probability.
func (s *Source) Spin() lattice.Spin {
	if s.r.IntN(2) == 0 {
		return lattice.Down
	}
	return lattice.Up
}

// Real returns a uniform float64 in [0, 1).
func (s *Source) Real() float64 {
	return s.r.Float64()
}
