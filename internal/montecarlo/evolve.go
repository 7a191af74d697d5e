// Package montecarlo implements single-spin-flip Metropolis-Hastings
// evolution of an Ising configuration.
//
// A sweep is N independent proposals at uniformly random sites (N = number of
// sites), not a raster scan, so a site may be proposed several times in one
// sweep and others not at all. Observables are recorded once per sweep.
package montecarlo

import (
	"math"

	"github.com/nvandessel/ising/internal/ising"
	"github.com/nvandessel/ising/internal/lattice"
)

// Random is the randomness Evolve consumes.
type Random interface {
	Index(n int) int
	Real() float64
}

// State is the mutable engine state threaded through consecutive phases.
// Energy is a running value maintained by Evolve from accepted energy
// changes; it is only recomputed from scratch by whoever seeds the State.
//
// The seed is the double-counted Hamiltonian while every accepted change is
// the single-counted ising.DeltaEnergy, so after any number of sweeps
// 2*Energy - seed == ising.Hamiltonian(Config).
type State struct {
	Config *lattice.Configuration
	Energy float64
}

// NewState wraps cfg and seeds the running energy from the Hamiltonian.
func NewState(cfg *lattice.Configuration) *State {
	return &State{Config: cfg, Energy: float64(ising.Hamiltonian(cfg))}
}

// Measurement is an extra per-sweep observer. It sees the configuration and
// running energy after every sweep and must not modify the configuration.
type Measurement func(cfg *lattice.Configuration, energy float64)

// Evolve runs sweeps Metropolis sweeps at inverse temperature beta and returns
// the number of accepted flips.
//
// Proposals with a non-positive energy change are always accepted and consume
// no uniform variate; others are accepted iff exp(-beta*delta) > u with u drawn
// from src. When sink is non-nil, the running energy and the magnetisation are
// recorded after every sweep, followed by each extra measurement. With
// sweeps == 0 nothing is drawn, changed or recorded.
func Evolve(state *State, beta float64, src Random, sweeps int, sink Sink, extra ...Measurement) int {
	cfg := state.Config
	n := cfg.Len()
	accepted := 0

	for sweep := 0; sweep < sweeps; sweep++ {
		for step := 0; step < n; step++ {
			idx := src.Index(n)
			delta := ising.DeltaEnergy(cfg, idx)

			if delta <= 0 || math.Exp(-beta*float64(delta)) > src.Real() {
				cfg.Flip(idx)
				state.Energy += float64(delta)
				accepted++
			}
		}

		if sink != nil {
			sink.Record(state.Energy, ising.Magnetisation(cfg))
		}
		for _, measure := range extra {
			measure(cfg, state.Energy)
		}
	}

	return accepted
}

// AcceptanceRate returns accepted / (sweeps * sites), or 0 for an empty phase.
func AcceptanceRate(accepted, sweeps, sites int) float64 {
	trials := sweeps * sites
	if trials == 0 {
		return 0
	}
	return float64(accepted) / float64(trials)
}
