// Package ising evaluates Ising observables on a lattice configuration with
// unit ferromagnetic coupling and no external field.
//
// The energy convention sums s_i times its four neighbor spins once per site,
// so every bond is counted twice. DeltaEnergy is the Metropolis energy change
// 2*s*(neighbor sum), which counts each bond once; a single flip therefore
// changes Hamiltonian by exactly twice DeltaEnergy, including on lattices
// where a side of length 1 makes a site its own neighbor.
package ising

import "github.com/nvandessel/ising/internal/lattice"

// Hamiltonian returns the total energy of cfg.
func Hamiltonian(cfg *lattice.Configuration) int {
	energy := 0
	for i := 0; i < cfg.Len(); i++ {
		energy += int(cfg.At(i)) * cfg.NeighborSum(i)
	}
	return -energy
}

// Magnetisation returns the mean spin of cfg, in [-1, 1].
func Magnetisation(cfg *lattice.Configuration) float64 {
	sum := 0
	for i := 0; i < cfg.Len(); i++ {
		sum += int(cfg.At(i))
	}
	return float64(sum) / float64(cfg.Len())
}

// DeltaEnergy returns the energy change 2*s_idx*(sum of neighbor spins) of
// flipping only the spin at idx. This is the quantity the acceptance rule and
// the running energy use.
//
// Self-bonds (s_idx*s_idx) do not change under a flip and are excluded, so
// Hamiltonian(flipped) - Hamiltonian(cfg) == 2*DeltaEnergy on every shape.
func DeltaEnergy(cfg *lattice.Configuration, idx int) int {
	s := cfg.At(idx)
	sum := 0
	for d := lattice.East; d <= lattice.South; d++ {
		if j := cfg.Neighbor(idx, d); j != idx {
			sum += int(cfg.At(j))
		}
	}
	return 2 * int(s) * sum
}
