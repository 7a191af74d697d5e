package montecarlo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/ising/internal/ising"
	"github.com/nvandessel/ising/internal/lattice"
	"github.com/nvandessel/ising/internal/rng"
)

// scripted replays fixed indices and reals and counts how many were used.
type scripted struct {
	indices []int
	reals   []float64
	nIndex  int
	nReal   int
}

func (s *scripted) Index(n int) int {
	idx := s.indices[s.nIndex%len(s.indices)]
	s.nIndex++
	return idx
}

func (s *scripted) Real() float64 {
	u := s.reals[s.nReal%len(s.reals)]
	s.nReal++
	return u
}

func newRandomState(t *testing.T, shape lattice.Shape, seed uint64) (*State, *rng.Source) {
	t.Helper()
	src := rng.New(seed)
	return NewState(lattice.Random(shape, src)), src
}

func TestEvolve_ZeroSweeps(t *testing.T) {
	shape := lattice.Shape{X: 4, Y: 3}
	state, src := newRandomState(t, shape, 138)
	spins := state.Config.Spins()
	energy := state.Energy

	obs := NewObservables(0)
	accepted := Evolve(state, 0.5, src, 0, obs)

	assert.Equal(t, 0, accepted)
	assert.Equal(t, spins, state.Config.Spins())
	assert.Equal(t, energy, state.Energy)
	assert.Equal(t, 0, obs.Len())

	// No randomness may have been consumed either.
	_, fresh := newRandomState(t, shape, 138)
	assert.Equal(t, fresh.Real(), src.Real())
}

// hamiltonianFrom recovers the Hamiltonian from a running energy seeded at seed.
func hamiltonianFrom(state *State, seed float64) float64 {
	return 2*state.Energy - seed
}

func TestEvolve_RunningEnergyTracksHamiltonian(t *testing.T) {
	shapes := []lattice.Shape{{X: 4, Y: 3}, {X: 1, Y: 2}, {X: 2, Y: 2}, {X: 6, Y: 5}}
	betas := []float64{0.1, 0.44, 1, 3}

	for _, shape := range shapes {
		for _, beta := range betas {
			state, src := newRandomState(t, shape, 7)
			seed := state.Energy
			Evolve(state, beta, src, 50, nil)
			require.Equal(t, float64(ising.Hamiltonian(state.Config)), hamiltonianFrom(state, seed),
				"shape %s beta %v", shape, beta)
		}
	}
}

func TestEvolve_RunningEnergyAccumulatesDeltas(t *testing.T) {
	state := NewState(lattice.Uniform(lattice.Shape{X: 4, Y: 3}, lattice.Up))
	// Sites 0..10 flip once, then site 0 flips back: only 0 and 11 stay up.
	// Neither is a neighbor of the other, so 8 of the 24 bonds disagree.
	src := &scripted{indices: []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, reals: []float64{0}}

	accepted := Evolve(state, 0.5, src, 1, nil)

	assert.Equal(t, 12, accepted)
	assert.Equal(t, -16, ising.Hamiltonian(state.Config))
	// Single-counted bond energy went from -24 to -8.
	assert.Equal(t, -48.0+16.0, state.Energy)
}

func TestEvolve_OneSamplePerSweep(t *testing.T) {
	state, src := newRandomState(t, lattice.Shape{X: 4, Y: 3}, 1)
	obs := NewObservables(25)

	Evolve(state, 0.7, src, 25, obs)

	require.Equal(t, 25, obs.Len())
	assert.Len(t, obs.Magnetisation(), 25)
	// The last sample reflects the final state.
	assert.Equal(t, state.Energy, obs.Energy()[24])
	assert.Equal(t, ising.Magnetisation(state.Config), obs.Magnetisation()[24])
	for _, m := range obs.Magnetisation() {
		assert.GreaterOrEqual(t, m, -1.0)
		assert.LessOrEqual(t, m, 1.0)
	}
}

func TestEvolve_NoSinkRecordsNothing(t *testing.T) {
	withSink, srcA := newRandomState(t, lattice.Shape{X: 5, Y: 4}, 3)
	without, srcB := newRandomState(t, lattice.Shape{X: 5, Y: 4}, 3)

	obs := NewObservables(10)
	a := Evolve(withSink, 0.3, srcA, 10, obs)
	b := Evolve(without, 0.3, srcB, 10, nil)

	// Measurement does not perturb the chain.
	assert.Equal(t, a, b)
	assert.Equal(t, withSink.Config.Spins(), without.Config.Spins())
	assert.Equal(t, withSink.Energy, without.Energy)
}

func TestEvolve_Deterministic(t *testing.T) {
	run := func() ([]float64, []float64, []lattice.Spin, int) {
		state, src := newRandomState(t, lattice.Shape{X: 8, Y: 8}, 138)
		obs := NewObservables(100)
		n := Evolve(state, 0.4, src, 100, obs)
		return obs.Energy(), obs.Magnetisation(), state.Config.Spins(), n
	}

	e1, m1, s1, n1 := run()
	e2, m2, s2, n2 := run()

	assert.Equal(t, e1, e2)
	assert.Equal(t, m1, m2)
	assert.Equal(t, s1, s2)
	assert.Equal(t, n1, n2)
}

func TestEvolve_InfiniteTemperatureAcceptsEverything(t *testing.T) {
	state, src := newRandomState(t, lattice.Shape{X: 4, Y: 3}, 11)

	accepted := Evolve(state, 0, src, 100, nil)

	assert.Equal(t, 100*12, accepted)
	assert.Equal(t, 1.0, AcceptanceRate(accepted, 100, 12))
}

func TestEvolve_ZeroTemperatureRejectsUphill(t *testing.T) {
	// From the ordered state every proposal raises the energy.
	state := NewState(lattice.Uniform(lattice.Shape{X: 4, Y: 3}, lattice.Up))
	src := rng.New(5)

	accepted := Evolve(state, 1e6, src, 100, nil)

	assert.Equal(t, 0, accepted)
	assert.Equal(t, -48.0, state.Energy)
}

func TestEvolve_LargeBetaAcceptsOnlyDownhill(t *testing.T) {
	state, src := newRandomState(t, lattice.Shape{X: 6, Y: 6}, 21)
	energy := state.Energy

	Evolve(state, 1e6, src, 200, nil)

	// Only non-increasing moves were taken.
	assert.LessOrEqual(t, state.Energy, energy)
	assert.Equal(t, float64(ising.Hamiltonian(state.Config)), hamiltonianFrom(state, energy))
}

func TestEvolve_AcceptanceDecreasesWithBeta(t *testing.T) {
	rate := func(beta float64) float64 {
		state, src := newRandomState(t, lattice.Shape{X: 8, Y: 8}, 99)
		Evolve(state, beta, src, 200, nil)
		acc := Evolve(state, beta, src, 200, nil)
		return AcceptanceRate(acc, 200, 64)
	}

	hot, mid, cold := rate(0.05), rate(0.2), rate(1.0)
	assert.Greater(t, hot, mid)
	assert.Greater(t, mid, cold)
	assert.Greater(t, hot, 0.5)
	assert.Less(t, cold, 0.05)
}

func TestEvolve_UniformDrawnOnlyForUphill(t *testing.T) {
	state := NewState(lattice.Uniform(lattice.Shape{X: 4, Y: 3}, lattice.Up))
	src := &scripted{indices: []int{5}, reals: []float64{0}}

	// First proposal: uphill (+8), accepted since exp(-8) > 0.
	// Second proposal at the same site: downhill, accepted without a draw.
	// This alternates for the whole sweep.
	accepted := Evolve(state, 1, src, 1, nil)

	assert.Equal(t, 12, accepted)
	assert.Equal(t, 12, src.nIndex)
	assert.Equal(t, 6, src.nReal)
	assert.Equal(t, lattice.Up, state.Config.At(5))
	assert.Equal(t, -48.0, state.Energy)
}

func TestEvolve_AcceptsWithSingleCountedDelta(t *testing.T) {
	// From the ordered 4x3 state every flip costs 8. At beta 0.5 the
	// acceptance probability is exp(-4) ~ 0.0183, so u = 0.01 accepts the
	// first proposal and u = 0.02 rejects it.
	accept := NewState(lattice.Uniform(lattice.Shape{X: 4, Y: 3}, lattice.Up))
	src := &scripted{indices: []int{0}, reals: []float64{0.01}}
	accepted := Evolve(accept, 0.5, src, 1, nil)
	assert.Equal(t, 12, accepted)
	assert.Equal(t, 6, src.nReal, "every flip back is downhill")

	reject := NewState(lattice.Uniform(lattice.Shape{X: 4, Y: 3}, lattice.Up))
	src = &scripted{indices: []int{0}, reals: []float64{0.02}}
	accepted = Evolve(reject, 0.5, src, 1, nil)
	assert.Equal(t, 0, accepted)
	assert.Equal(t, 12, src.nReal)
}

func TestEvolve_StrictComparison(t *testing.T) {
	state := NewState(lattice.Uniform(lattice.Shape{X: 4, Y: 3}, lattice.Up))
	// u equal to the acceptance probability exp(0) must reject.
	src := &scripted{indices: []int{0}, reals: []float64{1}}

	accepted := Evolve(state, 0, src, 1, nil)

	assert.Equal(t, 0, accepted)
	assert.Equal(t, 12, src.nReal)
}

func TestEvolve_ExtraMeasurementsRunAfterEverySweep(t *testing.T) {
	state, src := newRandomState(t, lattice.Shape{X: 4, Y: 3}, 17)
	obs := NewObservables(5)

	var energies []float64
	var snapshots [][]lattice.Spin
	Evolve(state, 0.4, src, 5, obs,
		func(_ *lattice.Configuration, energy float64) { energies = append(energies, energy) },
		func(cfg *lattice.Configuration, _ float64) { snapshots = append(snapshots, cfg.Spins()) })

	assert.Equal(t, obs.Energy(), energies)
	require.Len(t, snapshots, 5)
	assert.Equal(t, state.Config.Spins(), snapshots[4])
}

func TestEvolve_ExtraMeasurementsWithoutSink(t *testing.T) {
	state, src := newRandomState(t, lattice.Shape{X: 3, Y: 3}, 2)
	calls := 0

	Evolve(state, 1, src, 4, nil, func(*lattice.Configuration, float64) { calls++ })
	Evolve(state, 1, src, 0, nil, func(*lattice.Configuration, float64) { calls++ })

	assert.Equal(t, 4, calls)
}

func TestAcceptanceRate(t *testing.T) {
	assert.Equal(t, 0.0, AcceptanceRate(0, 0, 12))
	assert.Equal(t, 0.0, AcceptanceRate(0, 10, 0))
	assert.Equal(t, 0.25, AcceptanceRate(30, 10, 12))
}

func TestNewState_SeedsHamiltonian(t *testing.T) {
	cfg := lattice.Uniform(lattice.Shape{X: 3, Y: 3}, lattice.Down)
	state := NewState(cfg)

	assert.Same(t, cfg, state.Config)
	assert.Equal(t, -36.0, state.Energy)
}
