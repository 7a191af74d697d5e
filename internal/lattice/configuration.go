package lattice

import "fmt"

// Spin is the two-valued site variable.
type Spin int8

const (
	// Down is the -1 spin state.
	Down Spin = -1
	// Up is the +1 spin state.
	Up Spin = 1
)

// Valid reports whether s is one of Up or Down.
func (s Spin) Valid() bool {
	return s == Up || s == Down
}

// SpinSource draws independent random spins.
type SpinSource interface {
	Spin() Spin
}

// Configuration is the spin state of every site plus the lattice topology.
//
// A Configuration is owned by exactly one Monte Carlo run at a time. Accessors
// panic on an out-of-range index instead of clamping it.
type Configuration struct {
	shape     Shape
	spins     []Spin
	neighbors []int
}

// Random returns a hot-start configuration with every site drawn
// independently from src, in site order.
func Random(shape Shape, src SpinSource) *Configuration {
	cfg := newConfiguration(shape)
	for i := range cfg.spins {
		cfg.spins[i] = src.Spin()
	}
	return cfg
}

// Uniform returns a cold-start configuration with every site set to s.
func Uniform(shape Shape, s Spin) *Configuration {
	mustValid(s)
	cfg := newConfiguration(shape)
	for i := range cfg.spins {
		cfg.spins[i] = s
	}
	return cfg
}

// FromSpins builds a configuration from an explicit row-major spin slice.
// The slice is copied. It returns an error if the length does not match the
// shape or any value is not +1/-1.
func FromSpins(shape Shape, spins []Spin) (*Configuration, error) {
	if len(spins) != shape.Sites() {
		return nil, fmt.Errorf("spin count %d does not match lattice %s (%d sites)", len(spins), shape, shape.Sites())
	}
	for i, s := range spins {
		if !s.Valid() {
			return nil, fmt.Errorf("site %d: invalid spin %d", i, s)
		}
	}
	cfg := newConfiguration(shape)
	copy(cfg.spins, spins)
	return cfg, nil
}

func newConfiguration(shape Shape) *Configuration {
	return &Configuration{
		shape:     shape,
		spins:     make([]Spin, shape.Sites()),
		neighbors: Neighbors(shape),
	}
}

// Shape returns the lattice extent.
func (c *Configuration) Shape() Shape {
	return c.shape
}

// Len returns the number of sites.
func (c *Configuration) Len() int {
	return len(c.spins)
}

// At returns the spin at site i.
func (c *Configuration) At(i int) Spin {
	return c.spins[i]
}

// Set writes the spin at site i. Values other than Up or Down panic.
func (c *Configuration) Set(i int, s Spin) {
	mustValid(s)
	c.spins[i] = s
}

// Flip reverses the spin at site i.
func (c *Configuration) Flip(i int) {
	c.spins[i] = -c.spins[i]
}

// Neighbor returns the index of the neighbor of site i in direction d.
// It panics if d is not one of East, West, North or South.
func (c *Configuration) Neighbor(i int, d Direction) int {
	_ = c.spins[i]
	if !d.Valid() {
		panic(fmt.Sprintf("lattice: invalid direction %s", d))
	}
	return c.neighbors[Coordination*i+int(d)]
}

// NeighborSum returns the sum of the four neighbor spins of site i.
func (c *Configuration) NeighborSum(i int) int {
	_ = c.spins[i]
	nb := c.neighbors[Coordination*i : Coordination*i+Coordination]
	return int(c.spins[nb[East]]) + int(c.spins[nb[West]]) +
		int(c.spins[nb[North]]) + int(c.spins[nb[South]])
}

// Spins returns a copy of the spins in site order.
func (c *Configuration) Spins() []Spin {
	out := make([]Spin, len(c.spins))
	copy(out, c.spins)
	return out
}

// Clone returns an independent copy of the configuration. The neighbor table
// is immutable and shared.
func (c *Configuration) Clone() *Configuration {
	return &Configuration{
		shape:     c.shape,
		spins:     c.Spins(),
		neighbors: c.neighbors,
	}
}

func mustValid(s Spin) {
	if !s.Valid() {
		panic(fmt.Sprintf("lattice: invalid spin value %d", s))
	}
}
