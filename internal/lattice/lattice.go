// Package lattice provides the periodic square lattice used by the Monte Carlo
// engine: the shape, the precomputed nearest-neighbor table and the spin
// configuration itself.
//
// Sites are addressed by a single row-major index i = y*X + x. Every site has
// exactly four neighbors (east, west, north, south) under periodic wraparound,
// stored contiguously in a table of length 4*N so that the hot loop of the
// engine never performs modular arithmetic.
package lattice

import "fmt"

// Direction selects one slot of a site's neighbor 4-tuple.
type Direction int

// Neighbor slots in table order.
const (
	East Direction = iota
	West
	North
	South
)

// Coordination is the number of nearest neighbors of every site.
const Coordination = 4

// Valid reports whether d is one of the four neighbor slots.
func (d Direction) Valid() bool {
	return d >= East && d <= South
}

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case East:
		return "east"
	case West:
		return "west"
	case North:
		return "north"
	case South:
		return "south"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Shape is the extent of a rectangular lattice. Both sides must be >= 1.
type Shape struct {
	X int `json:"lx" yaml:"lx"`
	Y int `json:"ly" yaml:"ly"`
}

// Sites returns the total number of lattice sites.
func (s Shape) Sites() int {
	return s.X * s.Y
}

// Index maps coordinates to the row-major site index.
func (s Shape) Index(x, y int) int {
	return y*s.X + x
}

// Coords is the inverse of Index.
func (s Shape) Coords(i int) (x, y int) {
	return i % s.X, i / s.X
}

// Valid reports whether both sides are positive.
func (s Shape) Valid() bool {
	return s.X >= 1 && s.Y >= 1
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%d", s.X, s.Y)
}

// Neighbors builds the periodic nearest-neighbor table for shape.
// Entries [4i, 4i+4) hold the east, west, north and south neighbors of site i.
// The result depends only on the shape and is never mutated afterwards.
func Neighbors(shape Shape) []int {
	nx, ny := shape.X, shape.Y
	table := make([]int, Coordination*shape.Sites())

	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			base := Coordination * shape.Index(x, y)
			table[base+int(East)] = shape.Index((x+1)%nx, y)
			table[base+int(West)] = shape.Index((x-1+nx)%nx, y)
			table[base+int(North)] = shape.Index(x, (y+1)%ny)
			table[base+int(South)] = shape.Index(x, (y-1+ny)%ny)
		}
	}

	return table
}
