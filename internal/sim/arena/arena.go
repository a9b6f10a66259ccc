// Package arena implements a stochastic cellular automaton in which breeds
// compete on a toroidal grid under a circular, non-transitive dominance
// rule (generalized rock-paper-scissors). The engine is single-threaded and
// allocation-free on the contest path; ownership and scheduling live in the
// runner package.
package arena

import (
	"fmt"
	"math/rand"
	"time"
)

// Rand supplies uniform random integers in [0, n). *math/rand.Rand
// satisfies it; tests substitute scripted or counting sources.
type Rand interface {
	Intn(n int) int
}

// Defaults applied by New when Config fields are zero, and the ceiling
// imposed by the uint8 cell representation.
const (
	DefaultNumBreeds = 3
	DefaultSize      = 50
	MaxNumBreeds     = 256
)

// Config parameterizes a new Arena.
type Config struct {
	// NumBreeds is the number of competing breeds, in [3, MaxNumBreeds].
	NumBreeds int
	// Size is the edge length of the square grid, at least 2.
	Size int
	// Rand drives fills and contests. Nil selects a time-seeded source.
	Rand Rand
}

// ConfigurationError reports a construction parameter outside its legal
// range. New never returns a usable Arena alongside one.
type ConfigurationError struct {
	Param string
	Value int
	Want  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("arena: %s must be %s, got %d", e.Param, e.Want, e.Value)
}

// CapacityError reports a Snapshot destination smaller than the grid.
type CapacityError struct {
	Need int // required cells per dimension
	Got  int // length of the offending dimension
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("arena: snapshot destination holds %d, need %d", e.Got, e.Need)
}

// Arena is a toroidal grid of competing breeds advanced one contest at a
// time. Each breed beats the breeds up to halfway around the id circle and
// loses to the rest, so no breed dominates all others.
//
// An Arena is not safe for concurrent use: all calls belong on one
// goroutine, and collaborators work from Snapshot/Populations copies.
type Arena struct {
	numBreeds int
	size      int
	rng       Rand

	terrain     []uint8 // row-major size*size cells, each a breed id
	populations []int
	surviving   int
	generation  uint64
}

// New validates cfg and builds an Arena. Zero-value fields take defaults.
// The grid stays all breed 0 and uncounted until Init; advancing such an
// arena is a harmless no-op.
func New(cfg Config) (*Arena, error) {
	if cfg.NumBreeds == 0 {
		cfg.NumBreeds = DefaultNumBreeds
	}
	if cfg.Size == 0 {
		cfg.Size = DefaultSize
	}
	if cfg.NumBreeds < 3 {
		return nil, &ConfigurationError{Param: "num_breeds", Value: cfg.NumBreeds, Want: "at least 3"}
	}
	if cfg.NumBreeds > MaxNumBreeds {
		return nil, &ConfigurationError{Param: "num_breeds", Value: cfg.NumBreeds, Want: fmt.Sprintf("at most %d", MaxNumBreeds)}
	}
	if cfg.Size < 2 {
		return nil, &ConfigurationError{Param: "size", Value: cfg.Size, Want: "at least 2"}
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Arena{
		numBreeds:   cfg.NumBreeds,
		size:        cfg.Size,
		rng:         rng,
		terrain:     make([]uint8, cfg.Size*cfg.Size),
		populations: make([]int, cfg.NumBreeds),
	}, nil
}

// Init refills every cell with an independent uniform breed draw and resets
// the generation counter. A fill that leaves fewer than three breeds alive
// is thrown away and redrawn in full, so a fresh arena is never already
// absorbed or reduced to a two-breed endgame.
func (a *Arena) Init() {
	for {
		for i := range a.terrain {
			a.terrain[i] = uint8(a.rng.Intn(a.numBreeds))
		}
		a.recount()
		if a.surviving >= 3 {
			break
		}
	}
	a.generation = 0
}

// recount rebuilds populations and the surviving count from the grid.
func (a *Arena) recount() {
	for i := range a.populations {
		a.populations[i] = 0
	}
	for _, b := range a.terrain {
		a.populations[b]++
	}
	a.surviving = 0
	for _, n := range a.populations {
		if n > 0 {
			a.surviving++
		}
	}
}

// Cardinal offsets in (row, col) order: north, east, south, west.
var directions = [4][2]int{{-1, 0}, {0, 1}, {1, 0}, {0, -1}}

// Advance plays one contest: a uniformly random challenger cell against its
// neighbor in a uniformly random cardinal direction, wrapping at the grid
// edges. Equal breeds tie and change nothing. Otherwise the dominance
// circle picks a winner, which overwrites the loser's cell and moves the
// generation counter by one. An absorbed arena is left untouched and
// consumes no draws.
func (a *Arena) Advance() {
	if a.surviving <= 1 {
		return
	}
	row := a.rng.Intn(a.size)
	col := a.rng.Intn(a.size)
	d := directions[a.rng.Intn(len(directions))]

	ci := row*a.size + col
	di := wrap(row+d[0], a.size)*a.size + wrap(col+d[1], a.size)

	challenger := a.terrain[ci]
	defender := a.terrain[di]
	switch cmp := dominance(challenger, defender, a.numBreeds); {
	case cmp > 0:
		a.conquer(di, challenger, defender)
	case cmp < 0:
		a.conquer(ci, defender, challenger)
	}
}

// conquer overwrites the loser's cell and maintains the derived counters.
func (a *Arena) conquer(cell int, winner, loser uint8) {
	a.terrain[cell] = winner
	a.populations[winner]++
	a.populations[loser]--
	if a.populations[loser] == 0 {
		a.surviving--
	}
	a.generation++
}

// wrap folds v onto the torus [0, size).
func wrap(v, size int) int {
	v %= size
	if v < 0 {
		v += size
	}
	return v
}

// dominance compares two breeds on the numBreeds-point circle. Positive
// means a beats b, negative means b beats a, zero is a tie: equal ids, or
// diametrically opposite breeds when the breed count is even.
func dominance(a, b uint8, numBreeds int) int {
	if a == b {
		return 0
	}
	d := (int(b) - int(a) + numBreeds) % numBreeds
	return 2*d - numBreeds
}

// Snapshot deep-copies the grid into dest, which needs at least Size rows
// of at least Size cells each. Undersized destinations fail before any row
// is written. The copy and the live grid share no memory, so later
// contests never show through a taken snapshot.
func (a *Arena) Snapshot(dest [][]uint8) error {
	if len(dest) < a.size {
		return &CapacityError{Need: a.size, Got: len(dest)}
	}
	for r := 0; r < a.size; r++ {
		if len(dest[r]) < a.size {
			return &CapacityError{Need: a.size, Got: len(dest[r])}
		}
	}
	for r := 0; r < a.size; r++ {
		copy(dest[r], a.terrain[r*a.size:(r+1)*a.size])
	}
	return nil
}

// NewGridBuffer allocates a size×size destination for Snapshot, backed by
// one contiguous allocation so callers can also range it row-major.
func NewGridBuffer(size int) [][]uint8 {
	flat := make([]uint8, size*size)
	rows := make([][]uint8, size)
	for r := range rows {
		rows[r] = flat[r*size : (r+1)*size]
	}
	return rows
}

// Populations returns a fresh copy of the per-breed live-cell counts.
func (a *Arena) Populations() []int {
	out := make([]int, len(a.populations))
	copy(out, a.populations)
	return out
}

// NumBreeds reports the configured breed count (fixed, distinct from the
// surviving count).
func (a *Arena) NumBreeds() int { return a.numBreeds }

// Size reports the grid edge length.
func (a *Arena) Size() int { return a.size }

// SurvivingBreeds reports how many breeds still hold at least one cell.
func (a *Arena) SurvivingBreeds() int { return a.surviving }

// Generation reports the count of decisive contests since the last Init.
func (a *Arena) Generation() uint64 { return a.generation }

// Absorbed reports whether a single breed holds the entire grid.
func (a *Arena) Absorbed() bool { return a.surviving == 1 }
