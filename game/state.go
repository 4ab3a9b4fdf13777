// Package game holds the canonical state of a single-player Snake episode.
//
// The board is a square grid of Dim*Dim cells stored row-major
// (index = row*Dim + col). The snake body is tracked as a FIFO of cell
// indices from tail to head so the tail can retire one cell per step.
// State exposes invariant-preserving primitives; the movement rules that
// sequence them live in package rules.
package game

import (
	"fmt"
	"math/rand"
)

// Cell is the content of a grid cell. The values double as the observation
// encoding handed to agents.
type Cell int8

const (
	Empty Cell = iota
	Apple
	Head
	Tail
	Body
)

// Orientation is a render-only tag for body cells.
type Orientation int8

const (
	Horizontal Orientation = iota
	Vertical
)

// MinDim is the smallest grid that can host the starting snake plus an apple.
const MinDim = 2

// State is the complete state of one episode. It is not safe for concurrent use.
type State struct {
	dim    int
	cells  []Cell
	orient []Orientation

	// body holds snake cells oldest first: body[0] is the tail, the last
	// element is the head.
	body  []int
	apple int // -1 when no apple is on the board

	steps       int
	applesEaten int
	lastMove    Move

	rng *rand.Rand
}

// NewState allocates a state for a dim*dim grid. The state must be Reset
// before use. A nil rng falls back to deterministic placement derived from
// the state itself.
func NewState(dim int, rng *rand.Rand) (*State, error) {
	if dim < MinDim {
		return nil, fmt.Errorf("grid dim %d is below minimum %d", dim, MinDim)
	}
	return &State{
		dim:    dim,
		cells:  make([]Cell, dim*dim),
		orient: make([]Orientation, dim*dim),
		body:   make([]int, 0, dim*dim),
		apple:  -1,
		rng:    rng,
	}, nil
}

// Reset places a two cell snake at the center (head at the center cell, tail
// directly to its left), clears the rest of the board and spawns one apple.
func (s *State) Reset() {
	for i := range s.cells {
		s.cells[i] = Empty
		s.orient[i] = Horizontal
	}
	center := s.dim*(s.dim/2) + s.dim/2
	s.body = append(s.body[:0], center-1, center)
	s.cells[center-1] = Tail
	s.cells[center] = Head
	s.apple = -1
	s.steps = 0
	s.applesEaten = 0
	s.lastMove = MoveNone
	s.PlaceApple()
}

func (s *State) Dim() int         { return s.dim }
func (s *State) Size() int        { return len(s.cells) }
func (s *State) Steps() int       { return s.steps }
func (s *State) ApplesEaten() int { return s.applesEaten }
func (s *State) LastMove() Move   { return s.lastMove }
func (s *State) Len() int         { return len(s.body) }
func (s *State) Head() int        { return s.body[len(s.body)-1] }
func (s *State) Tail() int        { return s.body[0] }

// At returns the content of cell i.
func (s *State) At(i int) Cell { return s.cells[i] }

// OrientationAt returns the render tag of cell i. It is only meaningful for Body cells.
func (s *State) OrientationAt(i int) Orientation { return s.orient[i] }

// Apple returns the index of the live apple.
func (s *State) Apple() (int, bool) {
	return s.apple, s.apple >= 0
}

// Body returns a copy of the snake cells, tail first.
func (s *State) Body() []int {
	return append([]int(nil), s.body...)
}

// RowCol splits a cell index into its row and column.
func (s *State) RowCol(i int) (row, col int) {
	return i / s.dim, i % s.dim
}

// Index joins a row and column into a cell index.
func (s *State) Index(row, col int) int {
	return row*s.dim + col
}

// InBounds reports whether (row, col) lies on the grid.
func (s *State) InBounds(row, col int) bool {
	return row >= 0 && row < s.dim && col >= 0 && col < s.dim
}

// MaxApples is the apple count at which every cell is snake.
func (s *State) MaxApples() int {
	return len(s.cells) - 2
}

// Occupied reports whether cell i holds any part of the snake.
func (s *State) Occupied(i int) bool {
	switch s.cells[i] {
	case Head, Tail, Body:
		return true
	}
	return false
}

// Tick advances the step counter.
func (s *State) Tick() { s.steps++ }

// SetLastMove records m for the next reversal check.
func (s *State) SetLastMove(m Move) { s.lastMove = m }

// EatApple consumes the apple under the head's next cell. The caller pushes
// the head afterwards without retracting the tail, which grows the snake.
func (s *State) EatApple() {
	s.apple = -1
	s.applesEaten++
}

// RetractTail clears the oldest body cell and promotes the next one to tail.
func (s *State) RetractTail() {
	old := s.body[0]
	s.cells[old] = Empty
	s.body = s.body[1:]
	s.cells[s.body[0]] = Tail
}

// PushHead moves the head onto target. The previous head becomes a body cell
// oriented along m, unless it is also the tail.
func (s *State) PushHead(target int, m Move) {
	prev := s.Head()
	if prev != s.body[0] {
		s.cells[prev] = Body
		if m.Vertical() {
			s.orient[prev] = Vertical
		} else {
			s.orient[prev] = Horizontal
		}
	}
	s.cells[target] = Head
	s.body = append(s.body, target)
}

// Clone returns a deep copy. The copy has no random source of its own, so
// apples it spawns are placed deterministically.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.cells = append([]Cell(nil), s.cells...)
	out.orient = append([]Orientation(nil), s.orient...)
	out.body = append(make([]int, 0, cap(s.body)), s.body...)
	out.rng = nil
	return &out
}

// SetApplesEaten overrides the apple counter. Used to stage late-game positions.
func (s *State) SetApplesEaten(n int) error {
	if n < 0 || n > s.MaxApples() {
		return fmt.Errorf("apples eaten %d outside [0, %d]", n, s.MaxApples())
	}
	s.applesEaten = n
	return nil
}

// Validate checks the structural invariants of the state.
func (s *State) Validate() error {
	if len(s.body) < 2 {
		return fmt.Errorf("snake length %d below 2", len(s.body))
	}
	seen := make(map[int]bool, len(s.body))
	for k, i := range s.body {
		if i < 0 || i >= len(s.cells) {
			return fmt.Errorf("body[%d]=%d out of range", k, i)
		}
		if seen[i] {
			return fmt.Errorf("body[%d]=%d duplicated", k, i)
		}
		seen[i] = true
		if k > 0 && !s.adjacent(s.body[k-1], i) {
			return fmt.Errorf("body[%d]=%d not adjacent to %d", k, i, s.body[k-1])
		}
	}

	heads, tails, apples := 0, 0, 0
	for i, c := range s.cells {
		switch c {
		case Head:
			heads++
		case Tail:
			tails++
		case Apple:
			apples++
			if i != s.apple {
				return fmt.Errorf("apple mark at %d but apple index is %d", i, s.apple)
			}
		}
		if s.Occupied(i) != seen[i] {
			return fmt.Errorf("cell %d is %v but body membership is %v", i, c, seen[i])
		}
	}
	if heads != 1 || tails != 1 {
		return fmt.Errorf("found %d heads and %d tails", heads, tails)
	}
	if s.cells[s.Head()] != Head || s.cells[s.Tail()] != Tail {
		return fmt.Errorf("head/tail pointers do not match the grid")
	}
	if apples > 1 {
		return fmt.Errorf("found %d apples", apples)
	}
	if s.apple >= 0 && apples == 0 {
		return fmt.Errorf("apple index %d has no mark", s.apple)
	}
	if s.applesEaten < 0 || s.applesEaten > s.MaxApples() {
		return fmt.Errorf("apples eaten %d outside [0, %d]", s.applesEaten, s.MaxApples())
	}
	return nil
}

func (s *State) adjacent(a, b int) bool {
	ar, ac := s.RowCol(a)
	br, bc := s.RowCol(b)
	dr, dc := ar-br, ac-bc
	return dr*dr+dc*dc == 1
}

func (c Cell) String() string {
	switch c {
	case Empty:
		return "Empty"
	case Apple:
		return "Apple"
	case Head:
		return "Head"
	case Tail:
		return "Tail"
	case Body:
		return "Body"
	}
	return fmt.Sprintf("Cell(%d)", int8(c))
}
