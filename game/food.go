// food.go implements apple spawning.

package game

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand"
)

// PlaceApple marks a uniformly random free cell as the apple. It returns
// false when no free cell exists, which the caller treats as a full board.
// Any apple already on the board is left where it is.
func (s *State) PlaceApple() bool {
	if s.apple >= 0 {
		return true
	}
	free := make([]int, 0, len(s.cells)-len(s.body))
	for i, c := range s.cells {
		if c == Empty {
			free = append(free, i)
		}
	}
	if len(free) == 0 {
		return false
	}

	rng := s.rng
	if rng == nil {
		seed := int64(s.placementSeed())
		if seed == 0 {
			seed = 1
		}
		rng = rand.New(rand.NewSource(seed))
	}
	s.apple = free[rng.Intn(len(free))]
	s.cells[s.apple] = Apple
	return true
}

// SetApple moves the live apple to cell i, which must be empty.
func (s *State) SetApple(i int) error {
	if i < 0 || i >= len(s.cells) {
		return fmt.Errorf("apple index %d out of range", i)
	}
	if i == s.apple {
		return nil
	}
	if s.cells[i] != Empty {
		return fmt.Errorf("cell %d is %v, not empty", i, s.cells[i])
	}
	if s.apple >= 0 {
		s.cells[s.apple] = Empty
	}
	s.apple = i
	s.cells[i] = Apple
	return nil
}

// placementSeed mixes the board size, step, apple count and head position so
// clones without a random source still spawn reproducibly.
func (s *State) placementSeed() uint64 {
	h := fnv.New64a()
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], uint64(s.dim))
	_, _ = h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(s.steps))
	_, _ = h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(s.applesEaten))
	_, _ = h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(s.Head()))
	_, _ = h.Write(buf[:])

	return h.Sum64()
}
