// Package policy provides action sources that drive an environment through
// its observation/action contract. A policy only sees the flat observation.
package policy

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/brensch/snekgym/game"
)

// Policy picks the next move for an observation of a dim*dim board.
type Policy interface {
	Name() string
	Act(ctx context.Context, obs []int32, dim int) (game.Move, error)
}

const (
	NameRandom = "random"
	NameGreedy = "greedy"
	NameOnnx   = "onnx"
)

// Options configures New.
type Options struct {
	Seed      int64
	ModelPath string
	Onnx      OnnxConfig
}

// New builds a policy by name.
func New(name string, opts Options) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameRandom:
		return NewRandom(opts.Seed), nil
	case "", NameGreedy:
		return Greedy{}, nil
	case NameOnnx:
		if opts.ModelPath == "" {
			return nil, fmt.Errorf("onnx policy needs a model path")
		}
		return NewOnnx(opts.ModelPath, opts.Onnx)
	}
	return nil, fmt.Errorf("unknown policy %q", name)
}

// Random picks uniformly among the four moves, including fatal ones.
type Random struct {
	rng *rand.Rand
}

func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) Name() string { return NameRandom }

func (r *Random) Act(_ context.Context, _ []int32, _ int) (game.Move, error) {
	return game.Move(r.rng.Intn(game.NumMoves)), nil
}

// Greedy steps toward the apple by Manhattan distance, never choosing a move
// that leaves the grid or enters the snake. Ties go to the lowest move.
type Greedy struct{}

func (Greedy) Name() string { return NameGreedy }

func (Greedy) Act(_ context.Context, obs []int32, dim int) (game.Move, error) {
	if dim <= 0 || len(obs) != dim*dim {
		return game.MoveNone, fmt.Errorf("observation length %d does not match dim %d", len(obs), dim)
	}
	head, apple := -1, -1
	for i, v := range obs {
		switch game.Cell(v) {
		case game.Head:
			head = i
		case game.Apple:
			apple = i
		}
	}
	if head < 0 {
		return game.MoveNone, fmt.Errorf("observation has no head")
	}

	best, bestDist := game.MoveUp, -1
	for m := game.MoveUp; m <= game.MoveRight; m++ {
		target, ok := neighbor(head, m, dim)
		if !ok {
			continue
		}
		switch game.Cell(obs[target]) {
		case game.Body, game.Tail:
			continue
		}
		d := 0
		if apple >= 0 {
			d = manhattan(target, apple, dim)
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = m, d
		}
	}
	return best, nil
}

func neighbor(i int, m game.Move, dim int) (int, bool) {
	row, col := i/dim, i%dim
	switch m {
	case game.MoveUp:
		row--
	case game.MoveDown:
		row++
	case game.MoveLeft:
		col--
	case game.MoveRight:
		col++
	}
	if row < 0 || row >= dim || col < 0 || col >= dim {
		return -1, false
	}
	return row*dim + col, true
}

func manhattan(a, b, dim int) int {
	dr := a/dim - b/dim
	dc := a%dim - b%dim
	if dr < 0 {
		dr = -dr
	}
	if dc < 0 {
		dc = -dc
	}
	return dr + dc
}
