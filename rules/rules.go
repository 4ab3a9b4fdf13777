// Package rules implements the single-snake transition function.
//
// Apply classifies a requested move against the current state and then
// mutates the state only when the move is legal. Bad moves (walls,
// reversals, self collisions) are outcomes with a reward, never errors.
package rules

import (
	"fmt"
	"strings"

	"github.com/brensch/snekgym/game"
)

type Move = game.Move

const (
	MoveUp    = game.MoveUp
	MoveDown  = game.MoveDown
	MoveLeft  = game.MoveLeft
	MoveRight = game.MoveRight
)

// Rewards per outcome.
const (
	RewardMove          = 0
	RewardApple         = 2
	RewardWall          = -1
	RewardReversal      = -1
	RewardSelfCollision = 0
)

// Outcome classifies what a step did.
type Outcome uint8

const (
	OutcomeMoved Outcome = iota
	OutcomeAte
	OutcomeBoardFull
	OutcomeWall
	OutcomeReversal
	OutcomeSelfCollision
)

var outcomeNames = [...]string{"moved", "ate", "board_full", "wall", "reversal", "self_collision"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// Terminal reports whether the outcome ends the episode on its own.
func (o Outcome) Terminal() bool {
	return o != OutcomeMoved && o != OutcomeAte
}

// Reward returns the reward paid for the outcome.
func (o Outcome) Reward() int {
	switch o {
	case OutcomeAte, OutcomeBoardFull:
		return RewardApple
	case OutcomeWall:
		return RewardWall
	case OutcomeReversal:
		return RewardReversal
	case OutcomeSelfCollision:
		return RewardSelfCollision
	}
	return RewardMove
}

// Limit is an optional ceiling on the number of steps in an episode.
type Limit struct {
	max int
	set bool
}

// Unbounded never ends an episode on step count.
func Unbounded() Limit { return Limit{} }

// MaxSteps ends the episode once the step counter exceeds n.
func MaxSteps(n int) Limit { return Limit{max: n, set: true} }

// Max returns the ceiling, if any.
func (l Limit) Max() (int, bool) { return l.max, l.set }

// Exceeded reports whether steps is past the ceiling.
func (l Limit) Exceeded(steps int) bool {
	return l.set && steps > l.max
}

// Result is the effect of one step.
type Result struct {
	Outcome    Outcome
	Reward     int
	Terminated bool
	// StepLimit is set when the step ceiling forced termination.
	StepLimit bool
}

// Target returns the cell the head would enter on m, or false when that
// leaves the grid.
func Target(s *game.State, m Move) (int, bool) {
	row, col := s.RowCol(s.Head())
	switch m {
	case MoveUp:
		row--
	case MoveDown:
		row++
	case MoveLeft:
		col--
	case MoveRight:
		col++
	default:
		return -1, false
	}
	if !s.InBounds(row, col) {
		return -1, false
	}
	return s.Index(row, col), true
}

// Reverses reports whether m undoes the previous move.
func Reverses(s *game.State, m Move) bool {
	last := s.LastMove()
	return last != game.MoveNone && m == last.Opposite()
}

// Classify decides the outcome of m without touching the state. The apple
// outcome is OutcomeAte even when eating would fill the board; Apply
// upgrades it to OutcomeBoardFull.
func Classify(s *game.State, m Move) (Outcome, int) {
	target, ok := Target(s, m)
	if !ok {
		return OutcomeWall, -1
	}
	if Reverses(s, m) {
		return OutcomeReversal, target
	}
	if s.Occupied(target) {
		return OutcomeSelfCollision, target
	}
	if s.At(target) == game.Apple {
		return OutcomeAte, target
	}
	return OutcomeMoved, target
}

// Apply advances s by one step. m must be a valid move. Terminal outcomes
// leave the board untouched; only the step counter and last move change.
func Apply(s *game.State, m Move, limit Limit) Result {
	if !m.Valid() {
		panic(fmt.Sprintf("rules: apply called with %v", m))
	}

	outcome, target := Classify(s, m)
	s.Tick()

	switch outcome {
	case OutcomeAte:
		s.EatApple()
		s.PushHead(target, m)
		if s.ApplesEaten() >= s.MaxApples() || !s.PlaceApple() {
			outcome = OutcomeBoardFull
		}
	case OutcomeMoved:
		s.RetractTail()
		s.PushHead(target, m)
	}

	res := Result{
		Outcome:    outcome,
		Reward:     outcome.Reward(),
		Terminated: outcome.Terminal(),
	}
	if limit.Exceeded(s.Steps()) {
		res.Terminated = true
		res.StepLimit = true
	}

	s.SetLastMove(m)
	return res
}

// LegalMoves returns the moves that neither end the episode nor reverse.
func LegalMoves(s *game.State) []Move {
	moves := make([]Move, 0, game.NumMoves)
	for m := MoveUp; m <= MoveRight; m++ {
		if o, _ := Classify(s, m); !o.Terminal() {
			moves = append(moves, m)
		}
	}
	return moves
}

// ParseMove accepts w/a/s/d, arrow names, full direction names or the
// numeric action 0..3.
func ParseMove(in string) (Move, error) {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "w", "up", "0":
		return MoveUp, nil
	case "s", "down", "1":
		return MoveDown, nil
	case "a", "left", "2":
		return MoveLeft, nil
	case "d", "right", "3":
		return MoveRight, nil
	}
	return game.MoveNone, fmt.Errorf("unknown move %q", in)
}
