package game

import "fmt"

// Move is a requested head direction. The numeric values are the action
// space exposed to agents: 0=Up, 1=Down, 2=Left, 3=Right.
type Move int8

const (
	MoveNone  Move = -1
	MoveUp    Move = 0
	MoveDown  Move = 1
	MoveLeft  Move = 2
	MoveRight Move = 3
)

// NumMoves is the size of the action space.
const NumMoves = 4

var moveNames = [NumMoves]string{"Up", "Down", "Left", "Right"}

// Valid reports whether m is one of the four directions.
func (m Move) Valid() bool {
	return m >= MoveUp && m <= MoveRight
}

// Opposite returns the direction that would reverse m.
func (m Move) Opposite() Move {
	switch m {
	case MoveUp:
		return MoveDown
	case MoveDown:
		return MoveUp
	case MoveLeft:
		return MoveRight
	case MoveRight:
		return MoveLeft
	}
	return MoveNone
}

// Vertical reports whether m moves between rows.
func (m Move) Vertical() bool {
	return m == MoveUp || m == MoveDown
}

func (m Move) String() string {
	if m.Valid() {
		return moveNames[m]
	}
	if m == MoveNone {
		return "None"
	}
	return fmt.Sprintf("Move(%d)", int8(m))
}
