package game

import (
	"bufio"
	"io"
	"strings"
)

// Observation projects the grid into one value per cell, row-major:
// 0=empty, 1=apple, 2=head, 3=tail, 4=body.
func (s *State) Observation() []int32 {
	obs := make([]int32, len(s.cells))
	for i, c := range s.cells {
		obs[i] = int32(c)
	}
	return obs
}

// Glyph returns the character drawn for cell i.
func (s *State) Glyph(i int) byte {
	switch s.cells[i] {
	case Apple:
		return 'A'
	case Head:
		return 'H'
	case Tail:
		return 'T'
	case Body:
		if s.orient[i] == Vertical {
			return '|'
		}
		return '-'
	}
	return ' '
}

// Render writes the grid framed by a dashed border Dim+2 wide.
func (s *State) Render(w io.Writer) error {
	bw := bufio.NewWriter(w)
	border := strings.Repeat("-", s.dim+2)

	bw.WriteString(border)
	bw.WriteByte('\n')
	for row := 0; row < s.dim; row++ {
		bw.WriteByte('|')
		for col := 0; col < s.dim; col++ {
			bw.WriteByte(s.Glyph(s.Index(row, col)))
		}
		bw.WriteString("|\n")
	}
	bw.WriteString(border)
	bw.WriteByte('\n')
	return bw.Flush()
}

func (s *State) String() string {
	var sb strings.Builder
	_ = s.Render(&sb)
	return sb.String()
}
