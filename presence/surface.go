// Package presence renders the cursors and selections of remote peers.
//
// Positions are measured on a Surface, an off-screen grid of fixed-width
// cells that mirrors the wrapping of the real text field. A selection that
// crosses line wraps yields one rectangle per visual row.
package presence

import (
	"github.com/rivo/uniseg"
)

// DefaultTabWidth is used when a Surface does not set one.
const DefaultTabWidth = 4

// Rect is a run of cells on one visual row of the surface.
type Rect struct {
	Row   int `json:"row"`
	Col   int `json:"col"`
	Width int `json:"width"`
}

// Surface is the measurement grid. Columns of 0 disables wrapping.
type Surface struct {
	Columns  int
	TabWidth int
}

type cell struct {
	row, col, width int
}

// layout places every rune of text on the grid. The result has one entry
// per rune plus a final entry for the end of the text.
func (s Surface) layout(text string) []cell {
	tab := s.TabWidth
	if tab < 1 {
		tab = DefaultTabWidth
	}
	cells := make([]cell, 0, len(text)+1)
	row, col := 0, 0

	g := uniseg.NewGraphemes(text)
	for g.Next() {
		runes := g.Runes()
		str := g.Str()
		if str == "\n" || str == "\r\n" {
			for range runes {
				cells = append(cells, cell{row: row, col: col})
			}
			row, col = row+1, 0
			continue
		}

		w := g.Width()
		if str == "\t" {
			w = tab - col%tab
		}
		if s.Columns > 0 && col > 0 && col+w > s.Columns {
			row, col = row+1, 0
		}
		cells = append(cells, cell{row: row, col: col, width: w})
		// combining runes share the cluster's cell
		for range runes[1:] {
			cells = append(cells, cell{row: row, col: col})
		}
		col += w
	}
	return append(cells, cell{row: row, col: col})
}

// Rects returns the rectangles covering the character range [start, end)
// of text. A collapsed range yields a single zero-width rectangle at the
// caret position. Offsets are clamped to the text.
func (s Surface) Rects(text string, start, end int) []Rect {
	cells := s.layout(text)
	n := len(cells) - 1
	start, end = clamp(start, 0, n), clamp(end, 0, n)
	if end < start {
		start, end = end, start
	}
	if start == end {
		c := cells[start]
		return []Rect{{Row: c.row, Col: c.col}}
	}

	var rects []Rect
	for _, c := range cells[start:end] {
		if len(rects) > 0 && rects[len(rects)-1].Row == c.row {
			r := &rects[len(rects)-1]
			if right := c.col + c.width; right > r.Col+r.Width {
				r.Width = right - r.Col
			}
			continue
		}
		rects = append(rects, Rect{Row: c.row, Col: c.col, Width: c.width})
	}
	return rects
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
