package textmode

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Region is a rectangle of cells.
type Region struct {
	X, Y, Width, Height int
}

// Intersect returns the overlap of r and other.
func (r Region) Intersect(other Region) Region {
	x1 := max(r.X, other.X)
	y1 := max(r.Y, other.Y)
	x2 := min(r.X+r.Width, other.X+other.Width)
	y2 := min(r.Y+r.Height, other.Y+other.Height)
	if x2 <= x1 || y2 <= y1 {
		return Region{}
	}
	return Region{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Empty reports whether the region has no area.
func (r Region) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Contains reports whether the cell at (x, y) is inside r.
func (r Region) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Screen is a double-buffered cell grid: the frame being drawn and the
// frame last written to the terminal. It is not safe for concurrent use.
type Screen struct {
	width, height int
	current       [][]Cell
	previous      [][]Cell
}

// NewScreen returns a blank screen.
func NewScreen(width, height int) *Screen {
	s := &Screen{width: width, height: height}
	s.current = alloc(width, height)
	s.previous = alloc(width, height)
	return s
}

func alloc(w, h int) [][]Cell {
	buf := make([][]Cell, h)
	for y := range buf {
		buf[y] = make([]Cell, w)
		for x := range buf[y] {
			buf[y][x] = EmptyCell()
		}
	}
	return buf
}

// Size returns the screen dimensions in cells.
func (s *Screen) Size() (width, height int) {
	return s.width, s.height
}

// Resize changes the dimensions and reports whether they changed. The
// previous buffer is reset, so the next render repaints everything.
func (s *Screen) Resize(width, height int) bool {
	if width == s.width && height == s.height {
		return false
	}
	s.width, s.height = width, height
	s.current = alloc(width, height)
	s.previous = alloc(width, height)
	return true
}

// Clear blanks the frame being drawn.
func (s *Screen) Clear() {
	for y := range s.current {
		for x := range s.current[y] {
			s.current[y][x] = EmptyCell()
		}
	}
}

// bounds returns the whole screen as a region.
func (s *Screen) bounds() Region {
	return Region{Width: s.width, Height: s.height}
}

// Set places a rune at (x, y) if the cell lies inside clip. A wide rune
// also claims the cell to its right.
func (s *Screen) Set(clip Region, x, y int, r rune, style Style) {
	clip = clip.Intersect(s.bounds())
	if !clip.Contains(x, y) {
		return
	}
	width := runewidth.RuneWidth(r)
	if width == 0 {
		width = 1
	}
	if width == 2 && !clip.Contains(x+1, y) {
		// Half a wide rune cannot be drawn.
		s.current[y][x] = Cell{Rune: ' ', Width: 1, Style: style}
		return
	}
	s.current[y][x] = Cell{Rune: r, Width: uint8(width), Style: style}
	if width == 2 {
		s.current[y][x+1] = Cell{Width: 0, Style: style}
	}
}

// SetString writes str from (x, y) within clip and returns the columns
// it advanced.
func (s *Screen) SetString(clip Region, x, y int, str string, style Style) int {
	col := x
	for _, r := range str {
		s.Set(clip, col, y, r, style)
		col += max(runewidth.RuneWidth(r), 1)
	}
	return col - x
}

// FillRect fills rect, clipped to clip, with r.
func (s *Screen) FillRect(clip, rect Region, r rune, style Style) {
	area := rect.Intersect(clip)
	for y := area.Y; y < area.Y+area.Height; y++ {
		for x := area.X; x < area.X+area.Width; x++ {
			s.Set(clip, x, y, r, style)
		}
	}
}

// Box draws a border along the edge of rect.
func (s *Screen) Box(clip, rect Region, style Style) {
	if rect.Width < 2 || rect.Height < 2 {
		return
	}
	x0, y0 := rect.X, rect.Y
	x1, y1 := rect.X+rect.Width-1, rect.Y+rect.Height-1
	s.Set(clip, x0, y0, '┌', style)
	s.Set(clip, x1, y0, '┐', style)
	s.Set(clip, x0, y1, '└', style)
	s.Set(clip, x1, y1, '┘', style)
	for x := x0 + 1; x < x1; x++ {
		s.Set(clip, x, y0, '─', style)
		s.Set(clip, x, y1, '─', style)
	}
	for y := y0 + 1; y < y1; y++ {
		s.Set(clip, x0, y, '│', style)
		s.Set(clip, x1, y, '│', style)
	}
}

// Get returns the cell at (x, y) in the frame being drawn.
func (s *Screen) Get(x, y int) Cell {
	if !s.bounds().Contains(x, y) {
		return EmptyCell()
	}
	return s.current[y][x]
}

// Text returns the frame being drawn as plain lines.
func (s *Screen) Text() string {
	var b strings.Builder
	for y, row := range s.current {
		if y > 0 {
			b.WriteByte('\n')
		}
		for _, c := range row {
			if c.Width == 0 {
				continue
			}
			b.WriteRune(c.Rune)
		}
	}
	return b.String()
}
