// Package textmode draws composited scenes on a terminal. Each frame is
// rasterized into a cell buffer and only the cells that changed since the
// previous frame are written out as ANSI sequences.
package textmode

// ColorMode defines how a color is represented.
type ColorMode uint8

const (
	// ColorModeDefault uses the terminal default color.
	ColorModeDefault ColorMode = iota
	// ColorMode16 uses the basic 16 ANSI colors (0-15).
	ColorMode16
	// ColorMode256 uses the extended 256 color palette.
	ColorMode256
	// ColorModeRGB uses 24-bit true color.
	ColorModeRGB
)

// Color is a terminal color.
type Color struct {
	Mode  ColorMode
	Value uint32 // 16/256: palette index, RGB: 0xRRGGBB
}

var (
	ColorDefault     = Color{Mode: ColorModeDefault}
	ColorBlack       = Color{Mode: ColorMode16, Value: 0}
	ColorRed         = Color{Mode: ColorMode16, Value: 1}
	ColorWhite       = Color{Mode: ColorMode16, Value: 7}
	ColorBrightBlack = Color{Mode: ColorMode16, Value: 8}
	ColorBrightWhite = Color{Mode: ColorMode16, Value: 15}
)

// Color256 returns a 256-palette color.
func Color256(index uint8) Color {
	return Color{Mode: ColorMode256, Value: uint32(index)}
}

// RGB returns a 24-bit color.
func RGB(r, g, b uint8) Color {
	return Color{Mode: ColorModeRGB, Value: uint32(r)<<16 | uint32(g)<<8 | uint32(b)}
}

// Style holds the visual attributes of a cell.
type Style struct {
	FG      Color
	BG      Color
	Bold    bool
	Dim     bool
	Italic  bool
	Reverse bool
}

// DefaultStyle returns a style with no attributes.
func DefaultStyle() Style {
	return Style{FG: ColorDefault, BG: ColorDefault}
}

// WithFG returns a copy with the foreground color set.
func (s Style) WithFG(c Color) Style {
	s.FG = c
	return s
}

// WithBG returns a copy with the background color set.
func (s Style) WithBG(c Color) Style {
	s.BG = c
	return s
}

// WithBold returns a copy with bold set.
func (s Style) WithBold(b bool) Style {
	s.Bold = b
	return s
}

// WithDim returns a copy with dim set.
func (s Style) WithDim(d bool) Style {
	s.Dim = d
	return s
}

// WithItalic returns a copy with italic set.
func (s Style) WithItalic(i bool) Style {
	s.Italic = i
	return s
}

// Cell is one character cell.
type Cell struct {
	Rune  rune
	Width uint8 // 1 for most runes, 2 for wide runes, 0 for the cell a wide rune covers
	Style Style
}

// EmptyCell returns a blank cell with the default style.
func EmptyCell() Cell {
	return Cell{Rune: ' ', Width: 1, Style: DefaultStyle()}
}
