package textmode

import "strings"

// render returns the ANSI output that turns the last written frame into the
// one being drawn. With full set the terminal is cleared and every cell is
// written. Afterwards the drawn frame becomes the last written one.
func render(s *Screen, full bool) string {
	var out strings.Builder
	out.Grow(s.width * s.height / 4)
	if full {
		out.WriteString(ansiClearScreen)
		out.WriteString(ansiCursorHome)
	}
	out.WriteString(ansiCursorHide)

	lastX, lastY := -1, -1
	var lastStyle Style
	styleSet := false
	wrote := false

	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			curr := s.current[y][x]
			if curr.Width == 0 {
				continue
			}
			if !full && curr == s.previous[y][x] {
				continue
			}
			if y != lastY || x != lastX+1 {
				out.WriteString(cursorTo(x, y))
			}
			if !styleSet || curr.Style != lastStyle {
				out.WriteString(sgr(curr.Style))
				lastStyle = curr.Style
				styleSet = true
			}
			if curr.Rune == 0 {
				out.WriteRune(' ')
			} else {
				out.WriteRune(curr.Rune)
			}
			lastX = x + int(curr.Width) - 1
			lastY = y
			wrote = true
		}
	}
	if wrote {
		out.WriteString(ansiReset)
	}

	for y := range s.current {
		copy(s.previous[y], s.current[y])
	}
	return out.String()
}
