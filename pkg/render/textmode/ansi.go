package textmode

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	ansiEscape      = "\x1b["
	ansiClearScreen = "\x1b[2J"
	ansiCursorHome  = "\x1b[H"
	ansiCursorHide  = "\x1b[?25l"
	ansiCursorShow  = "\x1b[?25h"
	ansiReset       = "\x1b[0m"
)

// Reset restores the default style and shows the cursor again. Write it
// before handing the terminal back.
const Reset = ansiReset + ansiCursorShow + "\n"

// cursorTo moves to (x, y). Coordinates are 0-indexed; ANSI is 1-indexed.
func cursorTo(x, y int) string {
	return fmt.Sprintf("\x1b[%d;%dH", y+1, x+1)
}

// sgr converts a style to a select-graphic-rendition sequence. It always
// starts from a reset so it does not depend on the previous style.
func sgr(s Style) string {
	parts := []string{"0"}
	if s.Bold {
		parts = append(parts, "1")
	}
	if s.Dim {
		parts = append(parts, "2")
	}
	if s.Italic {
		parts = append(parts, "3")
	}
	if s.Reverse {
		parts = append(parts, "7")
	}
	parts = append(parts, colorParams(s.FG, true)...)
	parts = append(parts, colorParams(s.BG, false)...)
	return ansiEscape + strings.Join(parts, ";") + "m"
}

func colorParams(c Color, fg bool) []string {
	switch c.Mode {
	case ColorMode16:
		base := 40
		if fg {
			base = 30
		}
		if c.Value >= 8 {
			base += 60
			return []string{strconv.Itoa(base + int(c.Value) - 8)}
		}
		return []string{strconv.Itoa(base + int(c.Value))}
	case ColorMode256:
		if fg {
			return []string{"38", "5", strconv.Itoa(int(c.Value))}
		}
		return []string{"48", "5", strconv.Itoa(int(c.Value))}
	case ColorModeRGB:
		r, g, b := (c.Value>>16)&0xFF, (c.Value>>8)&0xFF, c.Value&0xFF
		mode := "48"
		if fg {
			mode = "38"
		}
		return []string{mode, "2", strconv.Itoa(int(r)), strconv.Itoa(int(g)), strconv.Itoa(int(b))}
	}
	if fg {
		return []string{"39"}
	}
	return []string{"49"}
}
