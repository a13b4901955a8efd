package textmode

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/odvcencio/constellation/pkg/compositor"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/protocol"
)

// palette colors content layers. A pipeline keeps its color for its whole
// life, so a navigation is visible as a color change.
var palette = []Color{
	Color256(24),
	Color256(28),
	Color256(54),
	Color256(94),
	Color256(23),
	Color256(90),
	Color256(58),
	Color256(60),
}

var (
	blankStyle = DefaultStyle().WithFG(ColorBrightBlack).WithBG(Color256(236))
	errorStyle = DefaultStyle().WithFG(ColorBrightWhite).WithBG(ColorRed).WithBold(true)
)

// Options configures a Backend.
type Options struct {
	// CellWidth and CellHeight are the device pixels one terminal cell
	// covers. Both default to 1.
	CellWidth  int
	CellHeight int
	// Buffer is the capacity of the Presented channel.
	Buffer int
}

// Backend is a compositor.Backend that draws one window on a terminal.
// Scenes of other windows are accepted but not drawn until Focus selects
// them.
type Backend struct {
	opts Options
	out  io.Writer

	mu        sync.Mutex
	screen    *Screen
	focus     protocol.BrowsingContextID
	scenes    map[protocol.BrowsingContextID]*compositor.Scene
	painted   bool
	presented chan compositor.Presentation
}

var _ compositor.Backend = (*Backend)(nil)

// New returns a backend writing to out.
func New(out io.Writer, opts Options) *Backend {
	if opts.CellWidth <= 0 {
		opts.CellWidth = 1
	}
	if opts.CellHeight <= 0 {
		opts.CellHeight = 1
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}
	return &Backend{
		opts:      opts,
		out:       out,
		screen:    NewScreen(0, 0),
		scenes:    make(map[protocol.BrowsingContextID]*compositor.Scene),
		presented: make(chan compositor.Presentation, opts.Buffer),
	}
}

// Presented implements compositor.Backend.
func (b *Backend) Presented() <-chan compositor.Presentation {
	return b.presented
}

// Focus selects the window to draw and repaints it if a scene for it was
// already submitted.
func (b *Backend) Focus(window protocol.BrowsingContextID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.focus = window
	b.painted = false
	if s, ok := b.scenes[window]; ok {
		return b.draw(s)
	}
	return nil
}

// Submit implements compositor.Backend.
func (b *Backend) Submit(ctx context.Context, scene *compositor.Scene) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if scene == nil {
		return errors.New(errors.ErrCodeInvalidInput, "nil scene")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scenes[scene.Window] = scene
	if !b.focus.Valid() {
		b.focus = scene.Window
	}
	if scene.Window != b.focus {
		return nil
	}
	return b.draw(scene)
}

// Text returns the last drawn frame without styling.
func (b *Backend) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.screen.Text()
}

// Cell returns a cell of the last drawn frame.
func (b *Backend) Cell(x, y int) Cell {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.screen.Get(x, y)
}

// draw rasterizes scene and writes the changed cells. Callers hold mu.
func (b *Backend) draw(scene *compositor.Scene) error {
	w := scene.Size.Width / b.opts.CellWidth
	h := scene.Size.Height / b.opts.CellHeight
	full := b.screen.Resize(w, h) || !b.painted
	b.screen.Clear()
	for _, l := range scene.Layers {
		b.paint(l)
	}

	if _, err := io.WriteString(b.out, render(b.screen, full)); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "write frame").WithContext("frame", scene.FrameID)
	}
	b.painted = true

	select {
	case b.presented <- compositor.Presentation{Window: scene.Window, FrameID: scene.FrameID}:
	default:
	}
	return nil
}

func (b *Backend) region(r protocol.Rect) Region {
	return Region{
		X:      r.X / b.opts.CellWidth,
		Y:      r.Y / b.opts.CellHeight,
		Width:  r.Width / b.opts.CellWidth,
		Height: r.Height / b.opts.CellHeight,
	}
}

func (b *Backend) paint(l compositor.Layer) {
	bounds := b.region(l.Bounds)
	clip := b.region(l.Clip)
	if clip.Empty() {
		return
	}

	var style Style
	var label, body string
	switch l.Kind {
	case compositor.LayerContent:
		style = DefaultStyle().WithFG(ColorBrightWhite).WithBG(colorFor(l.Pipeline))
		label = fmt.Sprintf(" %s #%d ", l.URL, l.Epoch)
		if l.Stale {
			label = fmt.Sprintf(" %s #%d (resizing) ", l.URL, l.Epoch)
			style = style.WithDim(true)
		}
		body = string(l.Content)
	case compositor.LayerError:
		style = errorStyle
		label = " " + l.Fault + " "
		body = "this frame stopped responding"
	default:
		style = blankStyle
		label = " loading "
	}

	b.screen.FillRect(clip, bounds, ' ', style)
	b.screen.Box(clip, bounds, style)
	b.screen.SetString(clip, bounds.X+1, bounds.Y, label, style.WithBold(true))
	if body != "" {
		b.screen.SetString(clip, bounds.X+1, bounds.Y+1, body, style.WithItalic(l.Kind == compositor.LayerError))
	}
}

func colorFor(id protocol.PipelineID) Color {
	return palette[uint64(id)%uint64(len(palette))]
}
