package compositor

import (
	"fmt"

	"github.com/odvcencio/constellation/pkg/protocol"
)

// LayerKind says what a layer shows.
type LayerKind uint8

const (
	// LayerContent is a frame produced by the occupant's layout worker.
	LayerContent LayerKind = iota
	// LayerBlank is drawn while the occupant has not produced a frame yet.
	LayerBlank
	// LayerError stands in for a failed pipeline.
	LayerError
)

func (k LayerKind) String() string {
	switch k {
	case LayerContent:
		return "content"
	case LayerBlank:
		return "blank"
	case LayerError:
		return "error"
	}
	return fmt.Sprintf("layer(%d)", uint8(k))
}

// Layer is one frame's contribution to a scene. Every layer belongs to the
// pipeline occupying its context when the scene was built.
type Layer struct {
	Context  protocol.BrowsingContextID
	Pipeline protocol.PipelineID
	Kind     LayerKind
	Depth    int

	// Bounds is the frame rect in window coordinates; Clip is the part of it
	// left visible by its ancestors.
	Bounds protocol.Rect
	Clip   protocol.Rect

	Epoch   uint64
	URL     string
	Content []byte

	// Stale is set when the content was laid out for a different size than
	// the frame now has. It is still the occupant's own frame.
	Stale bool
	// Fault is the error code shown by an error layer.
	Fault string
}

// Scene is everything one window shows in one presented frame, in paint
// order.
type Scene struct {
	FrameID     string
	Window      protocol.BrowsingContextID
	Size        protocol.Size
	TreeVersion uint64
	Layers      []Layer
}

// HitTest returns the topmost layer whose visible area contains p.
func (s *Scene) HitTest(p protocol.Point) (Layer, bool) {
	if s == nil {
		return Layer{}, false
	}
	for i := len(s.Layers) - 1; i >= 0; i-- {
		if s.Layers[i].Clip.Contains(p) {
			return s.Layers[i], true
		}
	}
	return Layer{}, false
}

// Layer returns the layer drawn for a context.
func (s *Scene) Layer(ctx protocol.BrowsingContextID) (Layer, bool) {
	if s == nil {
		return Layer{}, false
	}
	for _, l := range s.Layers {
		if l.Context == ctx {
			return l, true
		}
	}
	return Layer{}, false
}
