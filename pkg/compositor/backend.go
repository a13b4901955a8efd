package compositor

import (
	"context"
	"sync"

	"github.com/odvcencio/constellation/pkg/protocol"
)

// Presentation reports that a backend put a scene on screen.
type Presentation struct {
	Window  protocol.BrowsingContextID
	FrameID string
}

// Backend draws scenes.
//
//go:generate mockgen -package=mocks -destination=mocks/mock_backend.go github.com/odvcencio/constellation/pkg/compositor Backend
type Backend interface {
	// Submit hands a scene to the backend. The scene must not be modified
	// afterwards.
	Submit(ctx context.Context, scene *Scene) error
	// Presented delivers one Presentation per scene actually shown. It may
	// return nil if the backend does not report presentation.
	Presented() <-chan Presentation
}

// MemoryBackend records submitted scenes and presents them immediately.
type MemoryBackend struct {
	mu        sync.Mutex
	scenes    []*Scene
	keep      int
	last      map[protocol.BrowsingContextID]*Scene
	presented chan Presentation
}

// NewMemoryBackend returns a backend buffering up to buffer presentations.
// Presentations beyond that are dropped.
func NewMemoryBackend(buffer int) *MemoryBackend {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryBackend{
		last:      make(map[protocol.BrowsingContextID]*Scene),
		presented: make(chan Presentation, buffer),
	}
}

// KeepLast bounds the recorded scenes to the newest n. Zero keeps all.
func (b *MemoryBackend) KeepLast(n int) *MemoryBackend {
	b.mu.Lock()
	b.keep = n
	b.mu.Unlock()
	return b
}

// Submit implements Backend.
func (b *MemoryBackend) Submit(ctx context.Context, scene *Scene) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.scenes = append(b.scenes, scene)
	if b.keep > 0 && len(b.scenes) > b.keep {
		b.scenes = append(b.scenes[:0:0], b.scenes[len(b.scenes)-b.keep:]...)
	}
	b.last[scene.Window] = scene
	b.mu.Unlock()

	select {
	case b.presented <- Presentation{Window: scene.Window, FrameID: scene.FrameID}:
	default:
	}
	return nil
}

// Presented implements Backend.
func (b *MemoryBackend) Presented() <-chan Presentation {
	return b.presented
}

// Scenes returns every submitted scene in order.
func (b *MemoryBackend) Scenes() []*Scene {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Scene(nil), b.scenes...)
}

// Last returns the newest scene submitted for a window.
func (b *MemoryBackend) Last(window protocol.BrowsingContextID) (*Scene, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.last[window]
	return s, ok
}
