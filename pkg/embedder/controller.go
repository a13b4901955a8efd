package embedder

import (
	"context"

	"github.com/odvcencio/constellation/pkg/frametree"
	"github.com/odvcencio/constellation/pkg/history"
	"github.com/odvcencio/constellation/pkg/pipeline"
	"github.com/odvcencio/constellation/pkg/protocol"
)

//go:generate mockgen -package=mocks -destination=mocks/mock_controller.go github.com/odvcencio/constellation/pkg/embedder Controller

// Controller is the command surface the engine offers the chrome.
type Controller interface {
	CreateTopLevel(ctx context.Context, url string, size protocol.Size) (protocol.BrowsingContextID, error)
	Navigate(ctx context.Context, id protocol.BrowsingContextID, url string, replace bool) error
	Traverse(ctx context.Context, topLevel protocol.BrowsingContextID, delta int) error
	Reload(ctx context.Context, id protocol.BrowsingContextID) error
	Resize(ctx context.Context, topLevel protocol.BrowsingContextID, size protocol.Size) error
	AttachChild(ctx context.Context, parent protocol.BrowsingContextID, url string, rect protocol.Rect) (protocol.BrowsingContextID, error)
	Detach(ctx context.Context, id protocol.BrowsingContextID) error
	History(ctx context.Context, topLevel protocol.BrowsingContextID) (history.View, error)
	Pipelines(ctx context.Context) ([]pipeline.Info, error)
	FrameTree() *frametree.Snapshot
}

// GoBack traverses n steps back.
func GoBack(ctx context.Context, c Controller, topLevel protocol.BrowsingContextID, n int) error {
	return c.Traverse(ctx, topLevel, -n)
}

// GoForward traverses n steps forward.
func GoForward(ctx context.Context, c Controller, topLevel protocol.BrowsingContextID, n int) error {
	return c.Traverse(ctx, topLevel, n)
}
