package constellation

import (
	"context"

	"github.com/odvcencio/constellation/pkg/embedder"
	"github.com/odvcencio/constellation/pkg/pipeline"
	"github.com/odvcencio/constellation/pkg/protocol"
)

// controller exposes the constellation to the embedder.
type controller struct {
	*Constellation
}

var _ embedder.Controller = controller{}

// Controller returns the embedder command surface of c.
func (c *Constellation) Controller() embedder.Controller {
	return controller{c}
}

func (c controller) Navigate(ctx context.Context, id protocol.BrowsingContextID, url string, replace bool) error {
	return c.Constellation.Navigate(ctx, id, url, NavigateOptions{ReplaceCurrentEntry: replace})
}

func (c controller) Traverse(ctx context.Context, topLevel protocol.BrowsingContextID, delta int) error {
	return c.TraverseHistory(ctx, topLevel, delta)
}

func (c controller) AttachChild(ctx context.Context, parent protocol.BrowsingContextID, url string, rect protocol.Rect) (protocol.BrowsingContextID, error) {
	return c.Constellation.AttachChild(ctx, parent, url, AttachOptions{Rect: rect})
}

func (c controller) Pipelines(ctx context.Context) ([]pipeline.Info, error) {
	return c.LivePipelines(ctx)
}
