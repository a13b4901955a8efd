// Package embedder is the boundary the browser chrome attaches to: the events
// the engine emits and the commands it accepts.
package embedder

import (
	"time"

	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/history"
	"github.com/odvcencio/constellation/pkg/protocol"
)

// EventType identifies the kind of embedder event.
type EventType string

const (
	EventLoadStateChanged EventType = "load.state_changed"
	EventHistoryChanged   EventType = "history.changed"
	EventPipelineFaulted  EventType = "pipeline.faulted"
	EventTitleChanged     EventType = "title.changed"
	EventFramePresented   EventType = "frame.presented"
	EventWindowClosed     EventType = "window.closed"
)

// Load states reported by LoadStateChanged.
const (
	LoadPending  = "pending"
	LoadLoading  = "loading"
	LoadComplete = "complete"
	LoadAborted  = "aborted"
)

// Event is a notification for the embedder. Only the fields relevant to Type
// are set.
type Event struct {
	Type      EventType                  `json:"type"`
	Timestamp time.Time                  `json:"timestamp"`
	TopLevel  protocol.BrowsingContextID `json:"topLevel,omitempty"`
	Context   protocol.BrowsingContextID `json:"context,omitempty"`
	Pipeline  protocol.PipelineID        `json:"pipeline,omitempty"`
	State     string                     `json:"state,omitempty"`
	URL       string                     `json:"url,omitempty"`
	Title     string                     `json:"title,omitempty"`
	Code      errors.ErrorCode           `json:"code,omitempty"`
	Reason    string                     `json:"reason,omitempty"`
	History   *history.View              `json:"history,omitempty"`
	FrameID   string                     `json:"frameId,omitempty"`
}

// Publisher accepts events. Publish must not block.
type Publisher interface {
	Publish(event Event)
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// LoadStateChanged reports a pipeline's progress in a context.
func LoadStateChanged(ctx protocol.BrowsingContextID, pipeline protocol.PipelineID, state, url string) Event {
	return Event{Type: EventLoadStateChanged, Context: ctx, Pipeline: pipeline, State: state, URL: url}
}

// HistoryChanged carries the new joint history of a window.
func HistoryChanged(view history.View) Event {
	return Event{Type: EventHistoryChanged, TopLevel: view.TopLevel, History: &view}
}

// PipelineFaulted reports a failed pipeline. The code is taken from err.
func PipelineFaulted(ctx protocol.BrowsingContextID, pipeline protocol.PipelineID, err error) Event {
	ev := Event{Type: EventPipelineFaulted, Context: ctx, Pipeline: pipeline, Code: errors.GetCode(err)}
	if err != nil {
		ev.Reason = err.Error()
	}
	return ev
}

// TitleChanged reports a new document title.
func TitleChanged(ctx protocol.BrowsingContextID, pipeline protocol.PipelineID, title string) Event {
	return Event{Type: EventTitleChanged, Context: ctx, Pipeline: pipeline, Title: title}
}

// FramePresented reports that the rendering backend showed a frame.
func FramePresented(window protocol.BrowsingContextID, frameID string) Event {
	return Event{Type: EventFramePresented, TopLevel: window, FrameID: frameID}
}

// WindowClosed reports that a top-level context is gone.
func WindowClosed(window protocol.BrowsingContextID) Event {
	return Event{Type: EventWindowClosed, TopLevel: window}
}
