package protocol

import "fmt"

// Kind identifies the message carried by an Envelope.
type Kind uint32

const (
	KindUnknown Kind = iota

	// constellation -> script worker
	KindLoad
	KindStop
	KindUnload
	KindPostMessage
	KindInput
	KindPing

	// constellation -> layout worker
	KindReflow

	// script worker -> constellation
	KindReadyToDisplay
	KindNavigationRequested
	KindFault
	KindTitleChanged
	KindRouteRequest

	// layout worker -> compositor
	KindFrameUpdate

	// spawn handshake
	KindSpawn
	KindAck
	KindNack
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindLoad:                "load",
	KindStop:                "stop",
	KindUnload:              "unload",
	KindPostMessage:         "post_message",
	KindInput:               "input",
	KindPing:                "ping",
	KindReflow:              "reflow",
	KindReadyToDisplay:      "ready_to_display",
	KindNavigationRequested: "navigation_requested",
	KindFault:               "fault",
	KindTitleChanged:        "title_changed",
	KindRouteRequest:        "route_request",
	KindFrameUpdate:         "frame_update",
	KindSpawn:               "spawn",
	KindAck:                 "ack",
	KindNack:                "nack",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// TargetKind selects which browsing context a script-initiated navigation
// applies to.
type TargetKind uint32

const (
	TargetSelf TargetKind = iota
	TargetParent
	TargetTop
	TargetContext
)

// NavigationTarget names the context a NavigationRequested message navigates.
type NavigationTarget struct {
	Kind    TargetKind
	Context BrowsingContextID
}

// InputKind enumerates pointer and keyboard events.
type InputKind uint32

const (
	InputPointerDown InputKind = iota + 1
	InputPointerUp
	InputPointerMove
	InputWheel
	InputKeyDown
	InputKeyUp
)

// InputEvent is a pointer or keyboard event. Context and Pipeline are filled in
// by the compositor after hit-testing; Point is then relative to the frame.
type InputEvent struct {
	Kind      InputKind         `json:"kind"`
	Point     Point             `json:"point"`
	Key       string            `json:"key,omitempty"`
	Modifiers uint32            `json:"modifiers,omitempty"`
	Context   BrowsingContextID `json:"context,omitempty"`
	Pipeline  PipelineID        `json:"pipeline,omitempty"`
}

// IsPointer reports whether the event carries a position to hit-test.
func (e InputEvent) IsPointer() bool {
	switch e.Kind {
	case InputPointerDown, InputPointerUp, InputPointerMove, InputWheel:
		return true
	}
	return false
}

// Envelope is the single message type carried by the channel transport. Only
// the fields relevant to Kind are populated.
type Envelope struct {
	Kind      Kind
	RequestID string

	Pipeline PipelineID
	Context  BrowsingContextID
	Parent   BrowsingContextID

	// Peer is the source pipeline of a PostMessage or the destination of a
	// RouteRequest.
	Peer PipelineID

	Epoch   uint64
	URL     string
	Title   string
	Reason  string
	Payload []byte

	Target  NavigationTarget
	Replace bool

	// Rect carries reflow constraints and the initial viewport of a spawn.
	Rect  Rect
	Input *InputEvent
}

func (e *Envelope) String() string {
	if e == nil {
		return "<nil envelope>"
	}
	return fmt.Sprintf("%s{pipeline=%s context=%s epoch=%d}", e.Kind, e.Pipeline, e.Context, e.Epoch)
}

// Ack is the reply a worker sends for every envelope it accepts.
func Ack(requestID string) *Envelope {
	return &Envelope{Kind: KindAck, RequestID: requestID}
}

// NackResourceExhausted is the Nack reason a content host gives when it cannot
// start more workers.
const NackResourceExhausted = "resource exhausted"

// Nack is the reply a worker sends when it refuses an envelope.
func Nack(requestID, reason string) *Envelope {
	return &Envelope{Kind: KindNack, RequestID: requestID, Reason: reason}
}
