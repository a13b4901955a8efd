// Package pipeline models the execution unit of one browsing context: a
// script worker and a layout worker reached only through the channel
// transport, and the lifecycle state machine that governs them.
package pipeline

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned for a lifecycle change the state machine
// does not allow.
var ErrInvalidTransition = errors.New("invalid pipeline state transition")

// State is a pipeline lifecycle state.
type State int

const (
	StatePending State = iota
	StateLoading
	StateActive
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText lets states appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Live reports whether the pipeline still owns workers.
func (s State) Live() bool {
	return s != StateDiscarded
}

// CanTransition reports whether s -> to is a legal lifecycle change.
// Discarded is terminal.
func (s State) CanTransition(to State) bool {
	switch s {
	case StatePending:
		return to == StateLoading || to == StateDiscarded
	case StateLoading:
		return to == StateActive || to == StateDiscarded
	case StateActive:
		return to == StateDiscarded
	default:
		return false
	}
}

// Kind distinguishes real content from error placeholders.
type Kind int

const (
	KindContent Kind = iota
	KindPlaceholder
)

func (k Kind) String() string {
	if k == KindPlaceholder {
		return "placeholder"
	}
	return "content"
}

// MarshalText lets kinds appear by name in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
