// Package protocol defines the identifiers, geometry and message envelope shared by
// the constellation, its pipelines' workers and the compositor.
//
// Everything that crosses the channel transport is an Envelope. Envelopes are
// encoded with the protobuf wire format so that workers can live in another
// process (see bus.NATSBus) without sharing memory with the orchestrator.
package protocol

import (
	"strconv"
	"sync/atomic"
)

// PipelineID identifies a pipeline. IDs are process-unique and never reused.
type PipelineID uint64

// BrowsingContextID identifies a frame slot in the frame tree. It survives
// navigations; the pipeline occupying it does not.
type BrowsingContextID uint64

// String renders the id for logs and subjects.
func (id PipelineID) String() string {
	return "p" + strconv.FormatUint(uint64(id), 10)
}

// String renders the id for logs and subjects.
func (id BrowsingContextID) String() string {
	return "c" + strconv.FormatUint(uint64(id), 10)
}

// Valid reports whether the id has been assigned.
func (id PipelineID) Valid() bool { return id != 0 }

// Valid reports whether the id has been assigned.
func (id BrowsingContextID) Valid() bool { return id != 0 }

// IDAllocator hands out identifiers from monotonically increasing counters.
type IDAllocator struct {
	pipelines atomic.Uint64
	contexts  atomic.Uint64
}

// NextPipeline returns a fresh pipeline id.
func (a *IDAllocator) NextPipeline() PipelineID {
	return PipelineID(a.pipelines.Add(1))
}

// NextContext returns a fresh browsing context id.
func (a *IDAllocator) NextContext() BrowsingContextID {
	return BrowsingContextID(a.contexts.Add(1))
}
