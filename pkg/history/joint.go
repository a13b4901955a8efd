// Package history implements the joint session history of one window: the
// per-context entry logs of every frame in the window, merged into a single
// sequence of navigation steps ordered by a global sequence number.
package history

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/odvcencio/constellation/pkg/protocol"
)

var (
	// ErrOutOfRange is returned when a traversal asks for more steps than the
	// history holds in that direction.
	ErrOutOfRange = errors.New("history traversal out of range")
	// ErrUnknownContext is returned for contexts with no entries.
	ErrUnknownContext = errors.New("context has no session history")
	// ErrDuplicateContext is returned when AddContext is called twice.
	ErrDuplicateContext = errors.New("context already has session history")
	// ErrStalePlan is returned when a traversal is committed after the
	// history it was planned against has changed.
	ErrStalePlan = errors.New("traversal planned against an older history")
)

// Sequencer hands out global navigation sequence numbers. One sequencer is
// shared by every window so numbers never repeat within a process.
type Sequencer struct {
	n atomic.Uint64
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.n.Add(1)
}

// Entry is one document in a context's history.
type Entry struct {
	Seq     uint64
	Context protocol.BrowsingContextID

	// Pipeline is the pipeline that displayed the entry. It may have been
	// discarded since; State and URL are enough to rebuild it.
	Pipeline protocol.PipelineID
	URL      string
	Title    string
	State    []byte
}

// Step moves one context from entry index From to To. Steps are recorded for
// every navigation except replacements and initial loads.
type Step struct {
	Seq     uint64
	Context protocol.BrowsingContextID
	From    int
	To      int
}

type contextLog struct {
	entries []Entry
	current int
}

// Joint is the joint session history of one top-level context. It is not
// safe for concurrent use.
type Joint struct {
	topLevel   protocol.BrowsingContextID
	seq        *Sequencer
	maxEntries int

	contexts map[protocol.BrowsingContextID]*contextLog
	order    []protocol.BrowsingContextID

	// past holds applied steps, oldest first. future holds undone steps with
	// the next one to redo last.
	past   []Step
	future []Step

	generation uint64
}

// NewJoint creates an empty history. maxEntries bounds the total number of
// entries kept across all contexts; zero means unbounded.
func NewJoint(topLevel protocol.BrowsingContextID, seq *Sequencer, maxEntries int) *Joint {
	if seq == nil {
		seq = &Sequencer{}
	}
	return &Joint{
		topLevel:   topLevel,
		seq:        seq,
		maxEntries: maxEntries,
		contexts:   make(map[protocol.BrowsingContextID]*contextLog),
	}
}

// TopLevel returns the window this history belongs to.
func (j *Joint) TopLevel() protocol.BrowsingContextID {
	return j.topLevel
}

// Has reports whether ctx has at least one entry.
func (j *Joint) Has(ctx protocol.BrowsingContextID) bool {
	_, ok := j.contexts[ctx]
	return ok
}

// Contexts returns the contexts with history, in the order they were added.
func (j *Joint) Contexts() []protocol.BrowsingContextID {
	return slices.Clone(j.order)
}

// AddContext records the first entry of a context. Initial loads do not add
// a joint step.
func (j *Joint) AddContext(ctx protocol.BrowsingContextID, e Entry) (Entry, error) {
	if j.Has(ctx) {
		return Entry{}, fmt.Errorf("add %s: %w", ctx, ErrDuplicateContext)
	}
	e.Context = ctx
	e.Seq = j.seq.Next()
	j.contexts[ctx] = &contextLog{entries: []Entry{e}}
	j.order = append(j.order, ctx)
	j.evict()
	return e, nil
}

// Push records a new navigation of ctx. The whole forward history of the
// window is discarded first.
func (j *Joint) Push(ctx protocol.BrowsingContextID, e Entry) (Entry, error) {
	log, ok := j.contexts[ctx]
	if !ok {
		return Entry{}, fmt.Errorf("push %s: %w", ctx, ErrUnknownContext)
	}

	j.clearForward()

	e.Context = ctx
	e.Seq = j.seq.Next()
	from := log.current
	log.entries = append(log.entries, e)
	log.current = len(log.entries) - 1
	j.past = append(j.past, Step{Seq: e.Seq, Context: ctx, From: from, To: log.current})
	j.generation++
	j.evict()
	return e, nil
}

// Replace overwrites the current entry of ctx. The entry keeps its sequence
// number and no step is recorded.
func (j *Joint) Replace(ctx protocol.BrowsingContextID, e Entry) (Entry, error) {
	log, ok := j.contexts[ctx]
	if !ok {
		return Entry{}, fmt.Errorf("replace %s: %w", ctx, ErrUnknownContext)
	}
	cur := &log.entries[log.current]
	e.Context = ctx
	e.Seq = cur.Seq
	*cur = e
	j.generation++
	return e, nil
}

func (j *Joint) clearForward() {
	if len(j.future) == 0 {
		return
	}
	for _, st := range j.future {
		if log, ok := j.contexts[st.Context]; ok {
			log.entries = log.entries[:log.current+1]
		}
	}
	j.future = nil
}

// Current returns the entry ctx currently shows.
func (j *Joint) Current(ctx protocol.BrowsingContextID) (Entry, bool) {
	log, ok := j.contexts[ctx]
	if !ok {
		return Entry{}, false
	}
	return log.entries[log.current], true
}

// Entries returns ctx's entries and its cursor.
func (j *Joint) Entries(ctx protocol.BrowsingContextID) ([]Entry, int) {
	log, ok := j.contexts[ctx]
	if !ok {
		return nil, -1
	}
	return slices.Clone(log.entries), log.current
}

// SetPipeline rebinds an entry to the pipeline now displaying it.
func (j *Joint) SetPipeline(ctx protocol.BrowsingContextID, index int, pipeline protocol.PipelineID) error {
	log, ok := j.contexts[ctx]
	if !ok {
		return fmt.Errorf("set pipeline on %s: %w", ctx, ErrUnknownContext)
	}
	if index < 0 || index >= len(log.entries) {
		return fmt.Errorf("set pipeline on %s[%d]: %w", ctx, index, ErrOutOfRange)
	}
	log.entries[index].Pipeline = pipeline
	return nil
}

// SetTitle updates the title of every entry of ctx displayed by pipeline.
func (j *Joint) SetTitle(ctx protocol.BrowsingContextID, pipeline protocol.PipelineID, title string) bool {
	log, ok := j.contexts[ctx]
	if !ok {
		return false
	}
	changed := false
	for i := range log.entries {
		if log.entries[i].Pipeline == pipeline && log.entries[i].Title != title {
			log.entries[i].Title = title
			changed = true
		}
	}
	return changed
}

// CanGo reports how many steps are available backwards and forwards.
func (j *Joint) CanGo() (back, forward int) {
	return len(j.past), len(j.future)
}

// Prune forgets contexts, every entry they own and every step that touched
// them. Remaining steps keep their sequence numbers, leaving holes.
func (j *Joint) Prune(ctxs ...protocol.BrowsingContextID) {
	drop := make(map[protocol.BrowsingContextID]bool, len(ctxs))
	for _, c := range ctxs {
		if _, ok := j.contexts[c]; ok {
			drop[c] = true
			delete(j.contexts, c)
		}
	}
	if len(drop) == 0 {
		return
	}
	keep := func(st Step) bool { return !drop[st.Context] }
	j.past = filter(j.past, keep)
	j.future = filter(j.future, keep)
	j.order = slices.DeleteFunc(j.order, func(c protocol.BrowsingContextID) bool { return drop[c] })
	j.generation++
}

func filter(steps []Step, keep func(Step) bool) []Step {
	out := steps[:0:0]
	for _, st := range steps {
		if keep(st) {
			out = append(out, st)
		}
	}
	return out
}

// Len returns the total number of entries across all contexts.
func (j *Joint) Len() int {
	n := 0
	for _, log := range j.contexts {
		n += len(log.entries)
	}
	return n
}

// evict drops the oldest past steps, and the entries only they could reach,
// until the history fits maxEntries.
func (j *Joint) evict() {
	if j.maxEntries <= 0 {
		return
	}
	for j.Len() > j.maxEntries && len(j.past) > 0 {
		oldest := j.past[0]
		j.past = j.past[1:]
		j.generation++

		log := j.contexts[oldest.Context]
		// Entries at or before From are unreachable once the oldest step that
		// touched this context is gone.
		drop := oldest.From + 1
		if drop > log.current {
			drop = log.current
		}
		if drop <= 0 {
			continue
		}
		log.entries = slices.Clone(log.entries[drop:])
		log.current -= drop
		shift := func(steps []Step) {
			for i := range steps {
				if steps[i].Context == oldest.Context {
					steps[i].From -= drop
					steps[i].To -= drop
				}
			}
		}
		shift(j.past)
		shift(j.future)
	}
}
