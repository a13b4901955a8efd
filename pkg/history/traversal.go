package history

import (
	"fmt"

	"github.com/odvcencio/constellation/pkg/protocol"
)

// Change is the effect of a traversal on one context.
type Change struct {
	Context protocol.BrowsingContextID
	From    int
	To      int

	// Entry is the entry the context moves to.
	Entry Entry

	// Pipeline, when set before Commit, rebinds Entry to the pipeline that
	// was created to display it.
	Pipeline protocol.PipelineID
}

// Traversal is a validated plan to move the joint cursor by Delta steps.
// Nothing changes until it is committed.
type Traversal struct {
	TopLevel protocol.BrowsingContextID
	Delta    int
	Changes  []Change

	generation uint64
}

// Empty reports whether the traversal changes no context.
func (t Traversal) Empty() bool {
	return len(t.Changes) == 0
}

// Plan validates a traversal by delta steps (negative is back) and returns
// the target entry of every context it affects. It fails with ErrOutOfRange
// when fewer than |delta| steps exist in that direction.
func (j *Joint) Plan(delta int) (Traversal, error) {
	tr := Traversal{TopLevel: j.topLevel, Delta: delta, generation: j.generation}
	if delta == 0 {
		return tr, nil
	}

	target := make(map[protocol.BrowsingContextID]int)
	switch {
	case delta < 0:
		if -delta > len(j.past) {
			return Traversal{}, fmt.Errorf("back %d with %d available: %w", -delta, len(j.past), ErrOutOfRange)
		}
		// Undo newest first; the oldest undone step of a context decides
		// where it lands.
		for i := len(j.past) - 1; i >= len(j.past)+delta; i-- {
			target[j.past[i].Context] = j.past[i].From
		}
	default:
		if delta > len(j.future) {
			return Traversal{}, fmt.Errorf("forward %d with %d available: %w", delta, len(j.future), ErrOutOfRange)
		}
		for i := len(j.future) - 1; i >= len(j.future)-delta; i-- {
			target[j.future[i].Context] = j.future[i].To
		}
	}

	for _, ctx := range j.order {
		to, ok := target[ctx]
		if !ok {
			continue
		}
		log := j.contexts[ctx]
		if to == log.current {
			continue
		}
		tr.Changes = append(tr.Changes, Change{
			Context: ctx,
			From:    log.current,
			To:      to,
			Entry:   log.entries[to],
		})
	}
	return tr, nil
}

// Commit applies a planned traversal: every affected context and the joint
// cursor move together. A plan made before a later Push, Replace or Prune is
// rejected with ErrStalePlan and nothing changes.
func (j *Joint) Commit(tr Traversal) error {
	if tr.generation != j.generation {
		return ErrStalePlan
	}
	if tr.Delta < 0 && -tr.Delta > len(j.past) || tr.Delta > 0 && tr.Delta > len(j.future) {
		return fmt.Errorf("commit %d: %w", tr.Delta, ErrOutOfRange)
	}

	for _, ch := range tr.Changes {
		log := j.contexts[ch.Context]
		log.current = ch.To
		if ch.Pipeline.Valid() {
			log.entries[ch.To].Pipeline = ch.Pipeline
		}
	}

	switch {
	case tr.Delta < 0:
		for i := 0; i < -tr.Delta; i++ {
			last := j.past[len(j.past)-1]
			j.past = j.past[:len(j.past)-1]
			j.future = append(j.future, last)
		}
	case tr.Delta > 0:
		for i := 0; i < tr.Delta; i++ {
			next := j.future[len(j.future)-1]
			j.future = j.future[:len(j.future)-1]
			j.past = append(j.past, next)
		}
	}
	j.generation++
	return nil
}

// ViewEntry is one position of the joint history.
type ViewEntry struct {
	Seq      uint64                     `json:"seq"`
	Context  protocol.BrowsingContextID `json:"context"`
	Pipeline protocol.PipelineID        `json:"pipeline,omitempty"`
	URL      string                     `json:"url"`
	Title    string                     `json:"title,omitempty"`
}

// View is the joint history flattened for the embedder: the window's first
// reachable entry followed by one entry per step. Steps are kept in sequence
// order, so Entries is too; Current indexes the position the window is at.
type View struct {
	TopLevel protocol.BrowsingContextID `json:"top_level"`
	Entries  []ViewEntry                `json:"entries"`
	Current  int                        `json:"current"`
}

// View returns the flattened joint history.
func (j *Joint) View() View {
	v := View{TopLevel: j.topLevel}
	if root, ok := j.contexts[j.topLevel]; ok {
		v.Entries = append(v.Entries, viewEntry(root.entries[0]))
	}

	steps := make([]Step, 0, len(j.past)+len(j.future))
	steps = append(steps, j.past...)
	for i := len(j.future) - 1; i >= 0; i-- {
		steps = append(steps, j.future[i])
	}
	for _, st := range steps {
		log := j.contexts[st.Context]
		v.Entries = append(v.Entries, viewEntry(log.entries[st.To]))
	}
	v.Current = len(v.Entries) - 1 - len(j.future)
	if v.Current < 0 {
		v.Current = 0
	}
	return v
}

func viewEntry(e Entry) ViewEntry {
	return ViewEntry{Seq: e.Seq, Context: e.Context, Pipeline: e.Pipeline, URL: e.URL, Title: e.Title}
}
