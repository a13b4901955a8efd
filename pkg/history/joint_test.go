package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/constellation/pkg/protocol"
)

const (
	c0 protocol.BrowsingContextID = 1
	c1 protocol.BrowsingContextID = 2
	c2 protocol.BrowsingContextID = 3
)

func urls(v View) []string {
	out := make([]string, 0, len(v.Entries))
	for _, e := range v.Entries {
		out = append(out, e.URL)
	}
	return out
}

func mustAdd(t *testing.T, j *Joint, ctx protocol.BrowsingContextID, url string) Entry {
	t.Helper()
	e, err := j.AddContext(ctx, Entry{URL: url})
	require.NoError(t, err)
	return e
}

func mustPush(t *testing.T, j *Joint, ctx protocol.BrowsingContextID, url string) Entry {
	t.Helper()
	e, err := j.Push(ctx, Entry{URL: url})
	require.NoError(t, err)
	return e
}

func mustTraverse(t *testing.T, j *Joint, delta int) Traversal {
	t.Helper()
	tr, err := j.Plan(delta)
	require.NoError(t, err)
	require.NoError(t, j.Commit(tr))
	return tr
}

func TestJoint_BackAndForwardScenario(t *testing.T) {
	j := NewJoint(c0, &Sequencer{}, 0)

	mustAdd(t, j, c0, "a.test")
	v := j.View()
	assert.Equal(t, []string{"a.test"}, urls(v))
	assert.Equal(t, 0, v.Current)

	mustPush(t, j, c0, "b.test")
	v = j.View()
	assert.Equal(t, []string{"a.test", "b.test"}, urls(v))
	assert.Equal(t, 1, v.Current)

	tr := mustTraverse(t, j, -1)
	require.Len(t, tr.Changes, 1)
	assert.Equal(t, "a.test", tr.Changes[0].Entry.URL)

	v = j.View()
	assert.Equal(t, []string{"a.test", "b.test"}, urls(v))
	assert.Equal(t, 0, v.Current)
	cur, _ := j.Current(c0)
	assert.Equal(t, "a.test", cur.URL)

	mustTraverse(t, j, 1)
	cur, _ = j.Current(c0)
	assert.Equal(t, "b.test", cur.URL)
	assert.Equal(t, 1, j.View().Current)
}

func TestJoint_OutOfRangeChangesNothing(t *testing.T) {
	j := NewJoint(c0, &Sequencer{}, 0)
	mustAdd(t, j, c0, "a.test")
	mustPush(t, j, c0, "b.test")
	before := j.View()

	_, err := j.Plan(-2)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = j.Plan(1)
	assert.ErrorIs(t, err, ErrOutOfRange)

	assert.Equal(t, before, j.View())
}

func TestJoint_NestedFramesMoveAsOneStep(t *testing.T) {
	j := NewJoint(c0, &Sequencer{}, 0)
	mustAdd(t, j, c0, "top1")
	mustAdd(t, j, c1, "left1")
	mustAdd(t, j, c2, "right1")

	mustPush(t, j, c1, "left2")
	mustPush(t, j, c2, "right2")
	mustPush(t, j, c1, "left3")

	back, fwd := j.CanGo()
	assert.Equal(t, 3, back)
	assert.Equal(t, 0, fwd)

	// Two steps back undoes left3 and right2: both frames change together.
	tr, err := j.Plan(-2)
	require.NoError(t, err)
	require.Len(t, tr.Changes, 2)
	assert.Equal(t, c1, tr.Changes[0].Context)
	assert.Equal(t, "left2", tr.Changes[0].Entry.URL)
	assert.Equal(t, c2, tr.Changes[1].Context)
	assert.Equal(t, "right1", tr.Changes[1].Entry.URL)

	require.NoError(t, j.Commit(tr))
	left, _ := j.Current(c1)
	right, _ := j.Current(c2)
	top, _ := j.Current(c0)
	assert.Equal(t, "left2", left.URL)
	assert.Equal(t, "right1", right.URL)
	assert.Equal(t, "top1", top.URL)

	// Three back from the start would overshoot.
	_, err = j.Plan(-2)
	assert.ErrorIs(t, err, ErrOutOfRange)

	tr = mustTraverse(t, j, -1)
	require.Len(t, tr.Changes, 1)
	assert.Equal(t, "left1", tr.Changes[0].Entry.URL)

	tr = mustTraverse(t, j, 3)
	require.Len(t, tr.Changes, 2)
	left, _ = j.Current(c1)
	right, _ = j.Current(c2)
	assert.Equal(t, "left3", left.URL)
	assert.Equal(t, "right2", right.URL)
}

func TestJoint_PushClearsForwardHistoryOfEveryContext(t *testing.T) {
	j := NewJoint(c0, &Sequencer{}, 0)
	mustAdd(t, j, c0, "top1")
	mustAdd(t, j, c1, "frame1")
	mustPush(t, j, c1, "frame2")
	mustPush(t, j, c0, "top2")

	mustTraverse(t, j, -2)
	_, fwd := j.CanGo()
	assert.Equal(t, 2, fwd)

	mustPush(t, j, c0, "top3")
	back, fwd := j.CanGo()
	assert.Equal(t, 1, back)
	assert.Equal(t, 0, fwd)

	frameEntries, cur := j.Entries(c1)
	assert.Len(t, frameEntries, 1)
	assert.Equal(t, 0, cur)
	assert.Equal(t, []string{"top1", "top3"}, urls(j.View()))
}

func TestJoint_ReplaceKeepsSequenceAndAddsNoStep(t *testing.T) {
	j := NewJoint(c0, &Sequencer{}, 0)
	mustAdd(t, j, c0, "a.test")
	b := mustPush(t, j, c0, "b.test")

	r, err := j.Replace(c0, Entry{URL: "b2.test", Pipeline: 9})
	require.NoError(t, err)
	assert.Equal(t, b.Seq, r.Seq)

	v := j.View()
	assert.Equal(t, []string{"a.test", "b2.test"}, urls(v))
	assert.Equal(t, protocol.PipelineID(9), v.Entries[1].Pipeline)
	back, _ := j.CanGo()
	assert.Equal(t, 1, back)
}

func TestJoint_SequenceNumbersAreUnique(t *testing.T) {
	seq := &Sequencer{}
	a := NewJoint(c0, seq, 0)
	b := NewJoint(c2, seq, 0)

	seen := map[uint64]bool{}
	record := func(e Entry) {
		require.False(t, seen[e.Seq], "sequence %d reused", e.Seq)
		seen[e.Seq] = true
	}
	record(mustAdd(t, a, c0, "a"))
	record(mustAdd(t, b, c2, "b"))
	for i := 0; i < 10; i++ {
		record(mustPush(t, a, c0, "a"))
		record(mustPush(t, b, c2, "b"))
	}
}

func TestJoint_PruneLeavesHoles(t *testing.T) {
	j := NewJoint(c0, &Sequencer{}, 0)
	mustAdd(t, j, c0, "top1")
	mustAdd(t, j, c1, "child1")
	s1 := mustPush(t, j, c0, "top2")
	mustPush(t, j, c1, "child2")
	s3 := mustPush(t, j, c0, "top3")

	j.Prune(c1)
	assert.False(t, j.Has(c1))
	assert.Equal(t, []protocol.BrowsingContextID{c0}, j.Contexts())

	v := j.View()
	require.Len(t, v.Entries, 3)
	assert.Equal(t, s1.Seq, v.Entries[1].Seq)
	assert.Equal(t, s3.Seq, v.Entries[2].Seq)
	assert.Equal(t, s1.Seq+2, s3.Seq, "surviving steps keep their original numbers")

	tr := mustTraverse(t, j, -1)
	assert.Equal(t, "top2", tr.Changes[0].Entry.URL)
}

func TestJoint_StalePlanRejected(t *testing.T) {
	j := NewJoint(c0, &Sequencer{}, 0)
	mustAdd(t, j, c0, "a")
	mustAdd(t, j, c1, "x")
	mustPush(t, j, c0, "b")

	tr, err := j.Plan(-1)
	require.NoError(t, err)

	mustPush(t, j, c1, "y")
	assert.ErrorIs(t, j.Commit(tr), ErrStalePlan)
	cur, _ := j.Current(c0)
	assert.Equal(t, "b", cur.URL)
}

func TestJoint_CommitRebindsPipelines(t *testing.T) {
	j := NewJoint(c0, &Sequencer{}, 0)
	mustAdd(t, j, c0, "a")
	mustPush(t, j, c0, "b")

	tr, err := j.Plan(-1)
	require.NoError(t, err)
	tr.Changes[0].Pipeline = 77
	require.NoError(t, j.Commit(tr))

	cur, _ := j.Current(c0)
	assert.Equal(t, protocol.PipelineID(77), cur.Pipeline)

	require.NoError(t, j.SetPipeline(c0, 1, 78))
	entries, _ := j.Entries(c0)
	assert.Equal(t, protocol.PipelineID(78), entries[1].Pipeline)
	assert.ErrorIs(t, j.SetPipeline(c0, 5, 1), ErrOutOfRange)
}

func TestJoint_EvictsOldestStepWhenBounded(t *testing.T) {
	j := NewJoint(c0, &Sequencer{}, 3)
	mustAdd(t, j, c0, "p1")
	mustPush(t, j, c0, "p2")
	mustPush(t, j, c0, "p3")
	mustPush(t, j, c0, "p4")
	mustPush(t, j, c0, "p5")

	assert.Equal(t, 3, j.Len())
	v := j.View()
	assert.Equal(t, []string{"p3", "p4", "p5"}, urls(v))
	assert.Equal(t, 2, v.Current)

	back, _ := j.CanGo()
	assert.Equal(t, 2, back)
	tr := mustTraverse(t, j, -2)
	assert.Equal(t, "p3", tr.Changes[0].Entry.URL)

	_, err := j.Plan(-1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestJoint_SetTitle(t *testing.T) {
	j := NewJoint(c0, &Sequencer{}, 0)
	_, err := j.AddContext(c0, Entry{URL: "a", Pipeline: 4})
	require.NoError(t, err)

	assert.True(t, j.SetTitle(c0, 4, "A"))
	assert.False(t, j.SetTitle(c0, 4, "A"))
	assert.False(t, j.SetTitle(c1, 4, "A"))
	assert.Equal(t, "A", j.View().Entries[0].Title)
}

func TestJoint_UnknownContext(t *testing.T) {
	j := NewJoint(c0, nil, 0)
	_, err := j.Push(c1, Entry{})
	assert.ErrorIs(t, err, ErrUnknownContext)
	_, err = j.Replace(c1, Entry{})
	assert.ErrorIs(t, err, ErrUnknownContext)

	mustAdd(t, j, c0, "a")
	_, err = j.AddContext(c0, Entry{})
	assert.ErrorIs(t, err, ErrDuplicateContext)

	tr, err := j.Plan(0)
	require.NoError(t, err)
	assert.True(t, tr.Empty())
}
