package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

func countOf(t *testing.T, s *Store, queue string, state core.JobState) int64 {
	t.Helper()
	counts, err := s.GetJobCounts(context.Background(), queue, state)
	require.NoError(t, err)
	return counts[state]
}

func TestAddFlow_CreatesParentWaitingForChildren(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	nodes := flowOf("q", "q", 2)
	require.NoError(t, s.AddFlow(ctx, nodes))

	parent := nodes[0].Job
	assert.Equal(t, core.StateWaitingChildren, parent.State)
	assert.Equal(t, 2, parent.ChildCount)
	assert.Equal(t, parent.ID, nodes[1].Job.ParentID)
	assert.Equal(t, "q", nodes[1].Job.ParentQueue)

	deps, err := s.GetDependencies(ctx, "q", parent.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.JobKey{nodes[1].Job.Key(), nodes[2].Job.Key()}, deps.Pending)

	stored, err := s.GetJob(ctx, "q", parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.DependencyCount)
}

func TestAddFlow_DuplicateCustomIDRejected(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	addJob(t, s, "q", "x", core.JobOptions{JobID: "taken"})

	nodes := flowOf("q", "q", 1)
	nodes[1].Job.Opts.JobID = "taken"
	assert.ErrorIs(t, s.AddFlow(ctx, nodes), core.ErrDuplicateJob)
	assert.Equal(t, int64(0), countOf(t, s, "q", core.StateWaitingChildren))
}

func TestAddFlow_CustomIDRepeatedInFlowRejected(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	nodes := flowOf("q", "q", 2)
	nodes[1].Job.Opts.JobID = "step"
	nodes[2].Job.Opts.JobID = "step"
	assert.ErrorIs(t, s.AddFlow(ctx, nodes), core.ErrDuplicateJob)
	assert.Empty(t, queueKeys(mr, "q"), "nothing may be written")
}

func TestFlow_ChildrenCompleteParentWaits(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	nodes := flowOf("parents", "kids", 2)
	require.NoError(t, s.AddFlow(ctx, nodes))
	parent := nodes[0].Job

	first := lease(t, s, "kids", "a")
	require.NoError(t, s.MoveToCompleted(ctx, "kids", first.ID, "a", []byte(`"one"`)))

	st, err := s.GetJobState(ctx, "parents", parent.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateWaitingChildren, st, "one child still pending")

	second := lease(t, s, "kids", "b")
	require.NoError(t, s.MoveToCompleted(ctx, "kids", second.ID, "b", []byte(`"two"`)))

	st, err = s.GetJobState(ctx, "parents", parent.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateWaiting, st)

	deps, err := s.GetDependencies(ctx, "parents", parent.ID)
	require.NoError(t, err)
	assert.Empty(t, deps.Pending)
	assert.Equal(t, []byte(`"one"`), deps.Processed[first.Key()])
	assert.Equal(t, []byte(`"two"`), deps.Processed[second.Key()])

	leased := lease(t, s, "parents", "p")
	assert.Equal(t, parent.ID, leased.ID)
}

func TestFlow_ChildFailureFailsParent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	nodes := flowOf("q", "q", 3)
	require.NoError(t, s.AddFlow(ctx, nodes))
	parent := nodes[0].Job

	child := lease(t, s, "q", "tok")
	state, err := s.MoveToFailed(ctx, "q", child.ID, "tok", "boom", core.FailOptions{})
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, state)

	got, err := s.GetJob(ctx, "q", parent.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, got.State)
	assert.Equal(t, "child q:"+child.ID+" failed", got.FailedReason)

	// Siblings still run; resolving against a failed parent is a no-op.
	sibling := lease(t, s, "q", "tok2")
	require.NoError(t, s.MoveToCompleted(ctx, "q", sibling.ID, "tok2", nil))

	got, err = s.GetJob(ctx, "q", parent.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, got.State)
	assert.Equal(t, int64(2), countOf(t, s, "q", core.StateFailed))
}

func TestFlow_SingleChildFailureRemovesParent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	nodes := flowOf("q", "q", 1)
	require.NoError(t, s.AddFlow(ctx, nodes))
	parent := nodes[0].Job

	child := lease(t, s, "q", "tok")
	_, err := s.MoveToFailed(ctx, "q", child.ID, "tok", "boom", core.FailOptions{})
	require.NoError(t, err)

	got, err := s.GetJob(ctx, "q", parent.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	st, err := s.GetJobState(ctx, "q", parent.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateRemoved, st)
}

func TestFlow_FailurePropagatesToGrandparent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	nodes := []core.FlowNode{
		{Job: &core.Job{Queue: "q", Name: "root"}, Parent: -1, Children: 2},
		{Job: &core.Job{Queue: "q", Name: "mid"}, Parent: 0, Children: 2},
		{Job: &core.Job{Queue: "q", Name: "leaf"}, Parent: 1},
		{Job: &core.Job{Queue: "q", Name: "leaf"}, Parent: 1},
		{Job: &core.Job{Queue: "q", Name: "side"}, Parent: 0},
	}
	require.NoError(t, s.AddFlow(ctx, nodes))

	leaf := lease(t, s, "q", "tok")
	assert.Equal(t, "leaf", leaf.Name)
	_, err := s.MoveToFailed(ctx, "q", leaf.ID, "tok", "boom", core.FailOptions{})
	require.NoError(t, err)

	for _, n := range nodes[:2] {
		st, err := s.GetJobState(ctx, "q", n.Job.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StateFailed, st, n.Job.Name)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Drain with flows
// ──────────────────────────────────────────────────────────────────────────────

func TestDrain_FlowSameQueueManyChildren(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	nodes := flowOf("q", "q", 3)
	require.NoError(t, s.AddFlow(ctx, nodes))

	counts, err := s.GetJobCounts(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts.Total())

	require.NoError(t, s.Drain(ctx, "q", false))

	keys := queueKeys(mr, "q")
	assert.Len(t, keys, 4, "keys left: %v", keys)
	assert.Contains(t, keys, "flowq:q:"+nodes[0].Job.ID)
	assert.Contains(t, keys, "flowq:q:failed")

	counts, err = s.GetJobCounts(ctx, "q", core.StateWaiting, core.StatePaused, core.StateDelayed,
		core.StatePrioritized, core.StateWaitingChildren)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Total())
	assert.Equal(t, int64(1), countOf(t, s, "q", core.StateFailed))
}

func TestDrain_FlowSameQueueSingleChild(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	nodes := flowOf("q", "q", 1)
	require.NoError(t, s.AddFlow(ctx, nodes))
	require.NoError(t, s.Drain(ctx, "q", false))

	keys := queueKeys(mr, "q")
	assert.Len(t, keys, 3, "keys left: %v", keys)
	assert.Equal(t, int64(0), countOf(t, s, "q", core.StateFailed))

	st, err := s.GetJobState(ctx, "q", nodes[0].Job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateRemoved, st)
}

func TestDrain_FlowParentInOtherQueue(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	nodes := flowOf("parents", "kids", 3)
	require.NoError(t, s.AddFlow(ctx, nodes))
	require.NoError(t, s.Drain(ctx, "kids", false))

	assert.Equal(t, int64(1), countOf(t, s, "parents", core.StateWaiting))
	assert.Equal(t, int64(0), countOf(t, s, "kids", core.StateFailed))
}

func TestDrain_FlowParentInOtherQueueSingleChild(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	nodes := flowOf("parents", "kids", 1)
	require.NoError(t, s.AddFlow(ctx, nodes))
	require.NoError(t, s.Drain(ctx, "kids", false))

	st, err := s.GetJobState(ctx, "parents", nodes[0].Job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateWaiting, st)
}
