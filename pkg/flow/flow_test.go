package flow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-flow-queue/pkg/core"
	"github.com/jdziat/simple-flow-queue/pkg/queue"
	"github.com/jdziat/simple-flow-queue/pkg/security"
	"github.com/jdziat/simple-flow-queue/pkg/storage/redis"
)

type fixture struct {
	mr       *miniredis.Miniredis
	store    *redis.Store
	producer *Producer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := redis.New(client)
	return &fixture{mr: mr, store: store, producer: NewProducer(store, opts...)}
}

func (f *fixture) queue(t *testing.T, name string) *queue.Queue {
	t.Helper()
	q, err := queue.New(f.store, name)
	require.NoError(t, err)
	return q
}

func (f *fixture) keys(queueName string) []string {
	var out []string
	for _, k := range f.mr.Keys() {
		if strings.HasPrefix(k, redis.DefaultPrefix+":"+queueName+":") {
			out = append(out, k)
		}
	}
	return out
}

func parentWith(queueName, childQueue string, n int) FlowJob {
	f := FlowJob{Name: "parent", Queue: queueName, Data: map[string]string{"foo": "bar"}}
	for i := 0; i < n; i++ {
		f.Children = append(f.Children, FlowJob{Name: "child", Queue: childQueue, Data: map[string]int{"idx": i}})
	}
	return f
}

func TestProducer_Add(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	root, err := fx.producer.Add(ctx, parentWith("parents", "kids", 2))
	require.NoError(t, err)

	assert.Equal(t, 3, root.Size())
	assert.Equal(t, core.StateWaitingChildren, root.Job.State)
	for _, c := range root.Children {
		assert.Equal(t, core.StateWaiting, c.Job.State)
		assert.Equal(t, root.Job.ID, c.Job.ParentID)
		assert.Equal(t, "parents", c.Job.ParentQueue)
	}
}

func TestProducer_ChildInheritsQueue(t *testing.T) {
	fx := newFixture(t)

	root, err := fx.producer.Add(context.Background(), FlowJob{
		Name:     "parent",
		Queue:    "q",
		Children: []FlowJob{{Name: "child"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "q", root.Children[0].Job.Queue)
}

func TestProducer_AddBulk(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	roots, err := fx.producer.AddBulk(ctx, []FlowJob{
		parentWith("q", "q", 1),
		parentWith("q", "q", 2),
	})
	require.NoError(t, err)
	require.Len(t, roots, 2)

	n, err := fx.queue(t, "q").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestProducer_Add_Validation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.producer.Add(ctx, FlowJob{Name: "bad name", Queue: "q"})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = fx.producer.Add(ctx, FlowJob{Name: "p", Queue: "q", Opts: core.JobOptions{Repeat: &core.Repeat{Pattern: "* * * * *"}}})
	assert.ErrorIs(t, err, core.ErrInvalidRepeat)

	deep := FlowJob{Name: "leaf", Queue: "q"}
	for i := 0; i < security.MaxFlowDepth; i++ {
		deep = FlowJob{Name: "node", Queue: "q", Children: []FlowJob{deep}}
	}
	_, err = fx.producer.Add(ctx, deep)
	assert.ErrorIs(t, err, core.ErrFlowTooDeep)

	assert.Empty(t, fx.keys("q"))
}

func TestProducer_QueueDefaults(t *testing.T) {
	fx := newFixture(t, WithQueueDefaults("kids", core.JobOptions{Attempts: 4}))

	root, err := fx.producer.Add(context.Background(), parentWith("parents", "kids", 1))
	require.NoError(t, err)
	assert.Equal(t, 0, root.Job.Opts.Attempts)
	assert.Equal(t, 4, root.Children[0].Job.Opts.Attempts)
}

func TestProducer_GetFlow(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	added, err := fx.producer.Add(ctx, FlowJob{
		Name:  "root",
		Queue: "q",
		Children: []FlowJob{
			{Name: "mid", Children: []FlowJob{{Name: "leaf"}}},
			{Name: "side", Queue: "other"},
		},
	})
	require.NoError(t, err)

	tree, err := fx.producer.GetFlow(ctx, "q", added.Job.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, tree)
	assert.Equal(t, 4, tree.Size())
	require.Len(t, tree.Children, 2)
	assert.Equal(t, "other", tree.Children[0].Job.Queue)
	assert.Equal(t, "mid", tree.Children[1].Job.Name)
	assert.Equal(t, "leaf", tree.Children[1].Children[0].Job.Name)

	shallow, err := fx.producer.GetFlow(ctx, "q", added.Job.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, shallow.Size())

	missing, err := fx.producer.GetFlow(ctx, "q", "nope", 0)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestChildrenValues(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	root, err := fx.producer.Add(ctx, parentWith("parents", "kids", 2))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		job, err := fx.store.MoveToActive(ctx, "kids", "tok", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, job)
		require.NoError(t, fx.store.MoveToCompleted(ctx, "kids", job.ID, "tok", []byte(`{"n":`+job.ID+`}`)))
	}

	values, err := ChildrenValues[map[string]int](ctx, fx.store, core.JSONCodec{}, "parents", root.Job.ID)
	require.NoError(t, err)
	ordered := Values(values, Keys(root))
	require.Len(t, ordered, 2)
	assert.Equal(t, 1, ordered[0]["n"])
	assert.Equal(t, 2, ordered[1]["n"])

	state, err := fx.store.GetJobState(ctx, "parents", root.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateWaiting, state)
}

// ──────────────────────────────────────────────────────────────────────────────
// Drain
// ──────────────────────────────────────────────────────────────────────────────

func TestDrain_ParentWithManyChildrenSameQueue(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	q := fx.queue(t, "q")

	_, err := fx.producer.Add(ctx, parentWith("q", "q", 3))
	require.NoError(t, err)

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	require.NoError(t, q.Drain(ctx, false))

	assert.Len(t, fx.keys("q"), 4)
	n, err = q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	failed, err := q.GetJobCountByTypes(ctx, core.StateFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed)
}

func TestDrain_ParentWithOneChildSameQueue(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	q := fx.queue(t, "q")

	_, err := fx.producer.Add(ctx, parentWith("q", "q", 1))
	require.NoError(t, err)

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, q.Drain(ctx, false))

	assert.Len(t, fx.keys("q"), 3)
	n, err = q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	failed, err := q.GetJobCountByTypes(ctx, core.StateFailed)
	require.NoError(t, err)
	assert.Zero(t, failed)
}

func TestDrain_ParentInOtherQueue(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	parents := fx.queue(t, "parents")
	kids := fx.queue(t, "kids")

	_, err := fx.producer.Add(ctx, parentWith("parents", "kids", 3))
	require.NoError(t, err)

	require.NoError(t, kids.Drain(ctx, false))

	waiting, err := parents.GetJobCountByTypes(ctx, core.StateWaiting)
	require.NoError(t, err)
	assert.Equal(t, int64(1), waiting)
	failed, err := kids.GetJobCountByTypes(ctx, core.StateFailed)
	require.NoError(t, err)
	assert.Zero(t, failed)
}
