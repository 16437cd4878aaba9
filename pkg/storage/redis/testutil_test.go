package redis

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// newTestStore starts an in-process Redis and returns a store bound to it.
func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), mr
}

// queueKeys lists the keys under the namespace of queue.
func queueKeys(mr *miniredis.Miniredis, queue string) []string {
	var out []string
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, DefaultPrefix+":"+queue+":") {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func addJob(t *testing.T, s *Store, queue, name string, opts core.JobOptions) *core.Job {
	t.Helper()
	job := &core.Job{Queue: queue, Name: name, Data: []byte(`{}`), Opts: opts}
	require.NoError(t, s.AddJobs(context.Background(), []*core.Job{job}))
	return job
}

// lease leases the next job of queue with a fixed token.
func lease(t *testing.T, s *Store, queue, token string) *core.Job {
	t.Helper()
	job, err := s.MoveToActive(context.Background(), queue, token, 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, job, "expected a job to lease")
	return job
}

// flowOf builds pre-order nodes for one parent with n children in childQueue.
func flowOf(parentQueue, childQueue string, n int) []core.FlowNode {
	nodes := []core.FlowNode{{
		Job:      &core.Job{Queue: parentQueue, Name: "parent"},
		Parent:   -1,
		Children: n,
	}}
	for i := 0; i < n; i++ {
		nodes = append(nodes, core.FlowNode{
			Job:    &core.Job{Queue: childQueue, Name: "child"},
			Parent: 0,
		})
	}
	return nodes
}
