package flow

import (
	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// FlowJob describes one job of a flow tree. A job with children runs only
// after every child completed.
type FlowJob struct {
	Name  string
	Queue string
	Data  any
	Opts  core.JobOptions

	Children []FlowJob
}

// Node is a stored job together with its children.
type Node struct {
	Job      *core.Job
	Children []*Node
}

// Walk calls fn for n and every descendant in pre-order.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Size returns the number of jobs in the tree.
func (n *Node) Size() int {
	count := 0
	n.Walk(func(*Node) { count++ })
	return count
}
