package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/jdziat/simple-flow-queue/pkg/core"
	"github.com/jdziat/simple-flow-queue/pkg/queue"
	"github.com/jdziat/simple-flow-queue/pkg/security"
)

// Producer adds flow trees and inspects them.
type Producer struct {
	storage core.Storage
	cfg     *config
	logger  *slog.Logger

	mu     sync.Mutex
	queues map[string]*queue.Queue
}

// NewProducer creates a flow producer on top of s.
func NewProducer(s core.Storage, opts ...Option) *Producer {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(cfg)
	}
	return &Producer{
		storage: s,
		cfg:     cfg,
		logger:  cfg.logger,
		queues:  make(map[string]*queue.Queue),
	}
}

// queueFor returns the producer-side queue used to build jobs of name.
func (p *Producer) queueFor(name string) (*queue.Queue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if q, ok := p.queues[name]; ok {
		return q, nil
	}
	q, err := queue.New(p.storage, name,
		queue.WithCodec(p.cfg.codec),
		queue.WithLogger(p.logger),
		queue.WithDefaultJobOptions(p.cfg.defaults[name]),
	)
	if err != nil {
		return nil, err
	}
	p.queues[name] = q
	return q, nil
}

// Add creates a whole tree atomically and returns it with ids filled in.
func (p *Producer) Add(ctx context.Context, f FlowJob) (*Node, error) {
	roots, err := p.AddBulk(ctx, []FlowJob{f})
	if err != nil {
		return nil, err
	}
	return roots[0], nil
}

// AddBulk creates several trees in one atomic operation.
func (p *Producer) AddBulk(ctx context.Context, flows []FlowJob) ([]*Node, error) {
	if len(flows) == 0 {
		return nil, nil
	}
	var nodes []core.FlowNode
	roots := make([]*Node, 0, len(flows))
	for _, f := range flows {
		root, err := p.flatten(f, -1, "", 1, &nodes)
		if err != nil {
			return nil, err
		}
		roots = append(roots, root)
	}
	if err := p.storage.AddFlow(ctx, nodes); err != nil {
		if errors.Is(err, core.ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("jobs: failed to add flow: %w", err)
	}
	p.logger.Debug("flow added", "roots", len(roots), "jobs", len(nodes))
	return roots, nil
}

// flatten appends f and its descendants to nodes in pre-order. Children
// without a queue inherit their parent's.
func (p *Producer) flatten(f FlowJob, parent int, parentQueue string, depth int, nodes *[]core.FlowNode) (*Node, error) {
	if depth > security.MaxFlowDepth {
		return nil, core.NewValidationError("flow", core.ErrFlowTooDeep)
	}
	if f.Opts.Repeat != nil {
		return nil, core.NewValidationError("repeat", fmt.Errorf("%w: repeatable jobs cannot be part of a flow", core.ErrInvalidRepeat))
	}
	if f.Queue == "" {
		f.Queue = parentQueue
	}
	q, err := p.queueFor(f.Queue)
	if err != nil {
		return nil, err
	}
	job, err := q.NewJob(f.Name, f.Data, f.Opts)
	if err != nil {
		return nil, err
	}

	index := len(*nodes)
	*nodes = append(*nodes, core.FlowNode{Job: job, Parent: parent, Children: len(f.Children)})
	node := &Node{Job: job}
	for _, child := range f.Children {
		c, err := p.flatten(child, index, f.Queue, depth+1, nodes)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, c)
	}
	return node, nil
}

// GetFlow loads the tree rooted at the job queue:id down to depth levels,
// security.MaxFlowDepth when depth is not positive. Children that were
// removed are left out. Returns nil when the root does not exist.
func (p *Producer) GetFlow(ctx context.Context, queueName, id string, depth int) (*Node, error) {
	if depth <= 0 {
		depth = security.MaxFlowDepth
	}
	job, err := p.storage.GetJob(ctx, queueName, id)
	if err != nil || job == nil {
		return nil, err
	}
	node := &Node{Job: job}
	if err := p.loadChildren(ctx, node, depth); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *Producer) loadChildren(ctx context.Context, node *Node, depth int) error {
	if depth == 0 || node.Job.ChildCount == 0 {
		return nil
	}
	deps, err := p.storage.GetDependencies(ctx, node.Job.Queue, node.Job.ID)
	if err != nil {
		return err
	}
	keys := append([]core.JobKey(nil), deps.Pending...)
	for k := range deps.Processed {
		keys = append(keys, k)
	}
	sortKeys(keys)

	for _, k := range keys {
		child, err := p.storage.GetJob(ctx, k.Queue, k.ID)
		if err != nil {
			return err
		}
		if child == nil {
			continue
		}
		c := &Node{Job: child}
		if err := p.loadChildren(ctx, c, depth-1); err != nil {
			return err
		}
		node.Children = append(node.Children, c)
	}
	return nil
}

// sortKeys orders keys by queue, then numeric ids by value before custom
// ids.
func sortKeys(keys []core.JobKey) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Queue != b.Queue {
			return a.Queue < b.Queue
		}
		an, aErr := strconv.ParseInt(a.ID, 10, 64)
		bn, bErr := strconv.ParseInt(b.ID, 10, 64)
		switch {
		case aErr == nil && bErr == nil:
			return an < bn
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		}
		return a.ID < b.ID
	})
}

// ChildrenValues returns the decoded return values of the completed
// children of queue:id.
func ChildrenValues[T any](ctx context.Context, s core.Storage, codec core.Codec, queueName, id string) (map[core.JobKey]T, error) {
	deps, err := s.GetDependencies(ctx, queueName, id)
	if err != nil {
		return nil, err
	}
	return DecodeValues[T](codec, deps.Processed)
}
