package flow

import (
	"fmt"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// DecodeValues decodes every processed child value with codec.
func DecodeValues[T any](codec core.Codec, processed map[core.JobKey][]byte) (map[core.JobKey]T, error) {
	out := make(map[core.JobKey]T, len(processed))
	for k, raw := range processed {
		var v T
		if len(raw) > 0 {
			if err := codec.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("jobs: decode value of child %s: %w", k, err)
			}
		}
		out[k] = v
	}
	return out, nil
}

// Values returns the decoded values ordered like keys. Keys without a value
// are skipped.
func Values[T any](values map[core.JobKey]T, keys []core.JobKey) []T {
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		if v, ok := values[k]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Keys returns the keys of the direct children of n, in tree order.
func Keys(n *Node) []core.JobKey {
	keys := make([]core.JobKey, 0, len(n.Children))
	for _, c := range n.Children {
		keys = append(keys, c.Job.Key())
	}
	return keys
}
