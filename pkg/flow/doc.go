// Package flow adds and inspects trees of dependent jobs.
//
// A parent job waits in the waiting-children state until all of its
// children completed; children may live in other queues. When a child fails
// for good the parent fails too, or is deleted outright when it had a
// single child. The resolution runs inside the child's own transition in
// the store, so no worker or scheduler has to watch flows.
//
// Example:
//
//	p := flow.NewProducer(store)
//	root, err := p.Add(ctx, flow.FlowJob{
//	    Name:  "render",
//	    Queue: "videos",
//	    Children: []flow.FlowJob{
//	        {Name: "transcode", Queue: "media", Data: "720p"},
//	        {Name: "transcode", Queue: "media", Data: "1080p"},
//	    },
//	})
package flow
