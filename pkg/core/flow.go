package core

// FlowNode is one job of a flow tree. Nodes are passed to the store in
// pre-order: Parent indexes an earlier node of the same slice, or is -1 for
// the root.
type FlowNode struct {
	Job      *Job
	Parent   int
	Children int
}

// Dependencies describes the children of a parent job.
type Dependencies struct {
	// Pending lists children that have not resolved yet.
	Pending []JobKey
	// Processed maps a completed child to its encoded return value.
	Processed map[JobKey][]byte
}
