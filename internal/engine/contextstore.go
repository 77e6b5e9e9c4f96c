package engine

import "maps"

// ReservedNodesKey holds the per-node output record inside a context snapshot.
const ReservedNodesKey = "__nodes"

// ContextStore accumulates the outputs produced during one run. Output names are
// merged flat, last write wins; each node's full output map is also kept under
// ReservedNodesKey. Keys are never removed.
//
// A ContextStore has a single writer, the coordinator driving the run.
type ContextStore struct {
	flat  map[string]any
	nodes map[string]map[string]any
	order []string
}

// NewContextStore creates a store seeded with initial values.
func NewContextStore(initial map[string]any) *ContextStore {
	cs := &ContextStore{
		flat:  make(map[string]any, len(initial)),
		nodes: make(map[string]map[string]any),
	}
	for k, v := range initial {
		if k == ReservedNodesKey {
			continue
		}
		cs.flat[k] = v
	}
	return cs
}

// Merge records outputs produced by nodeID.
func (cs *ContextStore) Merge(nodeID string, outputs map[string]any) {
	if _, ok := cs.nodes[nodeID]; !ok {
		cs.order = append(cs.order, nodeID)
		cs.nodes[nodeID] = make(map[string]any, len(outputs))
	}
	for k, v := range outputs {
		if k == ReservedNodesKey {
			continue
		}
		cs.flat[k] = v
		cs.nodes[nodeID][k] = v
	}
}

// Snapshot returns a copy of the flat context with the per-node record under ReservedNodesKey.
func (cs *ContextStore) Snapshot() map[string]any {
	out := maps.Clone(cs.flat)
	if out == nil {
		out = make(map[string]any)
	}
	if len(cs.nodes) > 0 {
		record := make(map[string]any, len(cs.nodes))
		for id, outputs := range cs.nodes {
			record[id] = maps.Clone(outputs)
		}
		out[ReservedNodesKey] = record
	}
	return out
}

// NodeOutputs returns a copy of the outputs merged for nodeID, or nil.
func (cs *ContextStore) NodeOutputs(nodeID string) map[string]any {
	outputs, ok := cs.nodes[nodeID]
	if !ok {
		return nil
	}
	return maps.Clone(outputs)
}

// Contributors returns the IDs of nodes that merged outputs, in merge order.
func (cs *ContextStore) Contributors() []string {
	return append([]string(nil), cs.order...)
}
