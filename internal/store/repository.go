package store

import (
	"context"
	"time"

	"github.com/rendis/agentgraph/pkg/schema"
)

// Repository loads and saves whole workflows, resolving agent references
// against the agent catalog on load.
type Repository struct {
	store Store
}

// NewRepository creates a Repository over s.
func NewRepository(s Store) *Repository {
	return &Repository{store: s}
}

// Load returns the workflow with every agent node's definition resolved.
// Nodes with an agent_ref always resolve against the catalog; an embedded
// definition is only used by nodes without a reference.
func (r *Repository) Load(ctx context.Context, workflowID string) (*schema.Workflow, error) {
	wf, err := r.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	cache := make(map[string]*schema.AgentDefinition)
	for _, n := range wf.Nodes {
		if n.Kind == "" {
			n.Kind = schema.NodeKindAgent
		}
		if n.Status == "" {
			n.Status = schema.NodeStatusIdle
		}
		if n.Kind != schema.NodeKindAgent || n.AgentRef == "" {
			continue
		}
		def, ok := cache[n.AgentRef]
		if !ok {
			def, err = r.store.GetAgent(ctx, n.AgentRef)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeGraphIntegrity,
					"node %q references unknown agent %q", n.ID, n.AgentRef).WithNode(n.ID).WithCause(err)
			}
			cache[n.AgentRef] = def
		}
		n.Agent = def
	}
	return wf, nil
}

// Save persists wf under workflowID and returns the stored view. Catalog
// definitions resolved by Load are not written back into the document.
func (r *Repository) Save(ctx context.Context, workflowID string, wf *schema.Workflow) (*schema.Workflow, error) {
	wf.ID = workflowID
	wf.UpdatedAt = time.Now().UTC()
	if err := r.store.SaveWorkflow(ctx, detachAgents(wf)); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "save workflow %q", workflowID).WithCause(err)
	}
	return wf, nil
}

// detachAgents returns a shallow copy of wf whose referencing nodes carry no
// resolved definition. wf itself is left untouched.
func detachAgents(wf *schema.Workflow) *schema.Workflow {
	cp := *wf
	cp.Nodes = make([]*schema.Node, len(wf.Nodes))
	for i, n := range wf.Nodes {
		if n.AgentRef == "" || n.Agent == nil {
			cp.Nodes[i] = n
			continue
		}
		nc := *n
		nc.Agent = nil
		cp.Nodes[i] = &nc
	}
	return &cp
}
