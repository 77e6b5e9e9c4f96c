package validation

import (
	"fmt"

	"github.com/rendis/agentgraph/internal/engine"
	"github.com/rendis/agentgraph/internal/graph"
	"github.com/rendis/agentgraph/pkg/schema"
)

// validateGraph checks structure (one main agent, edges between existing
// nodes) and then schedulability from the main agent: cycle-blocked nodes are
// errors unless allowCycles, unreachable agent nodes are warnings.
func validateGraph(wf *schema.Workflow, allowCycles bool) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	g := graph.New(wf)
	if err := g.Validate(wf); err != nil {
		appendIssues(result, err)
		return result
	}
	main, err := g.Main()
	if err != nil {
		appendIssues(result, err)
		return result
	}

	for i, e := range wf.Edges {
		if e.Source == e.Target {
			result.AddError(fmt.Sprintf("edges[%d]", i), schema.ErrCodeGraphIntegrity,
				fmt.Sprintf("edge %q is a self-loop on %q", e.ID, e.Source))
		}
		if e.Target == main.ID {
			result.AddWarning(fmt.Sprintf("edges[%d]", i), schema.ErrCodeGraphIntegrity,
				fmt.Sprintf("edge %q points at the main agent; the main agent always runs first", e.ID))
		}
	}

	sched := engine.Analyze(g, main.ID)
	if sched.HasCycle() {
		msg := fmt.Sprintf("nodes %v are blocked by a cycle", sched.Unscheduled)
		if allowCycles {
			result.AddWarning("edges", schema.ErrCodeGraphIntegrity, msg+" and will be skipped")
		} else {
			result.AddError("edges", schema.ErrCodeGraphIntegrity, msg)
		}
	}
	for _, id := range sched.Unreachable {
		if n := g.Node(id); n != nil && n.Kind == schema.NodeKindResult {
			continue
		}
		result.AddWarning("nodes", schema.ErrCodeGraphIntegrity,
			fmt.Sprintf("node %q is unreachable from the main agent %q and will not run", id, main.ID))
	}
	return result
}

// appendIssues copies the issues carried by a ValidationResult-derived error.
func appendIssues(result *schema.ValidationResult, err error) {
	agErr, ok := err.(*schema.AgentGraphError)
	if !ok {
		result.AddError("/", schema.ErrCodeGraphIntegrity, err.Error())
		return
	}
	if issues, ok := agErr.Details["errors"].([]schema.ValidationIssue); ok {
		result.Errors = append(result.Errors, issues...)
		return
	}
	result.AddError("/", agErr.Code, agErr.Message)
}
