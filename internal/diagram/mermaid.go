package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}
	for _, edge := range model.Edges {
		b.WriteString(fmt.Sprintf("    %s --> %s\n", mermaidSafeID(edge.From), mermaidSafeID(edge.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef error fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef processing fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	skipped := make(map[string]bool, len(model.Skipped))
	for _, id := range model.Skipped {
		skipped[id] = true
	}
	for _, node := range model.Nodes {
		cls := ""
		if node.Status != nil {
			cls = mermaidStatusClass(node.Status.Status)
		}
		if cls == "" && skipped[node.ID] {
			cls = "skipped"
		}
		if cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
		}
	}
	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the shape for its kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(firstLine(node.Label))

	switch node.Kind {
	case NodeKindMain:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindResult:
		return fmt.Sprintf("%s((%q))", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID replaces characters Mermaid does not accept in identifiers.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

func mermaidEscapeLabel(s string) string {
	return strings.ReplaceAll(s, `"`, "'")
}

func mermaidStatusClass(status string) string {
	switch status {
	case "completed", "error", "processing":
		return status
	default:
		return ""
	}
}
