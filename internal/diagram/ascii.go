package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// statusTag returns a short ASCII indicator for a node status.
func statusTag(status string) string {
	switch status {
	case "completed":
		return "[OK]"
	case "error":
		return "[FAIL]"
	case "processing":
		return "[RUN]"
	case "skipped":
		return "[SKIP]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a level-based box diagram.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			if node := model.Node(nodeID); node != nil {
				boxes = append(boxes, makeBox(node))
			}
		}
		renderBoxRow(&b, boxes)
		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	if len(model.Skipped) > 0 {
		b.WriteString("\n--- not scheduled ---\n")
		for _, id := range model.Skipped {
			label := id
			if node := model.Node(id); node != nil {
				label = firstLine(node.Label)
			}
			b.WriteString(fmt.Sprintf("  %s %s\n", label, statusTag("skipped")))
		}
	}
	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	contentLines := []string{firstLine(node.Label)}
	if node.Category != "" {
		contentLines = append(contentLines, node.Category)
	}
	if node.Status != nil {
		if tag := statusTag(node.Status.Status); tag != "" {
			contentLines = append(contentLines, tag)
		}
		if node.Status.DurationMs > 0 {
			contentLines = append(contentLines, fmt.Sprintf("%dms", node.Status.DurationMs))
		}
	}

	maxLen := 0
	for _, line := range contentLines {
		if n := utf8.RuneCountInString(line); n > maxLen {
			maxLen = n
		}
	}
	width := maxLen + 4

	lines := []string{"┌" + strings.Repeat("─", width-2) + "┐"}
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-utf8.RuneCountInString(content))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")
	return asciiBox{lines: lines, width: width}
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	maxHeight := 0
	for _, box := range boxes {
		if len(box.lines) > maxHeight {
			maxHeight = len(box.lines)
		}
	}
	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}
