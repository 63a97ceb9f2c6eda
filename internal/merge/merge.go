package merge

import (
	"fmt"
	"strings"

	"github.com/rendis/relaysim/pkg/schema"
)

// Compute derives the merged result from the full item list. It is pure:
// content and tool calls keep arrival order; finish reason and usage come
// from the finish and usage items (the last one wins if several exist) and
// stay empty when absent.
func Compute(items []schema.Item) *schema.MergedResult {
	var content strings.Builder
	out := &schema.MergedResult{ToolCalls: make([]string, 0)}

	for _, it := range items {
		switch it.Kind {
		case schema.ItemContent:
			content.WriteString(it.Text)
		case schema.ItemToolCall:
			out.ToolCalls = append(out.ToolCalls, it.ToolName)
		case schema.ItemFinish:
			out.FinishReason = it.FinishReason
		case schema.ItemUsage:
			if it.Usage != nil {
				u := *it.Usage
				out.Usage = &u
			}
		}
	}
	out.Content = content.String()
	return out
}

// Summary renders a one-line description used in trace lines.
func Summary(m *schema.MergedResult) string {
	if m == nil {
		return "no merged result"
	}
	parts := []string{fmt.Sprintf("%d chars", len(m.Content))}
	if len(m.ToolCalls) > 0 {
		parts = append(parts, "tools="+strings.Join(m.ToolCalls, ","))
	}
	if m.FinishReason != "" {
		parts = append(parts, "finish="+m.FinishReason)
	}
	if m.Usage != nil {
		parts = append(parts, fmt.Sprintf("usage=%d/%d", m.Usage.Input, m.Usage.Output))
	}
	return strings.Join(parts, " ")
}
