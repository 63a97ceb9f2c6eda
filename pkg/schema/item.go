package schema

// ItemKind tags a simulated chunk. The set is closed.
type ItemKind string

const (
	ItemContent  ItemKind = "content"
	ItemToolCall ItemKind = "tool_call"
	ItemFinish   ItemKind = "finish"
	ItemUsage    ItemKind = "usage"
)

// Usage is an input/output token counter pair.
type Usage struct {
	Input  int `json:"input" yaml:"input"`
	Output int `json:"output" yaml:"output"`
}

// Item is one simulated streamed chunk. Only the payload fields that match
// Kind are populated:
//
//   - content:   Text
//   - tool_call: ToolName and ToolArgs
//   - finish:    FinishReason
//   - usage:     Usage
type Item struct {
	ID           string   `json:"id" yaml:"id,omitempty"`
	Kind         ItemKind `json:"kind" yaml:"kind"`
	Text         string   `json:"text,omitempty" yaml:"text,omitempty"`
	ToolName     string   `json:"tool_name,omitempty" yaml:"tool_name,omitempty"`
	ToolArgs     string   `json:"tool_args,omitempty" yaml:"tool_args,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty" yaml:"finish_reason,omitempty"`
	Usage        *Usage   `json:"usage,omitempty" yaml:"usage,omitempty"`
}

// Validate checks that the kind is known and its payload is present.
func (it Item) Validate() error {
	switch it.Kind {
	case ItemContent:
		return nil
	case ItemToolCall:
		if it.ToolName == "" {
			return NewErrorf(ErrCodeValidation, "item %q: tool_call requires tool_name", it.ID)
		}
	case ItemFinish:
		if it.FinishReason == "" {
			return NewErrorf(ErrCodeValidation, "item %q: finish requires finish_reason", it.ID)
		}
	case ItemUsage:
		if it.Usage == nil {
			return NewErrorf(ErrCodeValidation, "item %q: usage requires usage counters", it.ID)
		}
	default:
		return NewErrorf(ErrCodeValidation, "item %q: unknown kind %q", it.ID, it.Kind)
	}
	return nil
}

// Clone returns a copy that shares no pointers with it.
func (it Item) Clone() Item {
	if it.Usage != nil {
		u := *it.Usage
		it.Usage = &u
	}
	return it
}

// MergedResult is the single summary derived from all items once transport completes.
type MergedResult struct {
	Content      string   `json:"content"`
	ToolCalls    []string `json:"tool_calls"`
	FinishReason string   `json:"finish_reason,omitempty"`
	Usage        *Usage   `json:"usage,omitempty"`
}

// Clone returns a deep copy of m. A nil receiver yields nil.
func (m *MergedResult) Clone() *MergedResult {
	if m == nil {
		return nil
	}
	out := *m
	out.ToolCalls = make([]string, len(m.ToolCalls))
	copy(out.ToolCalls, m.ToolCalls)
	if m.Usage != nil {
		u := *m.Usage
		out.Usage = &u
	}
	return &out
}
