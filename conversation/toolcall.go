package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolStatus tracks a tool call's lifecycle.
type ToolStatus string

const (
	StatusPending   ToolStatus = "pending"
	StatusCompleted ToolStatus = "completed"
)

// unknownToolName is used when a call arrives without a usable name, typically while it is
// still being streamed.
const unknownToolName = "unknown"

// ToolCall is a tool invocation derived from an AI message, annotated with its status and,
// once the matching tool message has been seen, its result.
type ToolCall struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args"`
	Result string         `json:"result,omitempty"`
	Status ToolStatus     `json:"status"`
}

type (
	// ToolCallSource is the tagged union of the three equivalent shapes an AI message can
	// use to carry tool-call requests. Implementations are ProviderToolCalls,
	// NormalizedToolCalls and ContentBlockToolCalls.
	ToolCallSource interface {
		isToolCallSource()
		// normalize converts the source into uniform pending tool calls. messageID seeds
		// identifiers for calls that arrived without one.
		normalize(messageID string) []ToolCall
	}

	// ProviderToolCalls is the provider-specific list found under additional_kwargs.
	ProviderToolCalls []ProviderCall

	// NormalizedToolCalls is the runtime's normalised tool_calls list.
	NormalizedToolCalls []NormalizedCall

	// ContentBlockToolCalls holds the tool_use blocks of a structured content array.
	ContentBlockToolCalls []ContentBlock
)

func (ProviderToolCalls) isToolCallSource()     {}
func (NormalizedToolCalls) isToolCallSource()   {}
func (ContentBlockToolCalls) isToolCallSource() {}

// ToolCallSource selects which shape carries this message's tool calls. The provider list
// takes precedence, then the normalised list, then tool_use content blocks. It returns nil
// when the message carries none.
func (m Message) ToolCallSource() ToolCallSource {
	switch {
	case len(m.AdditionalKwargs.ToolCalls) > 0:
		return ProviderToolCalls(m.AdditionalKwargs.ToolCalls)
	case len(m.ToolCalls) > 0:
		return NormalizedToolCalls(m.ToolCalls)
	case m.Content.Blocks != nil:
		var uses ContentBlockToolCalls
		for _, b := range m.Content.Blocks {
			if b.Type == "tool_use" {
				uses = append(uses, b)
			}
		}
		if len(uses) > 0 {
			return uses
		}
	}
	return nil
}

// NormalizeToolCalls returns the message's tool calls in uniform pending form.
func NormalizeToolCalls(m Message) []ToolCall {
	src := m.ToolCallSource()
	if src == nil {
		return nil
	}
	return src.normalize(m.ID)
}

func (p ProviderToolCalls) normalize(messageID string) []ToolCall {
	out := make([]ToolCall, 0, len(p))
	for i, c := range p {
		out = append(out, newToolCall(messageID, i, c.ID, c.Function.Name, decodeArguments(c.Function.Arguments)))
	}
	return out
}

func (n NormalizedToolCalls) normalize(messageID string) []ToolCall {
	out := make([]ToolCall, 0, len(n))
	for i, c := range n {
		// Empty names are placeholders emitted mid-stream by some providers.
		if c.Name == "" {
			continue
		}
		out = append(out, newToolCall(messageID, i, c.ID, c.Name, cloneArgs(c.Args)))
	}
	return out
}

func (b ContentBlockToolCalls) normalize(messageID string) []ToolCall {
	out := make([]ToolCall, 0, len(b))
	for i, c := range b {
		out = append(out, newToolCall(messageID, i, c.ID, c.Name, cloneArgs(c.Input)))
	}
	return out
}

func newToolCall(messageID string, index int, id, name string, args map[string]any) ToolCall {
	if id == "" {
		id = fmt.Sprintf("%s-tool-%d", messageID, index)
	}
	if strings.TrimSpace(name) == "" {
		name = unknownToolName
	}
	if args == nil {
		args = map[string]any{}
	}
	return ToolCall{ID: id, Name: name, Args: args, Status: StatusPending}
}

// decodeArguments parses a JSON-encoded argument object. Partial or non-object payloads
// degrade to empty arguments.
func decodeArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}
