/*
Package conversation turns the agent runtime's event log into what the console renders.

The agent runtime streams an append-only list of messages for each thread: human turns, AI turns
that may request tool calls, and tool results linked back to a call identifier. This package
holds the wire model for those messages and the reconciler that folds them into ordered turns,
each carrying its tool calls with live status and, once available, their results.

Everything here is a pure function of its input. Callers may re-run reconciliation on every
streamed update without coordination.
*/
package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MessageType is the raw discriminator the runtime puts in a message's "type" field.
type MessageType string

const (
	TypeHuman  MessageType = "human"
	TypeAI     MessageType = "ai"
	TypeTool   MessageType = "tool"
	TypeSystem MessageType = "system"
)

// Kind is the normalised message kind the reconciler dispatches on.
type Kind int

const (
	KindUnknown Kind = iota
	KindHuman
	KindAI
	KindTool
)

// Message is one event in a thread's message log, in the LangChain serialisation the
// runtime emits.
type Message struct {
	ID               string           `json:"id"`
	Type             MessageType      `json:"type"`
	Content          Content          `json:"content"`
	Name             string           `json:"name,omitempty"`
	ToolCalls        []NormalizedCall `json:"tool_calls,omitempty"`
	AdditionalKwargs AdditionalKwargs `json:"additional_kwargs,omitempty"`
	ToolCallID       string           `json:"tool_call_id,omitempty"`
}

// AdditionalKwargs carries provider-specific extras. Only tool calls are interpreted.
type AdditionalKwargs struct {
	ToolCalls []ProviderCall `json:"tool_calls,omitempty"`
}

// ProviderCall is the OpenAI-style function call shape, arguments JSON-encoded.
type ProviderCall struct {
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ProviderFunction `json:"function"`
}

type ProviderFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// NormalizedCall is LangChain's normalised tool call.
type NormalizedCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
	Type string         `json:"type,omitempty"`
}

// ContentBlock is one element of a structured message content array.
type ContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

// Content is a message body: plain text, a list of content blocks, or some other JSON value
// kept verbatim.
type Content struct {
	Text   string
	Blocks []ContentBlock
	Raw    json.RawMessage
}

// TextContent builds plain text content.
func TextContent(text string) Content {
	return Content{Text: text}
}

// BlockContent builds structured content.
func BlockContent(blocks ...ContentBlock) Content {
	return Content{Blocks: blocks}
}

// UnmarshalJSON accepts a string, an array of blocks or any other value.
func (c *Content) UnmarshalJSON(data []byte) error {
	*c = Content{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	switch trimmed[0] {
	case '"':
		return json.Unmarshal(trimmed, &c.Text)
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("decode content blocks: %w", err)
		}
		c.Blocks = make([]ContentBlock, 0, len(items))
		for _, item := range items {
			// Bare strings inside the array are text fragments.
			var s string
			if err := json.Unmarshal(item, &s); err == nil {
				c.Blocks = append(c.Blocks, ContentBlock{Type: "text", Text: s})
				continue
			}
			var block ContentBlock
			if err := json.Unmarshal(item, &block); err != nil {
				// Unknown block layouts are skipped rather than failing the whole message.
				continue
			}
			c.Blocks = append(c.Blocks, block)
		}
		return nil
	default:
		c.Raw = append(json.RawMessage(nil), trimmed...)
		return nil
	}
}

// MarshalJSON writes the content back in the shape it arrived in.
func (c Content) MarshalJSON() ([]byte, error) {
	switch {
	case c.Blocks != nil:
		return json.Marshal(c.Blocks)
	case len(c.Raw) > 0:
		return c.Raw, nil
	default:
		return json.Marshal(c.Text)
	}
}

// ExtractText flattens content into display text. Text blocks are concatenated; values that
// are neither text nor blocks are rendered as their JSON encoding.
func (c Content) ExtractText() string {
	switch {
	case c.Blocks != nil:
		var buf bytes.Buffer
		for _, b := range c.Blocks {
			if b.Type == "text" || b.Type == "" {
				buf.WriteString(b.Text)
			}
		}
		return buf.String()
	case len(c.Raw) > 0:
		return string(c.Raw)
	default:
		return c.Text
	}
}

// Kind normalises the type aliases different runtimes and streaming modes use.
func (m Message) Kind() Kind {
	switch m.Type {
	case TypeHuman, "user", "HumanMessage", "HumanMessageChunk":
		return KindHuman
	case TypeAI, "assistant", "AIMessage", "AIMessageChunk":
		return KindAI
	case TypeTool, "ToolMessage", "ToolMessageChunk":
		return KindTool
	default:
		return KindUnknown
	}
}

// Clone returns a deep copy of msgs so callers can hand them across goroutines.
func Clone(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = cloneMessage(m)
	}
	return out
}

func cloneMessage(m Message) Message {
	out := m
	if m.Content.Blocks != nil {
		out.Content.Blocks = make([]ContentBlock, len(m.Content.Blocks))
		for i, b := range m.Content.Blocks {
			b.Input = cloneArgs(b.Input)
			out.Content.Blocks[i] = b
		}
	}
	if m.Content.Raw != nil {
		out.Content.Raw = append(json.RawMessage(nil), m.Content.Raw...)
	}
	if m.ToolCalls != nil {
		out.ToolCalls = make([]NormalizedCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			tc.Args = cloneArgs(tc.Args)
			out.ToolCalls[i] = tc
		}
	}
	if m.AdditionalKwargs.ToolCalls != nil {
		out.AdditionalKwargs.ToolCalls = append([]ProviderCall(nil), m.AdditionalKwargs.ToolCalls...)
	}
	return out
}

// cloneArgs copies the top level of an argument map. Nested values are treated as immutable.
func cloneArgs(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
