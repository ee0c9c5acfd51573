package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// logFromOps builds a message log from generated opcodes. Each opcode picks a message kind
// and, for AI and tool messages, which call identifier to declare or answer, so generated
// logs contain matched results, orphan results and repeated message identifiers.
func logFromOps(ops []int) []Message {
	msgs := make([]Message, 0, len(ops))
	for i, op := range ops {
		callID := fmt.Sprintf("c%d", op%7)
		switch op % 4 {
		case 0:
			msgs = append(msgs, Message{ID: fmt.Sprintf("h%d", i), Type: TypeHuman, Content: TextContent(fmt.Sprintf("q%d", op))})
		case 1:
			msgs = append(msgs, Message{ID: fmt.Sprintf("a%d", i), Type: TypeAI, ToolCalls: []NormalizedCall{
				{ID: callID, Name: "search", Args: map[string]any{"q": op}},
			}})
		case 2:
			msgs = append(msgs, Message{ID: fmt.Sprintf("t%d", i), Type: TypeTool, ToolCallID: callID, Content: TextContent(fmt.Sprintf("r%d", op))})
		default:
			// Re-send an earlier AI identifier to exercise in-place overwrite.
			msgs = append(msgs, Message{ID: fmt.Sprintf("a%d", op%5), Type: TypeAI, Content: TextContent("updated")})
		}
	}
	return msgs
}

func mustMarshal(v any) []byte {
	out, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return out
}

func TestReconcileHumanOnlyProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("human-only logs keep count and order", prop.ForAll(
		func(texts []string) bool {
			msgs := make([]Message, len(texts))
			for i, text := range texts {
				msgs[i] = Message{ID: fmt.Sprintf("m%d", i), Type: TypeHuman, Content: TextContent(text)}
			}
			turns := Reconcile(msgs)
			if len(turns) != len(msgs) {
				return false
			}
			for i := range turns {
				if turns[i].ID != msgs[i].ID || turns[i].Content != texts[i] || len(turns[i].ToolCalls) != 0 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func TestReconcileDeterministicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("reconciling the same log twice is byte identical", prop.ForAll(
		func(ops []int) bool {
			msgs := logFromOps(ops)
			first := mustMarshal(Reconcile(msgs))
			second := mustMarshal(Reconcile(msgs))
			fromClone := mustMarshal(Reconcile(Clone(msgs)))
			return bytes.Equal(first, second) && bytes.Equal(first, fromClone)
		},
		gen.SliceOf(gen.IntRange(0, 40)),
	))

	properties.Property("reconciling does not mutate its input", prop.ForAll(
		func(ops []int) bool {
			msgs := logFromOps(ops)
			before := mustMarshal(msgs)
			Reconcile(msgs)
			return bytes.Equal(before, mustMarshal(msgs))
		},
		gen.SliceOf(gen.IntRange(0, 40)),
	))

	properties.TestingRun(t)
}

func TestReconcileOrphanResultProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("an unmatched tool result leaves all turns unchanged", prop.ForAll(
		func(ops []int, suffix string) bool {
			msgs := logFromOps(ops)
			before := mustMarshal(Reconcile(msgs))
			orphan := Message{ID: "orphan", Type: TypeTool, ToolCallID: "never-declared-" + suffix, Content: TextContent("late")}
			after := mustMarshal(Reconcile(append(msgs, orphan)))
			return bytes.Equal(before, after)
		},
		gen.SliceOf(gen.IntRange(0, 40)),
		gen.Identifier(),
	))

	properties.Property("every turn id appears once in first-occurrence order", prop.ForAll(
		func(ops []int) bool {
			msgs := logFromOps(ops)
			var want []string
			seen := map[string]bool{}
			for _, m := range msgs {
				if m.Kind() == KindTool || seen[m.ID] {
					continue
				}
				seen[m.ID] = true
				want = append(want, m.ID)
			}
			turns := Reconcile(msgs)
			if len(turns) != len(want) {
				return false
			}
			for i := range turns {
				if turns[i].ID != want[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 40)),
	))

	properties.TestingRun(t)
}
