package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	localtools "deepconsole/tools"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"
)

// toolbox indexes the tools offered to the model in one run.
type toolbox struct {
	list   []localtools.Tool
	byName map[string]localtools.Tool
}

// toolbox returns the workspace tools plus the task tool, which reports through handler.
func (r *LocalRuntime) toolbox(ws *localtools.Workspace, handler *RunCallbackHandler) *toolbox {
	list := localtools.Toolset(ws)
	list = append(list, &TaskTool{runtime: r, workspace: ws, handler: handler})
	return newToolbox(list)
}

func newToolbox(list []localtools.Tool) *toolbox {
	box := &toolbox{list: list, byName: make(map[string]localtools.Tool, len(list))}
	for _, t := range list {
		box.byName[t.Name()] = t
	}
	return box
}

func (b *toolbox) names() []string {
	names := make([]string, 0, len(b.list))
	for _, t := range b.list {
		names = append(names, t.Name())
	}
	return names
}

func (b *toolbox) langchainTools() []tools.Tool {
	out := make([]tools.Tool, 0, len(b.list))
	for _, t := range b.list {
		out = append(out, t)
	}
	return out
}

func (b *toolbox) definitions() []llms.Tool {
	defs := make([]llms.Tool, 0, len(b.list))
	for _, t := range b.list {
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// call runs one tool call. Failures become the tool's observation.
func (b *toolbox) call(ctx context.Context, call llms.ToolCall, handler *RunCallbackHandler) string {
	tool, ok := b.byName[call.FunctionCall.Name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q. Available tools: %s", call.FunctionCall.Name, strings.Join(b.names(), ", "))
	}

	handler.HandleToolStart(ctx, call.FunctionCall.Arguments)
	out, err := tool.Call(ctx, call.FunctionCall.Arguments)
	if err != nil {
		handler.HandleToolError(ctx, err)
		return "Error: " + err.Error()
	}
	handler.HandleToolEnd(ctx, out)
	return out
}

// TaskTool delegates a self-contained piece of work to a sub-agent that shares the
// thread's workspace but not its conversation.
type TaskTool struct {
	runtime   *LocalRuntime
	workspace *localtools.Workspace
	handler   *RunCallbackHandler
}

func (t *TaskTool) Name() string {
	return "task"
}

func (t *TaskTool) Description() string {
	return "Delegate a task to a sub-agent. Provide a complete standalone description and the subagent_type. Returns the sub-agent's final report."
}

func (t *TaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"description": map[string]any{"type": "string", "description": "Everything the sub-agent needs to do the work"},
			"subagent_type": map[string]any{
				"type": "string",
				"enum": []string{generalPurposeAgent},
			},
		},
		"required": []string{"description", "subagent_type"},
	}
}

func (t *TaskTool) Call(ctx context.Context, input string) (string, error) {
	var args struct {
		Description  string `json:"description"`
		SubagentType string `json:"subagent_type"`
	}
	if err := decodeToolInput(input, &args); err != nil {
		return "Error: " + err.Error(), nil
	}
	if strings.TrimSpace(args.Description) == "" {
		return "Error: Please provide a task description", nil
	}
	if strings.TrimSpace(args.SubagentType) == "" {
		return "Error: Please provide a subagent_type. Available: " + generalPurposeAgent, nil
	}
	if args.SubagentType != generalPurposeAgent {
		return fmt.Sprintf("Error: unknown subagent_type %q. Available: %s", args.SubagentType, generalPurposeAgent), nil
	}

	report, err := t.runtime.runSubAgent(ctx, t.workspace, args.SubagentType, args.Description, t.handler)
	if err != nil {
		return "Error: sub-agent failed: " + err.Error(), nil
	}
	return report, nil
}

func decodeToolInput(input string, v any) error {
	input = strings.TrimSpace(input)
	if input == "" {
		input = "{}"
	}
	if err := json.Unmarshal([]byte(input), v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// runSubAgent loops a fresh conversation until the sub-agent answers without tool calls.
// It cannot delegate further.
func (r *LocalRuntime) runSubAgent(ctx context.Context, ws *localtools.Workspace, subAgentType, description string, handler *RunCallbackHandler) (string, error) {
	box := newToolbox(localtools.Toolset(ws))

	prompt := CreateSubAgentPrompt(box.langchainTools())
	system, err := prompt.Format(map[string]any{
		"today":         r.now().Format("Monday, January 2, 2006"),
		"subagent_type": subAgentType,
	})
	if err != nil {
		return "", fmt.Errorf("render sub-agent prompt: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"subAgentType": subAgentType,
		"description":  truncateString(description, r.config.LogTruncateLength),
	}).Info("Starting sub-agent")

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, description),
	}

	for i := 0; i < r.config.MaxIterations; i++ {
		choice, err := r.generate(ctx, messages, box, handler)
		if err != nil {
			return "", err
		}
		calls := withCallIDs(choice.ToolCalls)
		if len(calls) == 0 {
			return choice.Content, nil
		}

		parts := make([]llms.ContentPart, 0, len(calls)+1)
		if choice.Content != "" {
			parts = append(parts, llms.TextContent{Text: choice.Content})
		}
		for _, call := range calls {
			parts = append(parts, call)
		}
		messages = append(messages, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})

		for _, call := range calls {
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: call.ID,
					Name:       call.FunctionCall.Name,
					Content:    box.call(ctx, call, handler),
				}},
			})
		}
	}

	return "", fmt.Errorf("sub-agent reached max iterations (%d)", r.config.MaxIterations)
}

var _ localtools.Tool = (*TaskTool)(nil)
