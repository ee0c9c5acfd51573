package core

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/tools"
)

const (
	deepAgentPrefix = `Today is {{.today}}.
You are a deep agent: a careful assistant that plans, researches and produces written artifacts for the user.

WORKING STYLE:
- For any objective with more than two steps, call write_todos first with a plan, then keep it current
- Mark exactly one todo in_progress at a time and mark it completed as soon as it is done
- Keep notes and deliverables in workspace files with write_file and edit_file
- Read a file before editing it
- Delegate self-contained research or drafting to a sub-agent with the task tool

Available tools:
{{.tool_descriptions}}`

	deepAgentSubAgents = `SUB-AGENTS:
Call the task tool with a complete, standalone description of the work and a subagent_type.
The sub-agent cannot see this conversation; give it every detail it needs.
Available subagent types: {{.subagent_types}}`

	deepAgentSuffix = `When the objective is complete, answer the user directly and summarise which files you produced.`

	subAgentPrompt = `Today is {{.today}}.
You are a {{.subagent_type}} sub-agent. Complete the task you are given using the workspace tools, then reply with a concise report of what you found or produced. Your final message is returned to the agent that delegated the task.

Available tools:
{{.tool_descriptions}}`
)

func describeTools(toolList []tools.Tool) (string, string) {
	var toolNames []string
	var toolDescriptions []string
	for _, tool := range toolList {
		toolNames = append(toolNames, tool.Name())
		toolDescriptions = append(toolDescriptions, fmt.Sprintf("- %s: %s", tool.Name(), tool.Description()))
	}
	return strings.Join(toolNames, ", "), strings.Join(toolDescriptions, "\n")
}

// CreateDeepAgentPrompt builds the main agent's system prompt template.
func CreateDeepAgentPrompt(toolList []tools.Tool, subAgentTypes []string) prompts.PromptTemplate {
	toolNames, toolDescriptions := describeTools(toolList)

	template := strings.Join([]string{deepAgentPrefix, deepAgentSubAgents, deepAgentSuffix}, "\n\n")

	return prompts.PromptTemplate{
		Template:       template,
		TemplateFormat: prompts.TemplateFormatGoTemplate,
		InputVariables: []string{"today"},
		PartialVariables: map[string]any{
			"tool_names":        toolNames,
			"tool_descriptions": toolDescriptions,
			"subagent_types":    strings.Join(subAgentTypes, ", "),
		},
	}
}

// CreateSubAgentPrompt builds the system prompt template for a delegated task.
func CreateSubAgentPrompt(toolList []tools.Tool) prompts.PromptTemplate {
	_, toolDescriptions := describeTools(toolList)

	return prompts.PromptTemplate{
		Template:       subAgentPrompt,
		TemplateFormat: prompts.TemplateFormatGoTemplate,
		InputVariables: []string{"today", "subagent_type"},
		PartialVariables: map[string]any{
			"tool_descriptions": toolDescriptions,
		},
	}
}
