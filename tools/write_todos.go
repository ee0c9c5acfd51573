package tools

import (
	"context"
	"fmt"
	"strings"

	"deepconsole/conversation"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
)

var todosLogger = logrus.WithField("tool", "write_todos")

// WriteTodosTool replaces the agent's task list. The console renders the list next to the
// conversation.
type WriteTodosTool struct {
	workspace *Workspace
}

func NewWriteTodosTool(ws *Workspace) *WriteTodosTool {
	todosLogger.Debug("Initializing write_todos tool")
	return &WriteTodosTool{workspace: ws}
}

func (t *WriteTodosTool) Name() string {
	return "write_todos"
}

func (t *WriteTodosTool) Description() string {
	return "Create or update the task list for the current objective. Pass the full list every time; each item has content and a status of pending, in_progress or completed."
}

func (t *WriteTodosTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"todos": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"content": map[string]any{"type": "string"},
						"status": map[string]any{
							"type": "string",
							"enum": []string{"pending", "in_progress", "completed"},
						},
					},
					"required": []string{"content", "status"},
				},
			},
		},
		"required": []string{"todos"},
	}
}

func (t *WriteTodosTool) Call(ctx context.Context, input string) (string, error) {
	var args struct {
		Todos []conversation.Todo `json:"todos"`
	}
	if err := decodeInput(input, &args); err != nil {
		return "Error: " + err.Error(), nil
	}

	for i := range args.Todos {
		switch args.Todos[i].Status {
		case conversation.TodoPending, conversation.TodoInProgress, conversation.TodoCompleted:
		default:
			return fmt.Sprintf("Error: todo %d has invalid status %q", i, args.Todos[i].Status), nil
		}
		if args.Todos[i].ID == "" {
			args.Todos[i].ID = fmt.Sprintf("todo-%d", i+1)
		}
	}
	t.workspace.SetTodos(args.Todos)

	todosLogger.WithField("todoCount", len(args.Todos)).Info("Todo list updated")

	lines := make([]string, 0, len(args.Todos))
	for _, todo := range args.Todos {
		lines = append(lines, fmt.Sprintf("[%s] %s", todo.Status, todo.Content))
	}
	return "Updated todo list:\n" + strings.Join(lines, "\n"), nil
}

var _ tools.Tool = (*WriteTodosTool)(nil)
