/*
Package tools provides the deep agent's workspace tools for the in-process runtime.

The agent works against a virtual file system and a task list held in the thread's state
rather than the host disk. Every tool here implements the langchaingo tools.Tool interface
and also publishes a JSON schema for its arguments so the model can call it natively.
*/
package tools

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"deepconsole/conversation"

	"github.com/tmc/langchaingo/tools"
)

// Tool is a langchaingo tool that also describes its arguments.
type Tool interface {
	tools.Tool
	Parameters() map[string]any
}

// Workspace is the mutable state a thread's tools operate on.
type Workspace struct {
	mu    sync.RWMutex
	files map[string]string
	todos []conversation.Todo
}

// NewWorkspace returns an empty workspace.
func NewWorkspace() *Workspace {
	return &Workspace{files: make(map[string]string)}
}

// Files returns a copy of the virtual file system.
func (w *Workspace) Files() map[string]string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]string, len(w.files))
	for k, v := range w.files {
		out[k] = v
	}
	return out
}

// Todos returns a copy of the task list.
func (w *Workspace) Todos() []conversation.Todo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]conversation.Todo(nil), w.todos...)
}

// ReadFile returns the content stored at p.
func (w *Workspace) ReadFile(p string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	content, ok := w.files[cleanPath(p)]
	return content, ok
}

// WriteFile stores content at p, replacing any previous content.
func (w *Workspace) WriteFile(p, content string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files[cleanPath(p)] = content
}

// Paths lists stored paths in lexical order.
func (w *Workspace) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	paths := make([]string, 0, len(w.files))
	for p := range w.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// SetTodos replaces the task list.
func (w *Workspace) SetTodos(todos []conversation.Todo) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.todos = append([]conversation.Todo(nil), todos...)
}

// cleanPath anchors paths at the workspace root so "notes.md" and "/notes.md" are the same file.
func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// decodeInput unmarshals a tool's JSON argument string.
func decodeInput(input string, v any) error {
	input = strings.TrimSpace(input)
	if input == "" {
		input = "{}"
	}
	if err := json.Unmarshal([]byte(input), v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// Toolset returns every workspace tool bound to ws.
func Toolset(ws *Workspace) []Tool {
	return []Tool{
		NewLsTool(ws),
		NewReadFileTool(ws),
		NewWriteFileTool(ws),
		NewEditFileTool(ws),
		NewGrepTool(ws),
		NewWriteTodosTool(ws),
		NewDateTimeTool(),
	}
}
