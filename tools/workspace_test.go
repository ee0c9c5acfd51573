package tools

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"deepconsole/conversation"

	"github.com/stretchr/testify/require"
)

func call(t *testing.T, tool Tool, input string) string {
	t.Helper()
	out, err := tool.Call(context.Background(), input)
	require.NoError(t, err)
	return out
}

func TestWorkspacePathsAreAnchored(t *testing.T) {
	ws := NewWorkspace()
	ws.WriteFile("notes.md", "a")
	ws.WriteFile("/docs/../b.md", "b")

	content, ok := ws.ReadFile("/notes.md")
	require.True(t, ok)
	require.Equal(t, "a", content)
	require.Equal(t, []string{"/b.md", "/notes.md"}, ws.Paths())
}

func TestWorkspaceCopiesAreIsolated(t *testing.T) {
	ws := NewWorkspace()
	ws.WriteFile("/a", "1")
	files := ws.Files()
	files["/a"] = "changed"
	content, _ := ws.ReadFile("/a")
	require.Equal(t, "1", content)

	todos := []conversation.Todo{{ID: "t1", Content: "x", Status: conversation.TodoPending}}
	ws.SetTodos(todos)
	todos[0].Content = "mutated"
	require.Equal(t, "x", ws.Todos()[0].Content)
}

func TestToolsetNamesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, tool := range Toolset(NewWorkspace()) {
		require.False(t, seen[tool.Name()], tool.Name())
		seen[tool.Name()] = true
		require.Equal(t, "object", tool.Parameters()["type"])
		require.NotEmpty(t, tool.Description())
	}
	require.Len(t, seen, 7)
}

func TestWriteThenReadFile(t *testing.T) {
	ws := NewWorkspace()
	out := call(t, NewWriteFileTool(ws), `{"file_path":"report.md","content":"line one\nline two\nline three"}`)
	require.Equal(t, "Updated file /report.md", out)

	out = call(t, NewReadFileTool(ws), `{"file_path":"/report.md","offset":1,"limit":1}`)
	require.Equal(t, "     2\tline two", out)
}

func TestReadFileHugeLimit(t *testing.T) {
	ws := NewWorkspace()
	ws.WriteFile("/a.md", "one\ntwo")

	out := call(t, NewReadFileTool(ws), fmt.Sprintf(`{"file_path":"/a.md","offset":1,"limit":%d}`, math.MaxInt))
	require.Equal(t, "     2\ttwo", out)
}

func TestReadFileErrors(t *testing.T) {
	ws := NewWorkspace()
	ws.WriteFile("/empty.md", "")
	read := NewReadFileTool(ws)

	require.Equal(t, "Error: File '/missing' not found", call(t, read, `{"file_path":"/missing"}`))
	require.Equal(t, "System reminder: File exists but has empty contents", call(t, read, `{"file_path":"/empty.md"}`))
	require.True(t, strings.HasPrefix(call(t, read, `not json`), "Error: invalid arguments"))
	require.Equal(t, "Error: Please provide a file_path", call(t, read, `{}`))
}

func TestEditFileRequiresUniqueMatch(t *testing.T) {
	ws := NewWorkspace()
	ws.WriteFile("/a.txt", "foo bar foo")
	edit := NewEditFileTool(ws)

	out := call(t, edit, `{"file_path":"/a.txt","old_string":"foo","new_string":"baz"}`)
	require.Contains(t, out, "appears 2 times")
	content, _ := ws.ReadFile("/a.txt")
	require.Equal(t, "foo bar foo", content)

	out = call(t, edit, `{"file_path":"/a.txt","old_string":"foo","new_string":"baz","replace_all":true}`)
	require.Contains(t, out, "replaced 2 instance(s)")
	content, _ = ws.ReadFile("/a.txt")
	require.Equal(t, "baz bar baz", content)

	out = call(t, edit, `{"file_path":"/a.txt","old_string":"bar","new_string":"qux"}`)
	require.Equal(t, "Successfully replaced string in '/a.txt'", out)

	out = call(t, edit, `{"file_path":"/a.txt","old_string":"nope","new_string":"x"}`)
	require.Contains(t, out, "String not found")
}

func TestLsFiltersByPrefix(t *testing.T) {
	ws := NewWorkspace()
	ls := NewLsTool(ws)
	require.Equal(t, "No files found", call(t, ls, ``))

	ws.WriteFile("/docs/a.md", "")
	ws.WriteFile("/docs/b.md", "")
	ws.WriteFile("/docsx.md", "")
	require.Equal(t, "/docs/a.md\n/docs/b.md\n/docsx.md", call(t, ls, `{}`))
	require.Equal(t, "/docs/a.md\n/docs/b.md", call(t, ls, `{"path":"docs"}`))
}

func TestGrepSearchesWorkspace(t *testing.T) {
	ws := NewWorkspace()
	ws.WriteFile("/a.md", "alpha\nbeta\ngamma")
	ws.WriteFile("/src/b.go", "package beta")
	grep := NewGrepTool(ws)

	require.Equal(t, "/a.md:2:beta\n/src/b.go:1:package beta", call(t, grep, `{"pattern":"beta"}`))
	require.Equal(t, "/src/b.go:1:package beta", call(t, grep, `{"pattern":"beta","path":"/src"}`))
	require.Equal(t, "No matches found for pattern 'delta'", call(t, grep, `{"pattern":"delta"}`))
	require.Contains(t, call(t, grep, `{"pattern":"("}`), "Invalid regular expression")
	require.Equal(t, "Error: Please provide a search pattern", call(t, grep, `{}`))
}

func TestGrepTruncatesResults(t *testing.T) {
	ws := NewWorkspace()
	ws.WriteFile("/big.txt", strings.Repeat("x\n", maxGrepMatches+10))
	out := call(t, NewGrepTool(ws), `{"pattern":"x"}`)
	require.Contains(t, out, "results truncated")
}

func TestWriteTodos(t *testing.T) {
	ws := NewWorkspace()
	todos := NewWriteTodosTool(ws)

	out := call(t, todos, `{"todos":[{"content":"research","status":"in_progress"},{"content":"write","status":"pending"}]}`)
	require.Equal(t, "Updated todo list:\n[in_progress] research\n[pending] write", out)
	got := ws.Todos()
	require.Len(t, got, 2)
	require.Equal(t, "todo-1", got[0].ID)
	require.Equal(t, conversation.TodoPending, got[1].Status)

	out = call(t, todos, `{"todos":[{"content":"x","status":"done"}]}`)
	require.Contains(t, out, "invalid status")
	require.Len(t, ws.Todos(), 2)
}

func TestDateTime(t *testing.T) {
	tool := NewDateTimeTool()
	tool.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	require.Equal(t, "Fri, 01 Mar 2024 12:00:00 +0000", call(t, tool, ``))
	require.Contains(t, call(t, tool, `{"timezone":"Not/AZone"}`), "unknown time zone")
}
