/*
Package tools provides text search over the deep agent's virtual file system.

This file implements the GrepTool, which finds lines matching a regular expression across
the files held in a thread's workspace. It replaces a host grep: the agent's files live in
thread state, so the search runs in memory over the workspace snapshot.

Supported operations:
- Workspace-wide search of every stored file
- Restricting the search to one file or a directory prefix
- Result limiting so large workspaces do not flood the model's context
*/
package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
)

// grepLogger provides structured logging for all grep operations
// with a consistent tool identifier for easy filtering and monitoring
var grepLogger = logrus.WithField("tool", "grep")

// maxGrepMatches bounds how many matching lines a single call returns.
const maxGrepMatches = 200

// GrepTool searches workspace files with regular expressions.
type GrepTool struct {
	workspace *Workspace // Workspace whose files are searched
}

// NewGrepTool creates a new instance of the text search tool bound to a workspace.
//
// Parameters:
//   - ws: The thread workspace to search
//
// Returns:
//   - *GrepTool: Configured grep tool ready for use
func NewGrepTool(ws *Workspace) *GrepTool {
	grepLogger.Debug("Initializing grep tool")
	return &GrepTool{workspace: ws}
}

// Description returns the text the model sees when choosing tools.
func (g *GrepTool) Description() string {
	return "Search workspace files for a regular expression. Returns matching lines as path:line:text. Optionally restrict to a path or directory prefix."
}

// Name returns the identifier for this tool.
func (g *GrepTool) Name() string {
	return "grep"
}

// Parameters returns the JSON schema of the tool's arguments.
func (g *GrepTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string", "description": "Go regular expression"},
			"path":    map[string]any{"type": "string", "description": "File or directory prefix to search"},
		},
		"required": []string{"pattern"},
	}
}

// Call executes a search operation based on the provided JSON input.
// Invalid patterns and empty results are reported as text so the agent can adjust
// its next step; the returned error is always nil.
//
// Parameters:
//   - ctx: Context for cancellation
//   - input: JSON arguments {"pattern": "...", "path": "..."}
//
// Returns:
//   - string: Matching lines with a summary when results were truncated
//   - error: Always nil (errors are returned as string messages)
func (g *GrepTool) Call(ctx context.Context, input string) (string, error) {
	toolLogger := grepLogger.WithField("input", input)

	toolLogger.Info("Grep tool called")
	startTime := time.Now()

	var args struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := decodeInput(input, &args); err != nil {
		return "Error: " + err.Error(), nil
	}
	if args.Pattern == "" {
		toolLogger.Warn("Empty search pattern provided")
		return "Error: Please provide a search pattern", nil
	}

	re, err := regexp.Compile(args.Pattern)
	if err != nil {
		toolLogger.WithError(err).Warn("Invalid search pattern")
		return fmt.Sprintf("Error: Invalid regular expression: %v", err), nil
	}

	scope := ""
	if strings.TrimSpace(args.Path) != "" {
		scope = cleanPath(args.Path)
	}

	files := g.workspace.Files()
	var matches []string
	truncated := false
	for _, p := range g.workspace.Paths() {
		if ctx.Err() != nil {
			return "Error: search cancelled", nil
		}
		if scope != "" && scope != "/" && p != scope && !strings.HasPrefix(p, scope+"/") {
			continue
		}
		for i, line := range strings.Split(files[p], "\n") {
			if !re.MatchString(line) {
				continue
			}
			if len(matches) >= maxGrepMatches {
				truncated = true
				break
			}
			matches = append(matches, fmt.Sprintf("%s:%d:%s", p, i+1, line))
		}
	}

	toolLogger.WithFields(logrus.Fields{
		"pattern":       args.Pattern,
		"matchCount":    len(matches),
		"truncated":     truncated,
		"executionTime": time.Since(startTime),
	}).Info("grep completed")

	if len(matches) == 0 {
		return fmt.Sprintf("No matches found for pattern '%s'", args.Pattern), nil
	}
	out := strings.Join(matches, "\n")
	if truncated {
		out += fmt.Sprintf("\n... results truncated at %d matches", maxGrepMatches)
	}
	return out, nil
}

// Ensure GrepTool implements the tools.Tool interface
var _ tools.Tool = (*GrepTool)(nil)
