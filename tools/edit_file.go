package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
)

var editFileLogger = logrus.WithField("tool", "edit_file")

// EditFileTool performs exact string replacement inside a workspace file. Without
// replace_all the old string must occur exactly once.
type EditFileTool struct {
	workspace *Workspace
}

func NewEditFileTool(ws *Workspace) *EditFileTool {
	editFileLogger.Debug("Initializing edit_file tool")
	return &EditFileTool{workspace: ws}
}

func (e *EditFileTool) Name() string {
	return "edit_file"
}

func (e *EditFileTool) Description() string {
	return "Replace old_string with new_string in a workspace file. old_string must be unique unless replace_all is true."
}

func (e *EditFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path":   map[string]any{"type": "string"},
			"old_string":  map[string]any{"type": "string"},
			"new_string":  map[string]any{"type": "string"},
			"replace_all": map[string]any{"type": "boolean"},
		},
		"required": []string{"file_path", "old_string", "new_string"},
	}
}

func (e *EditFileTool) Call(ctx context.Context, input string) (string, error) {
	toolLogger := editFileLogger.WithField("inputLength", len(input))
	toolLogger.Info("edit_file tool called")
	startTime := time.Now()

	var args struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := decodeInput(input, &args); err != nil {
		return "Error: " + err.Error(), nil
	}

	content, ok := e.workspace.ReadFile(args.FilePath)
	if !ok {
		return fmt.Sprintf("Error: File '%s' not found", args.FilePath), nil
	}
	if args.OldString == "" {
		return "Error: old_string must not be empty", nil
	}

	count := strings.Count(content, args.OldString)
	switch {
	case count == 0:
		return fmt.Sprintf("Error: String not found in file: '%s'", args.OldString), nil
	case count > 1 && !args.ReplaceAll:
		return fmt.Sprintf("Error: String '%s' appears %d times in file. Use replace_all=true or provide a more specific string.", args.OldString, count), nil
	}

	updated := strings.Replace(content, args.OldString, args.NewString, 1)
	if args.ReplaceAll {
		updated = strings.ReplaceAll(content, args.OldString, args.NewString)
	}
	e.workspace.WriteFile(args.FilePath, updated)

	toolLogger.WithFields(logrus.Fields{
		"filePath":      args.FilePath,
		"replacements":  count,
		"executionTime": time.Since(startTime),
	}).Info("edit_file completed")

	if args.ReplaceAll {
		return fmt.Sprintf("Successfully replaced %d instance(s) of the string in '%s'", count, args.FilePath), nil
	}
	return fmt.Sprintf("Successfully replaced string in '%s'", args.FilePath), nil
}

var _ tools.Tool = (*EditFileTool)(nil)
