package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
)

var readFileLogger = logrus.WithField("tool", "read_file")

const (
	defaultReadLimit = 2000
	maxLineLength    = 2000
)

// ReadFileTool returns a window of a workspace file with line numbers, in the cat -n layout.
type ReadFileTool struct {
	workspace *Workspace
}

func NewReadFileTool(ws *Workspace) *ReadFileTool {
	readFileLogger.Debug("Initializing read_file tool")
	return &ReadFileTool{workspace: ws}
}

func (r *ReadFileTool) Name() string {
	return "read_file"
}

func (r *ReadFileTool) Description() string {
	return "Read a file from the workspace. Returns numbered lines. Use offset and limit to page through long files."
}

func (r *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{"type": "string"},
			"offset":    map[string]any{"type": "integer", "description": "Zero-based first line"},
			"limit":     map[string]any{"type": "integer", "description": "Maximum lines to return"},
		},
		"required": []string{"file_path"},
	}
}

func (r *ReadFileTool) Call(ctx context.Context, input string) (string, error) {
	toolLogger := readFileLogger.WithField("input", input)
	toolLogger.Info("read_file tool called")
	startTime := time.Now()

	var args struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := decodeInput(input, &args); err != nil {
		return "Error: " + err.Error(), nil
	}
	if strings.TrimSpace(args.FilePath) == "" {
		toolLogger.Warn("Empty file path provided")
		return "Error: Please provide a file_path", nil
	}

	content, ok := r.workspace.ReadFile(args.FilePath)
	if !ok {
		return fmt.Sprintf("Error: File '%s' not found", args.FilePath), nil
	}
	if strings.TrimSpace(content) == "" {
		return "System reminder: File exists but has empty contents", nil
	}

	if args.Offset < 0 {
		args.Offset = 0
	}
	if args.Limit <= 0 {
		args.Limit = defaultReadLimit
	}

	lines := strings.Split(content, "\n")
	if args.Offset >= len(lines) {
		return fmt.Sprintf("Error: Line offset %d exceeds file length (%d lines)", args.Offset, len(lines)), nil
	}
	end := len(lines)
	if args.Limit < len(lines)-args.Offset {
		end = args.Offset + args.Limit
	}

	var b strings.Builder
	for i := args.Offset; i < end; i++ {
		line := lines[i]
		if len(line) > maxLineLength {
			line = line[:maxLineLength]
		}
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, line)
	}

	toolLogger.WithFields(logrus.Fields{
		"filePath":      args.FilePath,
		"linesReturned": end - args.Offset,
		"executionTime": time.Since(startTime),
	}).Info("read_file completed")

	return strings.TrimRight(b.String(), "\n"), nil
}

var _ tools.Tool = (*ReadFileTool)(nil)
