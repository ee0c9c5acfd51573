package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
)

var writeFileLogger = logrus.WithField("tool", "write_file")

type WriteFileTool struct {
	workspace *Workspace
}

func NewWriteFileTool(ws *Workspace) *WriteFileTool {
	writeFileLogger.Debug("Initializing write_file tool")
	return &WriteFileTool{workspace: ws}
}

func (w *WriteFileTool) Name() string {
	return "write_file"
}

func (w *WriteFileTool) Description() string {
	return "Write content to a file in the workspace, creating it or replacing its previous content."
}

func (w *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{"type": "string"},
			"content":   map[string]any{"type": "string"},
		},
		"required": []string{"file_path", "content"},
	}
}

func (w *WriteFileTool) Call(ctx context.Context, input string) (string, error) {
	toolLogger := writeFileLogger.WithField("inputLength", len(input))
	toolLogger.Info("write_file tool called")
	startTime := time.Now()

	var args struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := decodeInput(input, &args); err != nil {
		return "Error: " + err.Error(), nil
	}
	if strings.TrimSpace(args.FilePath) == "" {
		return "Error: Please provide a file_path", nil
	}

	w.workspace.WriteFile(args.FilePath, args.Content)

	toolLogger.WithFields(logrus.Fields{
		"filePath":      args.FilePath,
		"bytes":         len(args.Content),
		"executionTime": time.Since(startTime),
	}).Info("write_file completed")

	return fmt.Sprintf("Updated file %s", cleanPath(args.FilePath)), nil
}

var _ tools.Tool = (*WriteFileTool)(nil)
