package tools

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
)

var lsLogger = logrus.WithField("tool", "ls")

type LsTool struct {
	workspace *Workspace
}

func NewLsTool(ws *Workspace) *LsTool {
	lsLogger.Debug("Initializing ls tool")
	return &LsTool{workspace: ws}
}

func (l *LsTool) Name() string {
	return "ls"
}

func (l *LsTool) Description() string {
	return "List all files in the workspace. Optionally pass a directory prefix to narrow the listing."
}

func (l *LsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Directory prefix, defaults to /"},
		},
	}
}

func (l *LsTool) Call(ctx context.Context, input string) (string, error) {
	toolLogger := lsLogger.WithField("input", input)
	toolLogger.Info("ls tool called")
	startTime := time.Now()

	var args struct {
		Path string `json:"path"`
	}
	if err := decodeInput(input, &args); err != nil {
		toolLogger.WithError(err).Warn("Invalid ls arguments")
		return "Error: " + err.Error(), nil
	}

	prefix := "/"
	if strings.TrimSpace(args.Path) != "" {
		prefix = cleanPath(args.Path)
	}

	var matched []string
	for _, p := range l.workspace.Paths() {
		if prefix == "/" || p == prefix || strings.HasPrefix(p, prefix+"/") {
			matched = append(matched, p)
		}
	}

	toolLogger.WithFields(logrus.Fields{
		"prefix":        prefix,
		"fileCount":     len(matched),
		"executionTime": time.Since(startTime),
	}).Info("ls completed")

	if len(matched) == 0 {
		return "No files found", nil
	}
	return strings.Join(matched, "\n"), nil
}

var _ tools.Tool = (*LsTool)(nil)
