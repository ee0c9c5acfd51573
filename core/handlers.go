package core

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// RunCallbackHandler logs the model and tool activity of one local run.
// iteration counts model calls; step counts tool calls within the current iteration.
type RunCallbackHandler struct {
	runLogger *logrus.Entry
	iteration int
	step      int
	config    *Config
}

func NewRunCallbackHandler(runLogger *logrus.Entry, config *Config) *RunCallbackHandler {
	return &RunCallbackHandler{
		runLogger: runLogger,
		config:    config,
	}
}

func (h *RunCallbackHandler) truncateForLog(text string) string {
	return truncateString(text, h.config.LogTruncateLength)
}

func (h *RunCallbackHandler) fields() logrus.Fields {
	return logrus.Fields{"iteration": h.iteration, "step": h.step}
}

func (h *RunCallbackHandler) HandleText(ctx context.Context, text string) {
	h.runLogger.WithFields(h.fields()).WithField("text", h.truncateForLog(text)).Debug("Agent processing text")
}

func (h *RunCallbackHandler) HandleLLMStart(ctx context.Context, prompts []string) {
	h.runLogger.WithFields(h.fields()).WithField("promptCount", len(prompts)).Debug("LLM call beginning")
}

func (h *RunCallbackHandler) HandleLLMGenerateContentStart(ctx context.Context, ms []llms.MessageContent) {
	h.iteration++
	h.step = 0
	h.runLogger.WithFields(h.fields()).WithField("messageCount", len(ms)).Info("LLM content generation started")
}

func (h *RunCallbackHandler) HandleLLMGenerateContentEnd(ctx context.Context, res *llms.ContentResponse) {
	content, toolCalls := "", 0
	if res != nil && len(res.Choices) > 0 {
		content = res.Choices[0].Content
		toolCalls = len(res.Choices[0].ToolCalls)
	}
	h.runLogger.WithFields(h.fields()).WithFields(logrus.Fields{
		"response":  h.truncateForLog(content),
		"toolCalls": toolCalls,
	}).Info("LLM content generation completed")
}

func (h *RunCallbackHandler) HandleLLMError(ctx context.Context, err error) {
	h.runLogger.WithFields(h.fields()).WithError(err).Error("LLM call failed")
}

func (h *RunCallbackHandler) HandleChainStart(ctx context.Context, inputs map[string]any) {
	h.runLogger.WithFields(h.fields()).WithField("inputs", inputs).Info("Agent run started")
}

func (h *RunCallbackHandler) HandleChainEnd(ctx context.Context, outputs map[string]any) {
	h.runLogger.WithFields(h.fields()).WithFields(logrus.Fields{
		"outputs":         outputs,
		"totalIterations": h.iteration,
	}).Info("Agent run completed")
}

func (h *RunCallbackHandler) HandleChainError(ctx context.Context, err error) {
	h.runLogger.WithFields(h.fields()).WithError(err).WithField("totalIterations", h.iteration).Error("Agent run failed")
}

func (h *RunCallbackHandler) HandleToolStart(ctx context.Context, input string) {
	h.step++
	h.runLogger.WithFields(h.fields()).WithField("input", h.truncateForLog(input)).Info("Tool execution started")
}

func (h *RunCallbackHandler) HandleToolEnd(ctx context.Context, output string) {
	h.runLogger.WithFields(h.fields()).WithFields(logrus.Fields{
		"output":       h.truncateForLog(output),
		"outputLength": len(output),
	}).Info("Tool execution completed")
}

func (h *RunCallbackHandler) HandleToolError(ctx context.Context, err error) {
	h.runLogger.WithFields(h.fields()).WithError(err).Error("Tool execution failed")
}

func (h *RunCallbackHandler) HandleAgentAction(ctx context.Context, action schema.AgentAction) {
	h.runLogger.WithFields(h.fields()).WithFields(logrus.Fields{
		"action": action.Tool,
		"input":  h.truncateForLog(action.ToolInput),
	}).Info("Agent decided on action")
}

func (h *RunCallbackHandler) HandleAgentFinish(ctx context.Context, finish schema.AgentFinish) {
	h.runLogger.WithFields(h.fields()).WithField("totalIterations", h.iteration).Info("Agent finished")
}

func (h *RunCallbackHandler) HandleRetrieverStart(ctx context.Context, query string) {
	h.runLogger.WithFields(h.fields()).WithField("query", query).Debug("Retriever started")
}

func (h *RunCallbackHandler) HandleRetrieverEnd(ctx context.Context, query string, documents []schema.Document) {
	h.runLogger.WithFields(h.fields()).WithField("documentCount", len(documents)).Debug("Retriever completed")
}

func (h *RunCallbackHandler) HandleStreamingFunc(ctx context.Context, chunk []byte) {
	h.runLogger.WithFields(h.fields()).WithField("chunkSize", len(chunk)).Debug("Streaming chunk received")
}

var _ callbacks.Handler = (*RunCallbackHandler)(nil)
