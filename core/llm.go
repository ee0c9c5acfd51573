/*
Package core provides LLM integration for the in-process agent runtime.

This file implements a wrapper around langchaingo models that:
- Strips <think> and <reasoning> blocks some local models emit before their answer
- Collapses the blank lines those blocks leave behind
- Logs how much was removed for monitoring

The wrapper satisfies llms.Model, so the runtime can use it anywhere a model is expected.
Tool calls returned by the model pass through untouched.
*/
package core

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
)

var (
	thinkBlockRegex   = regexp.MustCompile(`(?is)<think>.*?</think>`)
	openThinkRegex    = regexp.MustCompile(`(?is)<think>.*`)
	reasoningRegex    = regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>`)
	multiNewlineRegex = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// CleaningLLMWrapper removes model reasoning markup from generated content.
type CleaningLLMWrapper struct {
	wrappedLLM llms.Model     // The underlying LLM implementation to wrap
	config     *Config        // Application configuration for behavior control
	logger     *logrus.Logger // Structured logger for monitoring and debugging
}

// NewCleaningLLMWrapper creates a new instance of the cleaning LLM wrapper.
//
// Parameters:
//   - llm: The underlying language model to wrap
//   - config: Application configuration containing logging parameters
//   - logger: Logger instance for monitoring LLM interactions
//
// Returns:
//   - *CleaningLLMWrapper: Configured wrapper ready for use
func NewCleaningLLMWrapper(llm llms.Model, config *Config, logger *logrus.Logger) *CleaningLLMWrapper {
	return &CleaningLLMWrapper{
		wrappedLLM: llm,
		config:     config,
		logger:     logger,
	}
}

// truncateString shortens text to at most limit bytes, marking the cut with an ellipsis.
// The cut never splits a UTF-8 sequence.
func truncateString(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

func (w *CleaningLLMWrapper) truncateForLog(text string) string {
	return truncateString(text, w.config.LogTruncateLength)
}

// cleanResponse removes reasoning tags (closed or left open at the end of the output) and
// extra blank lines.
func cleanResponse(response string) string {
	cleaned := thinkBlockRegex.ReplaceAllString(response, "")
	cleaned = openThinkRegex.ReplaceAllString(cleaned, "")
	cleaned = reasoningRegex.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	return multiNewlineRegex.ReplaceAllString(cleaned, "\n\n")
}

// GenerateContent calls the wrapped model and cleans the content of every choice.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//   - messages: Input messages for content generation
//   - options: Additional call options, including tool definitions
//
// Returns:
//   - *llms.ContentResponse: Response with cleaned choice content
//   - error: Any error from the underlying LLM
func (w *CleaningLLMWrapper) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	response, err := w.wrappedLLM.GenerateContent(ctx, messages, options...)
	if err != nil {
		return response, err
	}

	if response != nil {
		for i := range response.Choices {
			original := response.Choices[i].Content
			cleaned := cleanResponse(original)
			response.Choices[i].Content = cleaned

			if len(original) != len(cleaned) {
				w.logger.WithFields(logrus.Fields{
					"originalLength":  len(original),
					"cleanedLength":   len(cleaned),
					"toolCalls":       len(response.Choices[i].ToolCalls),
					"originalPreview": w.truncateForLog(original),
				}).Debug("Cleaned LLM response content")
			}
		}
	}

	return response, nil
}

// Call implements the simple string form of llms.Model.
func (w *CleaningLLMWrapper) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, w, prompt, options...)
}

var _ llms.Model = (*CleaningLLMWrapper)(nil)
