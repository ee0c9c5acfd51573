package core

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"deepconsole/agentclient"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// scriptedModel replays canned responses in order and records every request.
// After the script runs out it returns fallback, or a plain "done" answer.
type scriptedModel struct {
	mutex     sync.Mutex
	responses []*llms.ContentResponse
	fallback  *llms.ContentResponse
	requests  [][]llms.MessageContent
}

func newScriptedModel(responses ...*llms.ContentResponse) *scriptedModel {
	return &scriptedModel{responses: responses}
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests = append(m.requests, messages)
	if len(m.responses) == 0 {
		if m.fallback != nil {
			return m.fallback, nil
		}
		return textResponse("done"), nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *scriptedModel) requestCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.requests)
}

// blockingModel waits for cancellation.
type blockingModel struct{}

func (blockingModel) GenerateContent(ctx context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (m blockingModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func textResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}
}

func toolResponse(text string, calls ...llms.ToolCall) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text, ToolCalls: calls}}}
}

func toolCall(id, name, args string) llms.ToolCall {
	return llms.ToolCall{ID: id, Type: "function", FunctionCall: &llms.FunctionCall{Name: name, Arguments: args}}
}

func testConfig() *Config {
	return &Config{
		Port:              "0",
		AgentMode:         ModeLocal,
		AssistantID:       "deepagent",
		LLMProvider:       "ollama",
		OllamaModel:       "qwen3",
		MaxIterations:     5,
		RequestTimeout:    10 * time.Second,
		ThreadMaxAge:      time.Hour,
		CleanupInterval:   time.Hour,
		LogTruncateLength: 200,
		RemoteRPS:         100,
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// collect drains a run's events.
func collect(t *testing.T, events <-chan agentclient.Event) []agentclient.Event {
	t.Helper()
	var got []agentclient.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, evt)
		case <-timeout:
			t.Fatal("run did not finish")
			return got
		}
	}
}

func kinds(events []agentclient.Event) []agentclient.EventKind {
	out := make([]agentclient.EventKind, 0, len(events))
	for _, evt := range events {
		out = append(out, evt.Kind)
	}
	return out
}

func requireKind(t *testing.T, events []agentclient.Event, kind agentclient.EventKind) agentclient.Event {
	t.Helper()
	for _, evt := range events {
		if evt.Kind == kind {
			return evt
		}
	}
	require.Failf(t, "missing event", "no %s event in %v", kind, kinds(events))
	return agentclient.Event{}
}
