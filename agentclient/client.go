// Package agentclient defines the console's view of the agent runtime: thread creation,
// state snapshots, streamed runs, cancellation and assistant configuration. HTTPClient talks
// to a remote deployment; the console also ships an in-process implementation.
package agentclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deepconsole/conversation"
)

// ErrNotFound is returned when the runtime does not know the requested thread, run or
// assistant.
var ErrNotFound = errors.New("agentclient: not found")

// StatusError reports a non-success HTTP status from the runtime.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("agentclient: unexpected status %d: %s", e.Code, e.Body)
}

type (
	// Client is implemented by every agent runtime the console can drive.
	Client interface {
		CreateThread(ctx context.Context) (Thread, error)
		GetState(ctx context.Context, threadID string) (conversation.ThreadState, error)
		// Stream starts a run and returns its events. The channel is closed after an
		// EventEnd or EventError, or when ctx is done.
		Stream(ctx context.Context, threadID string, req RunRequest) (<-chan Event, error)
		Cancel(ctx context.Context, threadID, runID string) error
		GetAssistant(ctx context.Context, assistantID string) (Assistant, error)
	}

	// Thread identifies a conversation session.
	Thread struct {
		ID        string         `json:"thread_id"`
		CreatedAt time.Time      `json:"created_at"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}

	// Assistant is the agent's configuration as exposed by the runtime.
	Assistant struct {
		ID       string         `json:"assistant_id"`
		GraphID  string         `json:"graph_id"`
		Name     string         `json:"name"`
		Config   map[string]any `json:"config,omitempty"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	// RunRequest starts a run: either a new input message or a command resuming an
	// interrupted run.
	RunRequest struct {
		AssistantID     string                `json:"assistant_id"`
		Input           *conversation.Message `json:"-"`
		Command         *Command              `json:"command,omitempty"`
		InterruptBefore []string              `json:"interrupt_before,omitempty"`
	}

	// Command steers an interrupted run.
	Command struct {
		Resume any `json:"resume"`
	}

	// EventKind discriminates streamed run events.
	EventKind string

	// Event is one streamed run update.
	Event struct {
		Kind    EventKind
		RunID   string
		State   conversation.ThreadState
		Message conversation.Message
		Err     error
	}
)

const (
	EventMetadata EventKind = "metadata"
	EventValues   EventKind = "values"
	EventMessage  EventKind = "message"
	EventError    EventKind = "error"
	EventEnd      EventKind = "end"
)
