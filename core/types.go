/*
Package core contains the request and response types of the console API.

These types are the contract between the browser front end and the server:
- Run control (SubmitRequest, ResumeRequest, StopRequest, StopResponse)
- Server-Sent Event frames (StreamMessage)
- Connection settings (SettingsRequest, SettingsResponse)
*/
package core

import (
	"deepconsole/agentclient"
	"deepconsole/conversation"
)

// SubmitRequest carries a user message for a thread.
type SubmitRequest struct {
	Message     string `json:"message"`               // The user's message to the agent
	AssistantID string `json:"assistantId,omitempty"` // Overrides the configured assistant for this run
}

// ResumeRequest continues an interrupted run. Resume is forwarded verbatim as the run
// command; the local runtime understands "reject" to skip the pending tool calls.
type ResumeRequest struct {
	Resume any `json:"resume"`
}

// Stream message types.
const (
	StreamThread     = "thread"      // thread id assigned for this stream
	StreamRunStarted = "run_started" // run id known, stop becomes possible
	StreamView       = "view"        // reconciled thread view
	StreamInterrupt  = "interrupt"   // run paused awaiting a resume command
	StreamError      = "error"
	StreamStopped    = "stopped"
	StreamDone       = "done"
)

// StreamMessage is one SSE frame sent to the browser. Type determines which fields are set.
type StreamMessage struct {
	Type      string                   `json:"type"`
	Content   string                   `json:"content,omitempty"`
	ThreadID  string                   `json:"threadId,omitempty"`
	RunID     string                   `json:"runId,omitempty"`
	View      *conversation.ThreadView `json:"view,omitempty"`
	Interrupt *conversation.Interrupt  `json:"interrupt,omitempty"`
	Complete  bool                     `json:"complete"`
}

// StopRequest asks the server to stop an active run. When ThreadID is set the run must
// belong to that thread.
type StopRequest struct {
	RunID    string `json:"runId"`
	ThreadID string `json:"threadId,omitempty"`
}

// StopResponse reports the outcome of a stop request.
type StopResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Stopped bool   `json:"stopped"` // false when the run had already finished
}

// ThreadResponse is returned by GET /threads/:threadId.
type ThreadResponse struct {
	View      conversation.ThreadView `json:"view"`
	Assistant *agentclient.Assistant  `json:"assistant,omitempty"`
}

// SettingsRequest updates the connection settings. Empty APIKey keeps the stored key.
type SettingsRequest struct {
	DeploymentURL string `json:"deploymentUrl"`
	AssistantID   string `json:"assistantId"`
	APIKey        string `json:"apiKey,omitempty"`
}

// SettingsResponse returns the connection settings with the API key masked.
type SettingsResponse struct {
	DeploymentURL string `json:"deploymentUrl"`
	AssistantID   string `json:"assistantId"`
	APIKey        string `json:"apiKey"`
	Mode          string `json:"mode"`
}
