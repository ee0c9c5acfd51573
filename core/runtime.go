/*
Package core provides the in-process deep agent runtime.

LocalRuntime implements agentclient.Client on top of a langchaingo model with native tool
calling. Each thread owns a message log and a tools.Workspace holding the agent's files and
todo list. A run loops model calls and tool executions until the model answers without
requesting tools, streaming every new message and a state snapshot after each step.

When tool interrupts are enabled the run stops after the model requests tools and exposes the
pending calls as an interrupt. Resuming with "reject" answers them with a rejection; any other
resume value executes them.
*/
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"deepconsole/agentclient"
	"deepconsole/conversation"
	localtools "deepconsole/tools"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
)

const (
	generalPurposeAgent = "general-purpose"
	interruptNodeTools  = "tools"
	resumeReject        = "reject"
	rejectedToolResult  = "Tool call rejected by user"
)

// LocalRuntime runs deep agent threads in-process.
type LocalRuntime struct {
	model       llms.Model
	config      *Config
	logger      *logrus.Logger
	assistantID string
	now         func() time.Time

	mutex   sync.RWMutex
	threads map[string]*localThread
	runs    map[string]localRun
}

type localRun struct {
	threadID string
	cancel   context.CancelFunc
}

type localThread struct {
	mutex     sync.Mutex
	id        string
	created   time.Time
	messages  []conversation.Message
	workspace *localtools.Workspace
	interrupt *conversation.Interrupt
	pending   []llms.ToolCall
	running   bool
}

// NewLocalRuntime creates a runtime serving assistant config.AssistantID with model.
func NewLocalRuntime(model llms.Model, config *Config, logger *logrus.Logger) *LocalRuntime {
	return &LocalRuntime{
		model:       model,
		config:      config,
		logger:      logger,
		assistantID: config.AssistantID,
		now:         time.Now,
		threads:     make(map[string]*localThread),
		runs:        make(map[string]localRun),
	}
}

func (r *LocalRuntime) CreateThread(ctx context.Context) (agentclient.Thread, error) {
	th := &localThread{
		id:        uuid.NewString(),
		created:   r.now(),
		workspace: localtools.NewWorkspace(),
	}

	r.mutex.Lock()
	r.threads[th.id] = th
	r.mutex.Unlock()

	r.logger.WithField("threadID", th.id).Info("Created local thread")
	return agentclient.Thread{
		ID:        th.id,
		CreatedAt: th.created,
		Metadata:  map[string]any{"runtime": ModeLocal},
	}, nil
}

func (r *LocalRuntime) thread(threadID string) (*localThread, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	th, ok := r.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %q: %w", threadID, agentclient.ErrNotFound)
	}
	return th, nil
}

func (r *LocalRuntime) GetState(ctx context.Context, threadID string) (conversation.ThreadState, error) {
	th, err := r.thread(threadID)
	if err != nil {
		return conversation.ThreadState{}, err
	}
	th.mutex.Lock()
	defer th.mutex.Unlock()
	return th.snapshot(), nil
}

// snapshot copies the thread state. Callers hold th.mutex.
func (th *localThread) snapshot() conversation.ThreadState {
	state := conversation.ThreadState{
		Messages: conversation.Clone(th.messages),
		Todos:    th.workspace.Todos(),
		Files:    th.workspace.Files(),
	}
	if th.interrupt != nil {
		in := *th.interrupt
		state.Interrupt = &in
		state.Next = []string{interruptNodeTools}
	}
	return state
}

func (th *localThread) append(msg conversation.Message) {
	th.mutex.Lock()
	defer th.mutex.Unlock()
	th.messages = append(th.messages, msg)
}

func (th *localThread) history() []conversation.Message {
	th.mutex.Lock()
	defer th.mutex.Unlock()
	return conversation.Clone(th.messages)
}

func (r *LocalRuntime) GetAssistant(ctx context.Context, assistantID string) (agentclient.Assistant, error) {
	if assistantID != r.assistantID {
		return agentclient.Assistant{}, fmt.Errorf("assistant %q: %w", assistantID, agentclient.ErrNotFound)
	}

	box := r.toolbox(localtools.NewWorkspace(), nil)
	model := r.config.OllamaModel
	if r.config.LLMProvider == "gemini" {
		model = r.config.GeminiModel
	}

	return agentclient.Assistant{
		ID:      r.assistantID,
		GraphID: r.assistantID,
		Name:    "Deep Agent",
		Config: map[string]any{
			"provider":       r.config.LLMProvider,
			"model":          model,
			"tools":          box.names(),
			"subagents":      []string{generalPurposeAgent},
			"max_iterations": r.config.MaxIterations,
			"interrupt_before": func() []string {
				if r.config.InterruptBeforeTools {
					return []string{interruptNodeTools}
				}
				return []string{}
			}(),
		},
		Metadata: map[string]any{"runtime": ModeLocal},
	}, nil
}

func (r *LocalRuntime) Cancel(ctx context.Context, threadID, runID string) error {
	r.mutex.RLock()
	run, ok := r.runs[runID]
	r.mutex.RUnlock()

	if !ok || run.threadID != threadID {
		return fmt.Errorf("run %q: %w", runID, agentclient.ErrNotFound)
	}
	run.cancel()
	r.logger.WithFields(logrus.Fields{"threadID": threadID, "runID": runID}).Info("Local run cancelled")
	return nil
}

// Stream starts a run on the thread. A thread runs one run at a time.
func (r *LocalRuntime) Stream(ctx context.Context, threadID string, req agentclient.RunRequest) (<-chan agentclient.Event, error) {
	th, err := r.thread(threadID)
	if err != nil {
		return nil, err
	}
	if req.AssistantID != "" && req.AssistantID != r.assistantID {
		return nil, fmt.Errorf("assistant %q: %w", req.AssistantID, agentclient.ErrNotFound)
	}
	if req.Input == nil && req.Command == nil {
		return nil, &agentclient.StatusError{Code: http.StatusUnprocessableEntity, Body: "run needs an input message or a resume command"}
	}

	th.mutex.Lock()
	switch {
	case th.running:
		th.mutex.Unlock()
		return nil, &agentclient.StatusError{Code: http.StatusConflict, Body: "thread already has an active run"}
	case req.Command != nil && th.interrupt == nil:
		th.mutex.Unlock()
		return nil, &agentclient.StatusError{Code: http.StatusConflict, Body: "thread is not interrupted"}
	}
	th.running = true
	th.mutex.Unlock()

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)

	r.mutex.Lock()
	r.runs[runID] = localRun{threadID: threadID, cancel: cancel}
	r.mutex.Unlock()

	events := make(chan agentclient.Event, 16)
	go r.execute(runCtx, cancel, th, runID, req, events)
	return events, nil
}

func (r *LocalRuntime) execute(ctx context.Context, cancel context.CancelFunc, th *localThread, runID string, req agentclient.RunRequest, events chan<- agentclient.Event) {
	runLogger := r.logger.WithFields(logrus.Fields{"threadID": th.id, "runID": runID})
	handler := NewRunCallbackHandler(runLogger, r.config)

	emit := func(evt agentclient.Event) bool {
		evt.RunID = runID
		select {
		case events <- evt:
			return true
		case <-ctx.Done():
			return false
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			runLogger.WithField("panic", rec).Error("Local run panicked")
			emit(agentclient.Event{Kind: agentclient.EventError, Err: fmt.Errorf("agent run panicked: %v", rec)})
		}
		th.mutex.Lock()
		th.running = false
		th.mutex.Unlock()

		r.mutex.Lock()
		delete(r.runs, runID)
		r.mutex.Unlock()

		cancel()
		close(events)
	}()

	if !emit(agentclient.Event{Kind: agentclient.EventMetadata}) {
		return
	}
	handler.HandleChainStart(ctx, map[string]any{"resume": req.Command != nil, "input": req.Input != nil})

	box := r.toolbox(th.workspace, handler)
	err := r.run(ctx, th, req, box, handler, emit)
	if ctx.Err() != nil {
		runLogger.WithError(ctx.Err()).Info("Local run stopped")
		return
	}
	if err != nil {
		handler.HandleChainError(ctx, err)
		emit(agentclient.Event{Kind: agentclient.EventError, Err: err})
		return
	}
	handler.HandleChainEnd(ctx, map[string]any{"messages": len(th.history())})
	emit(agentclient.Event{Kind: agentclient.EventEnd})
}

func (r *LocalRuntime) run(ctx context.Context, th *localThread, req agentclient.RunRequest, box *toolbox, handler *RunCallbackHandler, emit func(agentclient.Event) bool) error {
	th.mutex.Lock()
	interrupted := th.interrupt != nil
	th.mutex.Unlock()

	switch {
	case req.Command != nil:
		r.resolveInterrupt(ctx, th, req.Command.Resume, box, handler, emit)
	case interrupted:
		// A new message while tools await approval implicitly rejects them.
		r.resolveInterrupt(ctx, th, resumeReject, box, handler, emit)
	}

	if req.Input != nil {
		msg := conversation.Clone([]conversation.Message{*req.Input})[0]
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		msg.Type = conversation.TypeHuman
		th.append(msg)
		if !emit(agentclient.Event{Kind: agentclient.EventMessage, Message: msg}) {
			return ctx.Err()
		}
	}

	interruptBefore := r.config.InterruptBeforeTools || slices.Contains(req.InterruptBefore, interruptNodeTools)

	for i := 0; i < r.config.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		system, err := r.systemPrompt(box)
		if err != nil {
			return err
		}
		messages := append([]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, system)}, toLLMMessages(th.history())...)

		choice, err := r.generate(ctx, messages, box, handler)
		if err != nil {
			return err
		}

		calls := withCallIDs(choice.ToolCalls)
		aiMsg := aiMessage(uuid.NewString(), choice.Content, calls)
		th.append(aiMsg)
		if !emit(agentclient.Event{Kind: agentclient.EventMessage, Message: aiMsg}) {
			return ctx.Err()
		}

		if len(calls) == 0 {
			return r.emitValues(th, emit)
		}

		if interruptBefore {
			th.mutex.Lock()
			th.pending = calls
			th.interrupt = &conversation.Interrupt{ID: uuid.NewString(), Value: interruptValue(calls)}
			th.mutex.Unlock()
			return r.emitValues(th, emit)
		}

		r.runTools(ctx, th, calls, box, handler, emit)
		if err := r.emitValues(th, emit); err != nil {
			return err
		}
	}

	return fmt.Errorf("max iterations (%d) reached without a final answer", r.config.MaxIterations)
}

func (r *LocalRuntime) emitValues(th *localThread, emit func(agentclient.Event) bool) error {
	th.mutex.Lock()
	state := th.snapshot()
	th.mutex.Unlock()
	if !emit(agentclient.Event{Kind: agentclient.EventValues, State: state}) {
		return context.Canceled
	}
	return nil
}

func (r *LocalRuntime) generate(ctx context.Context, messages []llms.MessageContent, box *toolbox, handler *RunCallbackHandler) (*llms.ContentChoice, error) {
	handler.HandleLLMGenerateContentStart(ctx, messages)
	resp, err := r.model.GenerateContent(ctx, messages, llms.WithTools(box.definitions()))
	if err != nil {
		handler.HandleLLMError(ctx, err)
		return nil, fmt.Errorf("model call failed: %w", err)
	}
	handler.HandleLLMGenerateContentEnd(ctx, resp)
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return nil, errors.New("model returned no choices")
	}
	return resp.Choices[0], nil
}

func (r *LocalRuntime) systemPrompt(box *toolbox) (string, error) {
	prompt := CreateDeepAgentPrompt(box.langchainTools(), []string{generalPurposeAgent})
	system, err := prompt.Format(map[string]any{"today": r.now().Format("Monday, January 2, 2006")})
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return system, nil
}

// resolveInterrupt answers the pending tool calls, either by rejecting or executing them.
func (r *LocalRuntime) resolveInterrupt(ctx context.Context, th *localThread, resume any, box *toolbox, handler *RunCallbackHandler, emit func(agentclient.Event) bool) {
	th.mutex.Lock()
	pending := th.pending
	th.pending = nil
	th.interrupt = nil
	th.mutex.Unlock()

	if !isReject(resume) {
		r.runTools(ctx, th, pending, box, handler, emit)
		return
	}
	for _, call := range pending {
		msg := toolMessage(call, rejectedToolResult)
		th.append(msg)
		if !emit(agentclient.Event{Kind: agentclient.EventMessage, Message: msg}) {
			return
		}
	}
}

func isReject(resume any) bool {
	switch v := resume.(type) {
	case string:
		return strings.EqualFold(v, resumeReject)
	case map[string]any:
		t, _ := v["type"].(string)
		return strings.EqualFold(t, resumeReject)
	}
	return false
}

func (r *LocalRuntime) runTools(ctx context.Context, th *localThread, calls []llms.ToolCall, box *toolbox, handler *RunCallbackHandler, emit func(agentclient.Event) bool) {
	for _, call := range calls {
		if ctx.Err() != nil {
			return
		}
		msg := toolMessage(call, box.call(ctx, call, handler))
		th.append(msg)
		if !emit(agentclient.Event{Kind: agentclient.EventMessage, Message: msg}) {
			return
		}
	}
}

// withCallIDs assigns identifiers to tool calls the provider left unnamed.
func withCallIDs(calls []llms.ToolCall) []llms.ToolCall {
	out := make([]llms.ToolCall, 0, len(calls))
	for _, call := range calls {
		if call.FunctionCall == nil {
			continue
		}
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		if call.Type == "" {
			call.Type = "function"
		}
		out = append(out, call)
	}
	return out
}

// aiMessage records a model turn in the provider tool-call shape.
func aiMessage(id, content string, calls []llms.ToolCall) conversation.Message {
	msg := conversation.Message{
		ID:      id,
		Type:    conversation.TypeAI,
		Content: conversation.TextContent(content),
	}
	for _, call := range calls {
		args := call.FunctionCall.Arguments
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		msg.AdditionalKwargs.ToolCalls = append(msg.AdditionalKwargs.ToolCalls, conversation.ProviderCall{
			ID:   call.ID,
			Type: call.Type,
			Function: conversation.ProviderFunction{
				Name:      call.FunctionCall.Name,
				Arguments: args,
			},
		})
	}
	return msg
}

func toolMessage(call llms.ToolCall, result string) conversation.Message {
	return conversation.Message{
		ID:         uuid.NewString(),
		Type:       conversation.TypeTool,
		Name:       call.FunctionCall.Name,
		ToolCallID: call.ID,
		Content:    conversation.TextContent(result),
	}
}

func interruptValue(calls []llms.ToolCall) map[string]any {
	requests := make([]map[string]any, 0, len(calls))
	for _, call := range calls {
		args := map[string]any{}
		_ = json.Unmarshal([]byte(call.FunctionCall.Arguments), &args)
		requests = append(requests, map[string]any{
			"id":   call.ID,
			"name": call.FunctionCall.Name,
			"args": args,
		})
	}
	return map[string]any{
		"description":     "Approve or reject the pending tool calls",
		"action_requests": requests,
	}
}

// toLLMMessages converts a thread log to model input. System and unknown messages are skipped.
func toLLMMessages(messages []conversation.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		text := m.Content.ExtractText()
		switch m.Kind() {
		case conversation.KindHuman:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, text))
		case conversation.KindAI:
			var parts []llms.ContentPart
			if text != "" {
				parts = append(parts, llms.TextContent{Text: text})
			}
			for _, tc := range conversation.NormalizeToolCalls(m) {
				args, err := json.Marshal(tc.Args)
				if err != nil {
					args = []byte("{}")
				}
				parts = append(parts, llms.ToolCall{
					ID:           tc.ID,
					Type:         "function",
					FunctionCall: &llms.FunctionCall{Name: tc.Name, Arguments: string(args)},
				})
			}
			if len(parts) > 0 {
				out = append(out, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})
			}
		case conversation.KindTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Name:       m.Name,
					Content:    text,
				}},
			})
		}
	}
	return out
}
