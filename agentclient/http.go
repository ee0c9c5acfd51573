package agentclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"deepconsole/conversation"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var clientLogger = logrus.WithField("component", "agentclient")

// streamModes requested for every run: full state snapshots plus per-message updates.
var streamModes = []string{"values", "messages"}

// HTTPClient drives a remote agent deployment over its REST and SSE API.
type HTTPClient struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithAPIKey sets the x-api-key header sent with every request.
func WithAPIKey(key string) HTTPOption {
	return func(c *HTTPClient) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// WithRateLimit caps outbound requests per second. Zero or negative disables limiting.
func WithRateLimit(rps float64) HTTPOption {
	return func(c *HTTPClient) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMaxRetries bounds retries of unary calls on transient failures.
func WithMaxRetries(n uint64) HTTPOption {
	return func(c *HTTPClient) { c.maxRetries = n }
}

// NewHTTPClient validates the deployment URL and builds a client.
func NewHTTPClient(deploymentURL string, opts ...HTTPOption) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(deploymentURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse deployment url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("deployment url %q: scheme must be http or https", deploymentURL)
	}
	c := &HTTPClient{
		baseURL:    u,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Inf, 0),
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateThread implements Client.
func (c *HTTPClient) CreateThread(ctx context.Context) (Thread, error) {
	var th Thread
	if err := c.do(ctx, http.MethodPost, "/threads", map[string]any{}, &th); err != nil {
		return Thread{}, fmt.Errorf("create thread: %w", err)
	}
	return th, nil
}

// GetState implements Client.
func (c *HTTPClient) GetState(ctx context.Context, threadID string) (conversation.ThreadState, error) {
	var raw wireState
	if err := c.do(ctx, http.MethodGet, "/threads/"+url.PathEscape(threadID)+"/state", nil, &raw); err != nil {
		return conversation.ThreadState{}, fmt.Errorf("get state for thread %s: %w", threadID, err)
	}
	return raw.toState(), nil
}

// GetAssistant implements Client.
func (c *HTTPClient) GetAssistant(ctx context.Context, assistantID string) (Assistant, error) {
	var a Assistant
	if err := c.do(ctx, http.MethodGet, "/assistants/"+url.PathEscape(assistantID), nil, &a); err != nil {
		return Assistant{}, fmt.Errorf("get assistant %s: %w", assistantID, err)
	}
	return a, nil
}

// Cancel implements Client.
func (c *HTTPClient) Cancel(ctx context.Context, threadID, runID string) error {
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, map[string]any{}, nil); err != nil {
		return fmt.Errorf("cancel run %s: %w", runID, err)
	}
	return nil
}

// Stream implements Client. The HTTP response body is owned by the returned channel's
// producer and closed when the stream ends.
func (c *HTTPClient) Stream(ctx context.Context, threadID string, req RunRequest) (<-chan Event, error) {
	body := map[string]any{
		"assistant_id": req.AssistantID,
		"stream_mode":  streamModes,
	}
	if req.Input != nil {
		body["input"] = map[string]any{"messages": []conversation.Message{*req.Input}}
	}
	if req.Command != nil {
		body["command"] = req.Command
	}
	if len(req.InterruptBefore) > 0 {
		body["interrupt_before"] = req.InterruptBefore
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode run request: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/threads/"+url.PathEscape(threadID)+"/runs/stream"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("start run on thread %s: %w", threadID, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("start run on thread %s: %w", threadID, statusError(resp))
	}

	events := make(chan Event, 16)
	go c.pump(ctx, resp.Body, events)
	return events, nil
}

func (c *HTTPClient) pump(ctx context.Context, body io.ReadCloser, events chan<- Event) {
	defer close(events)
	defer body.Close()

	send := func(evt Event) bool {
		select {
		case events <- evt:
			return true
		case <-ctx.Done():
			return false
		}
	}

	reader := bufio.NewReader(body)
	for {
		name, data, err := readSSEEvent(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				send(Event{Kind: EventEnd})
				return
			}
			if ctx.Err() == nil {
				send(Event{Kind: EventError, Err: fmt.Errorf("read run stream: %w", err)})
			}
			return
		}

		evts, err := decodeEvent(name, data)
		if err != nil {
			clientLogger.WithError(err).WithField("event", name).Warn("Skipping undecodable stream event")
			continue
		}
		for _, evt := range evts {
			if !send(evt) {
				return
			}
			if evt.Kind == EventEnd || evt.Kind == EventError {
				return
			}
		}
	}
}

// decodeEvent maps one SSE frame to zero or more run events.
func decodeEvent(name string, data []byte) ([]Event, error) {
	switch {
	case name == "metadata":
		var meta struct {
			RunID string `json:"run_id"`
		}
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, err
		}
		return []Event{{Kind: EventMetadata, RunID: meta.RunID}}, nil
	case name == "values":
		var values wireValues
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, err
		}
		return []Event{{Kind: EventValues, State: values.toState(nil)}}, nil
	case strings.HasPrefix(name, "messages/partial"), strings.HasPrefix(name, "messages/complete"):
		var msgs []conversation.Message
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, err
		}
		out := make([]Event, 0, len(msgs))
		for _, m := range msgs {
			if m.ID == "" {
				continue
			}
			out = append(out, Event{Kind: EventMessage, Message: m})
		}
		return out, nil
	case name == "error":
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &e)
		msg := strings.TrimSpace(e.Error + ": " + e.Message)
		if e.Error == "" && e.Message == "" {
			msg = string(data)
		}
		return []Event{{Kind: EventError, Err: errors.New(msg)}}, nil
	case name == "end":
		return []Event{{Kind: EventEnd}}, nil
	default:
		return nil, nil
	}
}

func (c *HTTPClient) endpoint(path string) string {
	return c.baseURL.String() + path
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}

// do performs a unary JSON call, retrying transient failures with exponential backoff.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second

	attempt := 0
	op := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
		if err != nil {
			return backoff.Permanent(err)
		}
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			clientLogger.WithError(err).WithFields(logrus.Fields{
				"method":  method,
				"path":    path,
				"attempt": attempt,
			}).Warn("Agent runtime request failed, retrying")
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrNotFound)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return statusError(resp)
		case resp.StatusCode >= 300:
			return backoff.Permanent(statusError(resp))
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
}

// readSSEEvent reads one event frame, returning its name and joined data lines.
func readSSEEvent(reader *bufio.Reader) (string, []byte, error) {
	var event string
	var data []byte
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && (event != "" || len(data) > 0) {
				return event, data, nil
			}
			return "", nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if event == "" && len(data) == 0 {
				continue
			}
			return event, data, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if after, ok := strings.CutPrefix(line, "event:"); ok {
			event = strings.TrimSpace(after)
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, strings.TrimPrefix(after, " ")...)
		}
	}
}

// wireValues is the state object a deep agent graph publishes.
type wireValues struct {
	Messages   []conversation.Message `json:"messages"`
	Todos      []conversation.Todo    `json:"todos"`
	Files      wireFiles              `json:"files"`
	Interrupts []wireInterrupt        `json:"__interrupt__"`
}

// wireFiles maps paths to file contents. Deployments publish either plain strings or file
// objects such as {"content": ["line", ...], "created_at": ..., "modified_at": ...}.
type wireFiles map[string]string

func (f *wireFiles) UnmarshalJSON(data []byte) error {
	*f = nil
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decode files: %w", err)
	}
	if entries == nil {
		return nil
	}
	files := make(wireFiles, len(entries))
	for path, raw := range entries {
		files[path] = fileContent(raw)
	}
	*f = files
	return nil
}

// fileContent extracts the text of one file entry, falling back to the raw JSON.
func fileContent(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var obj struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && len(obj.Content) > 0 {
		if err := json.Unmarshal(obj.Content, &text); err == nil {
			return text
		}
		var lines []string
		if err := json.Unmarshal(obj.Content, &lines); err == nil {
			return strings.Join(lines, "\n")
		}
	}
	return string(bytes.TrimSpace(raw))
}

type wireInterrupt struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

type wireState struct {
	Values wireValues `json:"values"`
	Next   []string   `json:"next"`
	Tasks  []struct {
		Interrupts []wireInterrupt `json:"interrupts"`
	} `json:"tasks"`
}

func (v wireValues) toState(next []string) conversation.ThreadState {
	state := conversation.ThreadState{
		Messages: v.Messages,
		Todos:    v.Todos,
		Files:    map[string]string(v.Files),
		Next:     next,
	}
	if len(v.Interrupts) > 0 {
		state.Interrupt = &conversation.Interrupt{ID: v.Interrupts[0].ID, Value: v.Interrupts[0].Value}
	}
	return state
}

func (s wireState) toState() conversation.ThreadState {
	state := s.Values.toState(s.Next)
	if state.Interrupt == nil {
		for _, task := range s.Tasks {
			if len(task.Interrupts) > 0 {
				in := task.Interrupts[0]
				state.Interrupt = &conversation.Interrupt{ID: in.ID, Value: in.Value}
				break
			}
		}
	}
	return state
}
