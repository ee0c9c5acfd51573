package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"deepconsole/agentclient"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type testServer struct {
	server *Server
	echo   *echo.Echo
}

func newTestServer(t *testing.T, model llms.Model, config *Config) *testServer {
	t.Helper()
	logger := testLogger()
	settings, err := NewSettingsStore(filepath.Join(t.TempDir(), "settings.yaml"), Settings{AssistantID: config.AssistantID}, logger)
	require.NoError(t, err)

	server, err := NewServerWithRuntime(config, logger, NewLocalRuntime(model, config, logger), settings)
	require.NoError(t, err)
	t.Cleanup(server.Close)

	e := echo.New()
	server.RegisterRoutes(e)
	return &testServer{server: server, echo: e}
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createThread(t *testing.T) string {
	t.Helper()
	rec := ts.do(http.MethodPost, "/threads", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var thread agentclient.Thread
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &thread))
	require.NotEmpty(t, thread.ID)
	return thread.ID
}

// frames parses an SSE response body into stream messages.
func frames(t *testing.T, body string) []StreamMessage {
	t.Helper()
	var out []StreamMessage
	for _, chunk := range strings.Split(body, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		require.True(t, strings.HasPrefix(chunk, "data: "), chunk)
		var msg StreamMessage
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data: ")), &msg))
		out = append(out, msg)
	}
	return out
}

func frameTypes(msgs []StreamMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

func lastView(t *testing.T, msgs []StreamMessage) StreamMessage {
	t.Helper()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == StreamView {
			return msgs[i]
		}
	}
	require.Fail(t, "no view frame")
	return StreamMessage{}
}

func TestServerStreamRunRelaysViews(t *testing.T) {
	ts := newTestServer(t, newScriptedModel(textResponse("Hello there")), testConfig())
	threadID := ts.createThread(t)

	rec := ts.do(http.MethodPost, "/threads/"+threadID+"/runs/stream", `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	msgs := frames(t, rec.Body.String())
	types := frameTypes(msgs)
	require.Equal(t, StreamThread, types[0])
	require.Equal(t, StreamView, types[1])
	require.Contains(t, types, StreamRunStarted)
	require.NotContains(t, types, StreamError)
	require.Equal(t, StreamDone, types[len(types)-1])
	require.True(t, msgs[len(msgs)-1].Complete)

	// The optimistic view already shows the user's message.
	require.Len(t, msgs[1].View.Turns, 1)
	require.Equal(t, "hi", msgs[1].View.Turns[0].Content)

	final := lastView(t, msgs)
	require.False(t, final.View.Loading)
	require.Len(t, final.View.Turns, 2)
	require.Equal(t, "Hello there", final.View.Turns[1].Content)
	require.True(t, final.View.Turns[1].ShowAvatar)

	// The run is no longer active once the stream is done.
	require.Empty(t, ts.server.runs.Active())
}

func TestServerStreamsInterrupts(t *testing.T) {
	config := testConfig()
	config.InterruptBeforeTools = true
	model := newScriptedModel(
		toolResponse("", toolCall("call-1", "write_file", `{"file_path":"/a.md","content":"a"}`)),
		textResponse("Skipped."),
	)
	ts := newTestServer(t, model, config)
	threadID := ts.createThread(t)

	msgs := frames(t, ts.do(http.MethodPost, "/threads/"+threadID+"/runs/stream", `{"message":"write a"}`).Body.String())
	require.Contains(t, frameTypes(msgs), StreamInterrupt)
	view := lastView(t, msgs).View
	require.NotNil(t, view.Interrupt)
	require.Equal(t, "pending", string(view.Turns[1].ToolCalls[0].Status))

	rec := ts.do(http.MethodPost, "/threads/"+threadID+"/resume", `{"resume":"reject"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs = frames(t, rec.Body.String())
	require.NotContains(t, frameTypes(msgs), StreamInterrupt)
	view = lastView(t, msgs).View
	require.Nil(t, view.Interrupt)
	require.Equal(t, "completed", string(view.Turns[1].ToolCalls[0].Status))
	require.Empty(t, view.Files)
}

func TestServerRunValidation(t *testing.T) {
	ts := newTestServer(t, newScriptedModel(), testConfig())
	threadID := ts.createThread(t)

	require.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/threads/"+threadID+"/runs/stream", `{"message":"  "}`).Code)
	require.Equal(t, http.StatusNotFound, ts.do(http.MethodPost, "/threads/missing/runs/stream", `{"message":"hi"}`).Code)
	require.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/threads/"+threadID+"/resume", `{}`).Code)
	require.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/threads/"+threadID+"/resume", `{"resume":"reject"}`).Code)
}

func TestServerGetThreadAndAssistant(t *testing.T) {
	model := newScriptedModel(
		toolResponse("", toolCall("call-1", "write_todos", `{"todos":[{"content":"plan","status":"in_progress"}]}`)),
		textResponse("Planned."),
	)
	ts := newTestServer(t, model, testConfig())
	threadID := ts.createThread(t)
	ts.do(http.MethodPost, "/threads/"+threadID+"/runs/stream", `{"message":"plan it"}`)

	rec := ts.do(http.MethodGet, "/threads/"+threadID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ThreadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, threadID, resp.View.ThreadID)
	require.Len(t, resp.View.Turns, 3)
	require.Len(t, resp.View.Todos, 1)
	require.Equal(t, "plan", resp.View.Todos[0].Content)
	require.NotNil(t, resp.Assistant)
	require.Equal(t, "deepagent", resp.Assistant.ID)

	require.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/threads/missing", "").Code)
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/assistants/deepagent", "").Code)
	require.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/assistants/other", "").Code)
}

func TestServerListAndDeleteThreads(t *testing.T) {
	ts := newTestServer(t, newScriptedModel(), testConfig())
	threadID := ts.createThread(t)

	var list struct {
		Threads []ThreadSummary `json:"threads"`
	}
	require.NoError(t, json.Unmarshal(ts.do(http.MethodGet, "/threads", "").Body.Bytes(), &list))
	require.Len(t, list.Threads, 1)
	require.Equal(t, threadID, list.Threads[0].ThreadID)

	require.Equal(t, http.StatusOK, ts.do(http.MethodDelete, "/threads/"+threadID, "").Code)
	require.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/threads/"+threadID, "").Code)
}

func TestServerStopUnknownRun(t *testing.T) {
	ts := newTestServer(t, newScriptedModel(), testConfig())

	require.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/stop", `{}`).Code)
	rec := ts.do(http.MethodPost, "/stop", `{"runId":"nope"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp StopResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Stopped)
}

func TestServerStopActiveRun(t *testing.T) {
	ts := newTestServer(t, blockingModel{}, testConfig())
	threadID := ts.createThread(t)

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- ts.do(http.MethodPost, "/threads/"+threadID+"/runs/stream", `{"message":"wait"}`)
	}()

	var runID string
	require.Eventually(t, func() bool {
		active := ts.server.runs.Active()
		if len(active) == 0 {
			return false
		}
		runID = active[0].RunID
		return true
	}, 5*time.Second, 10*time.Millisecond)

	rec := ts.do(http.MethodPost, "/stop", `{"runId":"`+runID+`","threadId":"other"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	_, stillActive := ts.server.runs.Lookup(runID)
	require.True(t, stillActive)

	rec = ts.do(http.MethodPost, "/stop", `{"runId":"`+runID+`","threadId":"`+threadID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	stream := <-done
	types := frameTypes(frames(t, stream.Body.String()))
	require.Contains(t, types, StreamStopped)
	require.Equal(t, StreamDone, types[len(types)-1])
}

func TestServerSettings(t *testing.T) {
	ts := newTestServer(t, newScriptedModel(), testConfig())

	var got SettingsResponse
	require.NoError(t, json.Unmarshal(ts.do(http.MethodGet, "/settings", "").Body.Bytes(), &got))
	require.Equal(t, ModeLocal, got.Mode)

	require.Equal(t, http.StatusBadRequest, ts.do(http.MethodPut, "/settings", `{"deploymentUrl":"ftp://x","assistantId":"a"}`).Code)

	rec := ts.do(http.MethodPut, "/settings", `{"deploymentUrl":"https://agent.example.com","assistantId":"research","apiKey":"lsv2-secret-1234"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, ModeRemote, got.Mode)
	require.Equal(t, "****1234", got.APIKey)
	_, remote := ts.server.activeClient().(*agentclient.HTTPClient)
	require.True(t, remote)

	// An empty key keeps the stored one.
	rec = ts.do(http.MethodPut, "/settings", `{"deploymentUrl":"","assistantId":"deepagent"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "lsv2-secret-1234", ts.server.settings.Get().APIKey)
	require.Same(t, ts.server.local, ts.server.activeClient())
}

func TestServerStatus(t *testing.T) {
	ts := newTestServer(t, newScriptedModel(), testConfig())
	ts.createThread(t)

	var status map[string]any
	require.NoError(t, json.Unmarshal(ts.do(http.MethodGet, "/status", "").Body.Bytes(), &status))
	require.Equal(t, "healthy", status["status"])
	require.Equal(t, ModeLocal, status["mode"])
	threads := status["threads"].(map[string]any)
	require.Equal(t, float64(1), threads["totalThreads"])
}
