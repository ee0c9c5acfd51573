package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"deepconsole/agentclient"
	"deepconsole/conversation"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	local    *LocalRuntime
	store    *ThreadStore
	runs     *RunRegistry
	settings *SettingsStore
	config   *Config
	logger   *logrus.Logger
	started  time.Time

	clientMutex sync.RWMutex
	client      agentclient.Client
}

// NewServer creates a server with the configured LLM, local runtime and settings store.
func NewServer(config *Config, logger *logrus.Logger) (*Server, error) {
	logger.Info("Starting server initialization")

	llm, err := newLLM(config, logger)
	if err != nil {
		return nil, err
	}

	// Wrap the LLM with the cleaning wrapper to handle think tags
	cleanedLLM := NewCleaningLLMWrapper(llm, config, logger)
	local := NewLocalRuntime(cleanedLLM, config, logger)

	defaults := Settings{AssistantID: config.AssistantID, APIKey: config.APIKey}
	if config.AgentMode == ModeRemote {
		defaults.DeploymentURL = config.DeploymentURL
	}
	settings, err := NewSettingsStore(config.SettingsFile, defaults, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to load settings")
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	return NewServerWithRuntime(config, logger, local, settings)
}

// NewServerWithRuntime assembles a server around an existing local runtime and settings store.
func NewServerWithRuntime(config *Config, logger *logrus.Logger, local *LocalRuntime, settings *SettingsStore) (*Server, error) {
	s := &Server{
		local:    local,
		store:    NewThreadStore(config.ThreadMaxAge, config.CleanupInterval, logger),
		runs:     NewRunRegistry(),
		settings: settings,
		config:   config,
		logger:   logger,
		started:  time.Now(),
	}

	client, err := s.clientFor(settings.Get())
	if err != nil {
		s.store.Close()
		logger.WithError(err).Error("Failed to create agent client")
		return nil, fmt.Errorf("failed to create agent client: %w", err)
	}
	s.client = client

	logger.WithField("mode", settings.Get().Mode()).Info("Server initialization completed successfully")
	return s, nil
}

func newLLM(config *Config, logger *logrus.Logger) (llms.Model, error) {
	switch config.LLMProvider {
	case "gemini":
		logger.WithField("provider", "gemini").Info("Initializing Gemini LLM")
		if config.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini API key is required when using gemini provider. Set GEMINI_API_KEY environment variable")
		}
		llm, err := googleai.New(
			context.Background(),
			googleai.WithAPIKey(config.GeminiAPIKey),
			googleai.WithDefaultModel(config.GeminiModel),
		)
		if err != nil {
			logger.WithError(err).WithField("model", config.GeminiModel).Error("Failed to initialize Gemini LLM")
			return nil, fmt.Errorf("failed to initialize Gemini LLM: %w", err)
		}
		logger.WithField("model", config.GeminiModel).Info("Gemini LLM initialized successfully")
		return llm, nil

	default:
		logger.WithFields(logrus.Fields{
			"provider": "ollama",
			"endpoint": config.OllamaEndpoint,
			"model":    config.OllamaModel,
		}).Info("Initializing Ollama LLM")
		llm, err := ollama.New(
			ollama.WithServerURL(config.OllamaEndpoint),
			ollama.WithModel(config.OllamaModel),
		)
		if err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"endpoint": config.OllamaEndpoint,
				"model":    config.OllamaModel,
			}).Error("Failed to initialize Ollama LLM")
			return nil, fmt.Errorf("failed to initialize Ollama LLM: %w", err)
		}
		logger.Info("Ollama LLM initialized successfully")
		return llm, nil
	}
}

// Close stops background work.
func (s *Server) Close() {
	s.store.Close()
}

func (s *Server) clientFor(settings Settings) (agentclient.Client, error) {
	if settings.Mode() == ModeLocal {
		return s.local, nil
	}
	return agentclient.NewHTTPClient(
		settings.DeploymentURL,
		agentclient.WithAPIKey(settings.APIKey),
		agentclient.WithRateLimit(s.config.RemoteRPS),
	)
}

func (s *Server) activeClient() agentclient.Client {
	s.clientMutex.RLock()
	defer s.clientMutex.RUnlock()
	return s.client
}

func (s *Server) requestLogger(c echo.Context, endpoint string) *logrus.Entry {
	requestID := c.Request().Header.Get(echo.HeaderXRequestID)
	if requestID == "" {
		requestID = c.Response().Header().Get(echo.HeaderXRequestID)
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return s.logger.WithFields(logrus.Fields{
		"requestId": requestID,
		"endpoint":  endpoint,
		"method":    c.Request().Method,
		"clientIP":  c.RealIP(),
	})
}

// errorStatus maps runtime errors to the status returned to the browser.
func errorStatus(err error) int {
	var statusErr *agentclient.StatusError
	switch {
	case errors.Is(err, agentclient.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500:
		return statusErr.Code
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleCreateThread(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/threads")

	thread, err := s.activeClient().CreateThread(c.Request().Context())
	if err != nil {
		requestLogger.WithError(err).Error("Failed to create thread")
		return c.JSON(errorStatus(err), map[string]string{"error": "Failed to create thread"})
	}
	s.store.Ensure(thread.ID)

	requestLogger.WithField("threadID", thread.ID).Info("Thread created")
	return c.JSON(http.StatusCreated, thread)
}

func (s *Server) handleListThreads(c echo.Context) error {
	threads := s.store.List()
	s.requestLogger(c, "/threads").WithField("threadCount", len(threads)).Debug("Threads listed")
	return c.JSON(http.StatusOK, map[string]interface{}{"threads": threads})
}

// handleGetThread loads the thread state and the assistant configuration concurrently.
// A failing assistant lookup does not fail the request.
func (s *Server) handleGetThread(c echo.Context) error {
	threadID := c.Param("threadId")
	requestLogger := s.requestLogger(c, "/threads/:threadId").WithField("threadID", threadID)

	client := s.activeClient()
	assistantID := s.settings.Get().AssistantID

	var (
		state     conversation.ThreadState
		assistant *agentclient.Assistant
	)
	g, ctx := errgroup.WithContext(c.Request().Context())
	g.Go(func() error {
		st, err := client.GetState(ctx, threadID)
		if err != nil {
			return err
		}
		state = st
		return nil
	})
	g.Go(func() error {
		a, err := client.GetAssistant(ctx, assistantID)
		if err != nil {
			requestLogger.WithError(err).Warn("Assistant configuration unavailable")
			return nil
		}
		assistant = &a
		return nil
	})
	if err := g.Wait(); err != nil {
		requestLogger.WithError(err).Warn("Failed to load thread state")
		return c.JSON(errorStatus(err), map[string]string{"error": "Thread not available"})
	}

	state = s.store.Replace(threadID, state)
	if unmatched := conversation.UnmatchedResults(state.Messages); len(unmatched) > 0 {
		requestLogger.WithField("toolCallIds", unmatched).Debug("Dropped tool results without a matching call")
	}

	view := conversation.BuildView(threadID, state, s.threadRunning(threadID))
	requestLogger.WithFields(logrus.Fields{
		"messageCount": len(state.Messages),
		"turnCount":    len(view.Turns),
	}).Info("Thread loaded")

	return c.JSON(http.StatusOK, ThreadResponse{View: view, Assistant: assistant})
}

func (s *Server) handleDeleteThread(c echo.Context) error {
	threadID := c.Param("threadId")
	requestLogger := s.requestLogger(c, "/threads/:threadId").WithField("threadID", threadID)

	if !s.store.Delete(threadID) {
		requestLogger.Warn("Thread not found for deletion")
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Thread not found"})
	}

	requestLogger.Info("Thread mirror deleted")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":  "Thread deleted successfully",
		"threadId": threadID,
	})
}

func (s *Server) threadRunning(threadID string) bool {
	for _, run := range s.runs.Active() {
		if run.ThreadID == threadID {
			return true
		}
	}
	return false
}

func (s *Server) handleStreamRun(c echo.Context) error {
	threadID := c.Param("threadId")
	requestLogger := s.requestLogger(c, "/threads/:threadId/runs/stream").WithField("threadID", threadID)

	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse run request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Message is required"})
	}

	assistantID := req.AssistantID
	if assistantID == "" {
		assistantID = s.settings.Get().AssistantID
	}

	input := conversation.Message{
		ID:      uuid.NewString(),
		Type:    conversation.TypeHuman,
		Content: conversation.TextContent(req.Message),
	}
	var interruptBefore []string
	if s.config.InterruptBeforeTools {
		interruptBefore = []string{interruptNodeTools}
	}

	requestLogger.WithFields(logrus.Fields{
		"messageLength": len(req.Message),
		"assistantId":   assistantID,
	}).Info("Received run request")

	return s.streamRun(c, requestLogger, threadID, agentclient.RunRequest{
		AssistantID:     assistantID,
		Input:           &input,
		InterruptBefore: interruptBefore,
	})
}

func (s *Server) handleResume(c echo.Context) error {
	threadID := c.Param("threadId")
	requestLogger := s.requestLogger(c, "/threads/:threadId/resume").WithField("threadID", threadID)

	var req ResumeRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse resume request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.Resume == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Resume value is required"})
	}

	requestLogger.WithField("resume", req.Resume).Info("Received resume request")

	var interruptBefore []string
	if s.config.InterruptBeforeTools {
		interruptBefore = []string{interruptNodeTools}
	}
	return s.streamRun(c, requestLogger, threadID, agentclient.RunRequest{
		AssistantID:     s.settings.Get().AssistantID,
		Command:         &agentclient.Command{Resume: req.Resume},
		InterruptBefore: interruptBefore,
	})
}

// streamRun starts a run and relays its events as SSE frames carrying reconciled views.
func (s *Server) streamRun(c echo.Context, requestLogger *logrus.Entry, threadID string, req agentclient.RunRequest) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.RequestTimeout)
	defer cancel()

	startTime := time.Now()
	events, err := s.activeClient().Stream(ctx, threadID, req)
	if err != nil {
		requestLogger.WithError(err).Error("Failed to start run")
		return c.JSON(errorStatus(err), map[string]string{"error": s.getErrorMessage(err)})
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	s.sendStreamMessage(c, StreamMessage{Type: StreamThread, ThreadID: threadID})
	if req.Input != nil {
		s.sendView(c, threadID, s.store.Upsert(threadID, *req.Input), true)
	}

	var runID string
	defer func() {
		if runID != "" {
			s.runs.Remove(runID)
		}
	}()

	failed := false
	for evt := range events {
		switch evt.Kind {
		case agentclient.EventMetadata:
			runID = evt.RunID
			s.runs.Add(runID, threadID, cancel)
			requestLogger.WithField("runID", runID).Info("Run started")
			s.sendStreamMessage(c, StreamMessage{Type: StreamRunStarted, ThreadID: threadID, RunID: runID})

		case agentclient.EventValues:
			state := s.store.Replace(threadID, evt.State)
			s.sendView(c, threadID, state, true)
			if state.Interrupt != nil {
				s.sendStreamMessage(c, StreamMessage{
					Type:      StreamInterrupt,
					ThreadID:  threadID,
					RunID:     runID,
					Interrupt: state.Interrupt,
				})
			}

		case agentclient.EventMessage:
			s.sendView(c, threadID, s.store.Upsert(threadID, evt.Message), true)

		case agentclient.EventError:
			failed = true
			requestLogger.WithError(evt.Err).WithField("runID", runID).Error("Run failed")
			s.sendStreamMessage(c, StreamMessage{
				Type:     StreamError,
				ThreadID: threadID,
				RunID:    runID,
				Content:  s.getErrorMessage(evt.Err),
			})

		case agentclient.EventEnd:
			requestLogger.WithField("runID", runID).Debug("Run stream ended")
		}
	}

	executionTime := time.Since(startTime)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		requestLogger.WithField("executionTime", executionTime).Warn("Run timed out")
		s.sendStreamMessage(c, StreamMessage{Type: StreamError, ThreadID: threadID, RunID: runID, Content: s.getErrorMessage(ctx.Err())})
	case ctx.Err() != nil:
		requestLogger.WithField("executionTime", executionTime).Info("Run stopped")
		s.sendStreamMessage(c, StreamMessage{Type: StreamStopped, ThreadID: threadID, RunID: runID, Content: "Agent execution was stopped"})
	case !failed:
		requestLogger.WithFields(logrus.Fields{"runID": runID, "executionTime": executionTime}).Info("Run completed successfully")
	}

	state, _ := s.store.Get(threadID)
	s.sendView(c, threadID, state, false)
	s.sendStreamMessage(c, StreamMessage{Type: StreamDone, ThreadID: threadID, RunID: runID, Complete: true})
	return nil
}

func (s *Server) sendView(c echo.Context, threadID string, state conversation.ThreadState, loading bool) {
	view := conversation.BuildView(threadID, state, loading)
	s.sendStreamMessage(c, StreamMessage{Type: StreamView, ThreadID: threadID, View: &view})
}

func (s *Server) sendStreamMessage(c echo.Context, msg StreamMessage) {
	data, _ := json.Marshal(msg)
	fmt.Fprintf(c.Response(), "data: %s\n\n", string(data))
	c.Response().Flush()
}

func (s *Server) getErrorMessage(err error) string {
	errorMsg := "I encountered an error processing your request. "
	var statusErr *agentclient.StatusError
	switch {
	case errors.Is(err, agentclient.ErrNotFound):
		errorMsg += "The thread or assistant no longer exists on the agent runtime."
	case errors.As(err, &statusErr) && statusErr.Code == http.StatusConflict:
		errorMsg += "The thread is busy or not waiting for a resume. Wait for the current run to finish and try again."
	case strings.Contains(err.Error(), "max iterations"):
		errorMsg += "The request required too many steps to complete. Please try breaking it down into simpler requests."
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "context deadline"):
		errorMsg += "The request timed out. Please try a simpler request."
	default:
		errorMsg += "Please try again or contact support if the issue persists."
	}
	return errorMsg
}

func (s *Server) handleStopRun(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/stop")

	var req StopRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse stop request body")
		return c.JSON(http.StatusBadRequest, StopResponse{Success: false, Message: "Invalid request format"})
	}
	if req.RunID == "" {
		requestLogger.Error("Empty run ID in stop request")
		return c.JSON(http.StatusBadRequest, StopResponse{Success: false, Message: "Run ID is required"})
	}

	runLogger := requestLogger.WithField("runID", req.RunID)
	if active, ok := s.runs.Lookup(req.RunID); ok && req.ThreadID != "" && active.ThreadID != req.ThreadID {
		runLogger.WithFields(logrus.Fields{
			"threadID":    req.ThreadID,
			"runThreadID": active.ThreadID,
		}).Warn("Run belongs to another thread")
		return c.JSON(http.StatusNotFound, StopResponse{
			Success: false,
			Message: "Run not found for this thread",
		})
	}

	run, stopped := s.runs.Stop(req.RunID)
	if !stopped {
		runLogger.Warn("Run not found or already completed")
		return c.JSON(http.StatusNotFound, StopResponse{
			Success: false,
			Message: "Run not found or already completed",
		})
	}

	// Stopping the relay cancels a local run; a remote run has to be cancelled on the deployment.
	if err := s.activeClient().Cancel(c.Request().Context(), run.ThreadID, run.RunID); err != nil && !errors.Is(err, agentclient.ErrNotFound) {
		runLogger.WithError(err).Warn("Agent runtime did not confirm cancellation")
	}

	runLogger.WithField("threadID", run.ThreadID).Info("Run stopped successfully")
	return c.JSON(http.StatusOK, StopResponse{
		Success: true,
		Message: "Run stopped successfully",
		Stopped: true,
	})
}

func (s *Server) handleGetAssistant(c echo.Context) error {
	assistantID := c.Param("assistantId")
	requestLogger := s.requestLogger(c, "/assistants/:assistantId").WithField("assistantID", assistantID)

	assistant, err := s.activeClient().GetAssistant(c.Request().Context(), assistantID)
	if err != nil {
		requestLogger.WithError(err).Warn("Failed to fetch assistant")
		return c.JSON(errorStatus(err), map[string]string{"error": "Assistant not available"})
	}
	return c.JSON(http.StatusOK, assistant)
}

func (s *Server) settingsResponse(settings Settings) SettingsResponse {
	return SettingsResponse{
		DeploymentURL: settings.DeploymentURL,
		AssistantID:   settings.AssistantID,
		APIKey:        MaskAPIKey(settings.APIKey),
		Mode:          settings.Mode(),
	}
}

func (s *Server) handleGetSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, s.settingsResponse(s.settings.Get()))
}

// handleUpdateSettings persists new connection settings and switches the active client.
// Mirrored threads belong to the previous runtime and are dropped.
func (s *Server) handleUpdateSettings(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/settings")

	var req SettingsRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse settings request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	current := s.settings.Get()
	next := Settings{
		DeploymentURL: strings.TrimSpace(req.DeploymentURL),
		AssistantID:   strings.TrimSpace(req.AssistantID),
		APIKey:        req.APIKey,
	}
	if next.APIKey == "" {
		next.APIKey = current.APIKey
	}
	if err := next.Validate(); err != nil {
		requestLogger.WithError(err).Warn("Rejected settings")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	client, err := s.clientFor(next)
	if err != nil {
		requestLogger.WithError(err).Warn("Rejected settings")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err := s.settings.Save(next); err != nil {
		requestLogger.WithError(err).Error("Failed to save settings")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to save settings"})
	}

	s.clientMutex.Lock()
	s.client = client
	s.clientMutex.Unlock()

	if current.DeploymentURL != next.DeploymentURL {
		for _, thread := range s.store.List() {
			s.store.Delete(thread.ThreadID)
		}
	}

	requestLogger.WithField("mode", next.Mode()).Info("Settings updated")
	return c.JSON(http.StatusOK, s.settingsResponse(next))
}

func (s *Server) handleStatus(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/status")

	threadStats := s.store.Stats()
	activeRuns := s.runs.Active()
	settings := s.settings.Get()

	response := map[string]interface{}{
		"status":      "healthy",
		"mode":        settings.Mode(),
		"assistantId": settings.AssistantID,
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"threads":     threadStats,
		"activeRuns":  activeRuns,
		"runCount":    len(activeRuns),
	}

	requestLogger.WithFields(logrus.Fields{
		"activeRuns": len(activeRuns),
		"threads":    threadStats["totalThreads"],
	}).Debug("Status check completed")

	return c.JSON(http.StatusOK, response)
}

// RegisterRoutes registers all HTTP routes for the server
func (s *Server) RegisterRoutes(e *echo.Echo) {
	s.logger.Info("Registering routes")

	// Thread routes
	e.POST("/threads", s.handleCreateThread)
	e.GET("/threads", s.handleListThreads)
	e.GET("/threads/:threadId", s.handleGetThread)
	e.DELETE("/threads/:threadId", s.handleDeleteThread)

	// Run control
	e.POST("/threads/:threadId/runs/stream", s.handleStreamRun)
	e.POST("/threads/:threadId/resume", s.handleResume)
	e.POST("/stop", s.handleStopRun)

	// Agent configuration and connection settings
	e.GET("/assistants/:assistantId", s.handleGetAssistant)
	e.GET("/settings", s.handleGetSettings)
	e.PUT("/settings", s.handleUpdateSettings)

	e.GET("/status", s.handleStatus)

	s.logger.Info("Routes registered successfully")
}
