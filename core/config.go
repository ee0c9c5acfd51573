/*
Package core provides configuration management and logging initialization
for the deep agent console.

This file handles:
- Loading configuration from environment variables with defaults
- Structured logging setup with configurable levels
- Selecting between the in-process agent runtime and a remote deployment
- Thread cache and run execution parameters

Environment variables take precedence so the console can be deployed without
a config file; the settings file only carries connection details that users
change from the UI.
*/
package core

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Agent runtime modes.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Config holds all configurable values for the console.
type Config struct {
	// Server configuration
	Port string // HTTP server port number (default: "8080")

	// Agent runtime selection
	AgentMode     string // "local" runs the agent in-process, "remote" talks to DeploymentURL (default: "local")
	DeploymentURL string // Base URL of a remote agent deployment
	AssistantID   string // Assistant (graph) identifier used for runs (default: "deepagent")
	APIKey        string // API key sent to the remote deployment as x-api-key
	RemoteRPS     float64

	// LLM Provider configuration
	LLMProvider string // LLM provider to use: "ollama" or "gemini" (default: "gemini")

	// Ollama LLM configuration
	OllamaEndpoint string
	OllamaModel    string

	// Gemini LLM configuration
	GeminiAPIKey string
	GeminiModel  string

	// Agent execution configuration
	MaxIterations        int           // Maximum model calls per run (default: 50)
	RequestTimeout       time.Duration // Upper bound for a single streamed run (default: 300s)
	InterruptBeforeTools bool          // Pause for approval before executing tool calls (default: false)

	// Settings persistence
	SettingsFile string // YAML file holding connection settings (default: "deepconsole.yaml")

	// Thread cache configuration
	ThreadMaxAge    time.Duration // How long an idle thread mirror is kept (default: 24h)
	CleanupInterval time.Duration // How often expired mirrors are dropped (default: 1h)

	// Logging and debugging configuration
	LogLevel          string
	LogTruncateLength int
	DebugMode         bool
}

// LoadConfig loads configuration from environment variables with defaults.
// Invalid numeric values are ignored and the default kept.
//
// Environment Variables:
//   - PORT: Server port (string)
//   - AGENT_MODE: "local" or "remote" (string)
//   - DEPLOYMENT_URL: Remote agent deployment URL (string)
//   - ASSISTANT_ID: Assistant identifier (string)
//   - LANGSMITH_API_KEY: API key for the remote deployment (string)
//   - REMOTE_RPS: Outbound request rate to the deployment (float)
//   - LLM_PROVIDER: "ollama" or "gemini" (string)
//   - OLLAMA_ENDPOINT, OLLAMA_MODEL: Ollama settings (string)
//   - GEMINI_API_KEY, GEMINI_MODEL: Gemini settings (string)
//   - MAX_ITERATIONS: Maximum model calls per run (integer)
//   - REQUEST_TIMEOUT: Run timeout in seconds (integer)
//   - INTERRUPT_BEFORE_TOOLS: Require approval before tools run (boolean)
//   - SETTINGS_FILE: Settings file path (string)
//   - THREAD_MAX_AGE_HOURS: Thread mirror expiry in hours (integer)
//   - CLEANUP_INTERVAL_MINUTES: Cleanup frequency in minutes (integer)
//   - LOG_LEVEL: Logging level (string)
//   - LOG_TRUNCATE_LENGTH: Log truncation length (integer)
//   - DEBUG_MODE: Enable debug mode (boolean: "true"/"1")
func LoadConfig() *Config {
	config := &Config{
		Port: "8080",

		AgentMode:   ModeLocal,
		AssistantID: "deepagent",
		RemoteRPS:   10,

		LLMProvider:    "gemini",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "qwen3",
		GeminiModel:    "gemini-2.0-flash",

		MaxIterations:  50,
		RequestTimeout: 300 * time.Second,

		SettingsFile: "deepconsole.yaml",

		ThreadMaxAge:    24 * time.Hour,
		CleanupInterval: 1 * time.Hour,

		LogLevel:          "info",
		LogTruncateLength: 500,
		DebugMode:         false,
	}

	if port := os.Getenv("PORT"); port != "" {
		config.Port = port
	}

	// Agent runtime selection
	if mode := strings.ToLower(os.Getenv("AGENT_MODE")); mode == ModeLocal || mode == ModeRemote {
		config.AgentMode = mode
	}
	if url := os.Getenv("DEPLOYMENT_URL"); url != "" {
		config.DeploymentURL = url
	}
	if id := os.Getenv("ASSISTANT_ID"); id != "" {
		config.AssistantID = id
	}
	if key := os.Getenv("LANGSMITH_API_KEY"); key != "" {
		config.APIKey = key
	}
	if rps := os.Getenv("REMOTE_RPS"); rps != "" {
		if val, err := strconv.ParseFloat(rps, 64); err == nil && val > 0 {
			config.RemoteRPS = val
		}
	}

	// LLM Provider configuration
	if provider := os.Getenv("LLM_PROVIDER"); provider == "ollama" || provider == "gemini" {
		config.LLMProvider = provider
	}
	if endpoint := os.Getenv("OLLAMA_ENDPOINT"); endpoint != "" {
		config.OllamaEndpoint = endpoint
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		config.OllamaModel = model
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.GeminiAPIKey = apiKey
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		config.GeminiModel = model
	}

	// Agent execution parameters
	if maxIter := os.Getenv("MAX_ITERATIONS"); maxIter != "" {
		if val, err := strconv.Atoi(maxIter); err == nil && val > 0 {
			config.MaxIterations = val
		}
	}
	if timeout := os.Getenv("REQUEST_TIMEOUT"); timeout != "" {
		if val, err := strconv.Atoi(timeout); err == nil && val > 0 {
			config.RequestTimeout = time.Duration(val) * time.Second
		}
	}
	if interrupt := os.Getenv("INTERRUPT_BEFORE_TOOLS"); interrupt != "" {
		config.InterruptBeforeTools = parseBool(interrupt)
	}

	if file := os.Getenv("SETTINGS_FILE"); file != "" {
		config.SettingsFile = file
	}

	// Thread cache parameters
	if maxAge := os.Getenv("THREAD_MAX_AGE_HOURS"); maxAge != "" {
		if val, err := strconv.Atoi(maxAge); err == nil && val > 0 {
			config.ThreadMaxAge = time.Duration(val) * time.Hour
		}
	}
	if cleanupInterval := os.Getenv("CLEANUP_INTERVAL_MINUTES"); cleanupInterval != "" {
		if val, err := strconv.Atoi(cleanupInterval); err == nil && val > 0 {
			config.CleanupInterval = time.Duration(val) * time.Minute
		}
	}

	// Logging configuration
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
	if truncateLen := os.Getenv("LOG_TRUNCATE_LENGTH"); truncateLen != "" {
		if val, err := strconv.Atoi(truncateLen); err == nil && val > 0 {
			config.LogTruncateLength = val
		}
	}
	if debug := os.Getenv("DEBUG_MODE"); debug != "" {
		config.DebugMode = parseBool(debug)
	}

	// A remote mode without a deployment cannot serve runs; fall back to the local runtime.
	if config.AgentMode == ModeRemote && config.DeploymentURL == "" {
		config.AgentMode = ModeLocal
	}
	if config.LLMProvider == "gemini" && config.GeminiAPIKey == "" {
		config.LLMProvider = "ollama"
	}

	return config
}

func parseBool(v string) bool {
	return strings.ToLower(v) == "true" || v == "1"
}

// InitializeLogger configures the standard logrus logger from config and returns it.
// Package-level entries created with logrus.WithField share this configuration.
func InitializeLogger(config *Config) *logrus.Logger {
	logger := logrus.StandardLogger()

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	switch strings.ToLower(config.LogLevel) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	if config.DebugMode && logger.GetLevel() < logrus.DebugLevel {
		logger.SetLevel(logrus.DebugLevel)
	}

	logger.SetOutput(os.Stdout)

	logger.WithFields(logrus.Fields{
		"agentMode":            config.AgentMode,
		"deploymentUrl":        config.DeploymentURL,
		"assistantId":          config.AssistantID,
		"llmProvider":          config.LLMProvider,
		"ollamaEndpoint":       config.OllamaEndpoint,
		"ollamaModel":          config.OllamaModel,
		"geminiModel":          config.GeminiModel,
		"maxIterations":        config.MaxIterations,
		"requestTimeout":       config.RequestTimeout,
		"interruptBeforeTools": config.InterruptBeforeTools,
		"settingsFile":         config.SettingsFile,
		"threadMaxAge":         config.ThreadMaxAge,
		"cleanupInterval":      config.CleanupInterval,
		"logTruncateLength":    config.LogTruncateLength,
		"debugMode":            config.DebugMode,
	}).Info("Configuration loaded")

	return logger
}
