/*
Package core provides persistence of the console's connection settings.

Settings are the values a user changes from the UI: which deployment to talk to, which
assistant to run and the API key. They are stored as YAML next to the binary and rewritten
atomically so a crash never leaves a half-written file.
*/
package core

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Settings selects the agent runtime the console drives.
type Settings struct {
	DeploymentURL string `yaml:"deployment_url"` // empty or "local" selects the in-process runtime
	AssistantID   string `yaml:"assistant_id"`
	APIKey        string `yaml:"api_key,omitempty"`
}

// Mode reports whether the settings select the local or the remote runtime.
func (s Settings) Mode() string {
	if s.DeploymentURL == "" || strings.EqualFold(s.DeploymentURL, ModeLocal) {
		return ModeLocal
	}
	return ModeRemote
}

// Validate checks that a remote deployment URL is absolute http(s) and an assistant is set.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.AssistantID) == "" {
		return errors.New("assistant id is required")
	}
	if s.Mode() == ModeLocal {
		return nil
	}
	u, err := url.Parse(s.DeploymentURL)
	if err != nil {
		return fmt.Errorf("invalid deployment url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid deployment url %q: must be an absolute http or https url", s.DeploymentURL)
	}
	return nil
}

// MaskAPIKey hides all but the last four characters of key.
func MaskAPIKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 4:
		return "****"
	default:
		return "****" + key[len(key)-4:]
	}
}

// SettingsStore keeps the current settings in memory and on disk.
type SettingsStore struct {
	path    string
	mutex   sync.RWMutex
	current Settings
	logger  *logrus.Logger
}

// NewSettingsStore loads settings from path. Values missing from the file, or a missing file,
// fall back to defaults.
func NewSettingsStore(path string, defaults Settings, logger *logrus.Logger) (*SettingsStore, error) {
	store := &SettingsStore{path: path, current: defaults, logger: logger}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.WithField("settingsFile", path).Info("No settings file, using defaults")
		return store, nil
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var loaded Settings
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if loaded.DeploymentURL != "" {
		store.current.DeploymentURL = loaded.DeploymentURL
	}
	if loaded.AssistantID != "" {
		store.current.AssistantID = loaded.AssistantID
	}
	if loaded.APIKey != "" {
		store.current.APIKey = loaded.APIKey
	}

	logger.WithFields(logrus.Fields{
		"settingsFile":  path,
		"deploymentUrl": store.current.DeploymentURL,
		"assistantId":   store.current.AssistantID,
		"mode":          store.current.Mode(),
	}).Info("Settings loaded")
	return store, nil
}

// Get returns the current settings.
func (s *SettingsStore) Get() Settings {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.current
}

// Save validates and persists settings, then makes them current.
func (s *SettingsStore) Save(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := writeFileAtomic(s.path, data); err != nil {
		return err
	}
	s.current = settings

	s.logger.WithFields(logrus.Fields{
		"settingsFile":  s.path,
		"deploymentUrl": settings.DeploymentURL,
		"assistantId":   settings.AssistantID,
		"apiKey":        MaskAPIKey(settings.APIKey),
	}).Info("Settings saved")
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
