// Package config loads model profiles and daemon settings from JSON
// files under the user config directory.
package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/neuromance/neuromance/internal/core"
)

const appDirName = "neuromance"

// ModelProfile describes one configured model under a short nickname.
// API keys never live in the file; APIKeyEnv names the environment
// variable holding the key.
type ModelProfile struct {
	Nickname       string `json:"nickname"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	APIKeyEnv      string `json:"api_key_env,omitempty"`
	BaseURL        string `json:"base_url,omitempty"`
	ProxyURL       string `json:"proxy_url,omitempty"`
	SealedTokenEnv string `json:"sealed_token_env,omitempty"`
	MaxTokens      int    `json:"max_tokens,omitempty"`
}

// DaemonSettings holds daemon-wide tunables.
type DaemonSettings struct {
	DefaultModel      string `json:"default_model,omitempty"`
	InactivityMinutes int    `json:"inactivity_minutes,omitempty"`
	DisableStreaming  bool   `json:"disable_streaming,omitempty"`
	AutoApproveTools  bool   `json:"auto_approve_tools,omitempty"`
	MaxTurns          int    `json:"max_turns,omitempty"`
	MaxRetries        int    `json:"max_retries,omitempty"`
	SystemPrompt      string `json:"system_prompt,omitempty"`
	ReasoningEffort   string `json:"reasoning_effort,omitempty"`
	EnableThinking    bool   `json:"enable_thinking,omitempty"`
}

// InactivityTimeout returns the idle interval after which the daemon
// shuts itself down. Defaults to 30 minutes.
func (s DaemonSettings) InactivityTimeout() time.Duration {
	if s.InactivityMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.InactivityMinutes) * time.Minute
}

type profileFile struct {
	Profiles []ModelProfile `json:"profiles"`
}

// Manager loads and caches profiles and settings. Reload is safe to
// call concurrently with readers.
type Manager struct {
	configDir string

	mu       sync.RWMutex
	profiles map[string]ModelProfile
	settings DaemonSettings
}

// NewManager creates a manager rooted at os.UserConfigDir()/neuromance
// and loads whatever configuration exists there.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, core.Wrap(core.CodeConfig, err, "resolving user config dir")
	}
	return NewManagerAt(filepath.Join(configDir, appDirName))
}

// NewManagerAt creates a manager rooted at an explicit directory.
func NewManagerAt(dir string) (*Manager, error) {
	m := &Manager{configDir: dir, profiles: map[string]ModelProfile{}}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// ProfilesPath returns the absolute path to models.json.
func (m *Manager) ProfilesPath() string {
	return filepath.Join(m.configDir, "models.json")
}

// SettingsPath returns the absolute path to settings.json.
func (m *Manager) SettingsPath() string {
	return filepath.Join(m.configDir, "settings.json")
}

// Reload re-reads both files from disk. Missing files load as empty.
func (m *Manager) Reload() error {
	profiles, err := m.loadProfiles()
	if err != nil {
		return err
	}
	settings, err := m.loadSettings()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.profiles = profiles
	m.settings = settings
	m.mu.Unlock()
	return nil
}

func (m *Manager) loadProfiles() (map[string]ModelProfile, error) {
	data, err := os.ReadFile(m.ProfilesPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]ModelProfile{}, nil
		}
		return nil, core.Wrap(core.CodeConfig, err, "reading model profiles")
	}

	var file profileFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, core.Wrap(core.CodeConfig, err, "parsing model profiles")
	}

	profiles := make(map[string]ModelProfile, len(file.Profiles))
	for _, p := range file.Profiles {
		if p.Nickname == "" {
			return nil, core.E(core.CodeConfig, "model profile missing nickname")
		}
		if p.Provider == "" || p.Model == "" {
			return nil, core.E(core.CodeConfig, "profile %q missing provider or model", p.Nickname)
		}
		if _, dup := profiles[p.Nickname]; dup {
			return nil, core.E(core.CodeConfig, "duplicate profile nickname %q", p.Nickname)
		}
		profiles[p.Nickname] = p
	}
	return profiles, nil
}

func (m *Manager) loadSettings() (DaemonSettings, error) {
	data, err := os.ReadFile(m.SettingsPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DaemonSettings{}, nil
		}
		return DaemonSettings{}, core.Wrap(core.CodeConfig, err, "reading daemon settings")
	}
	var settings DaemonSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return DaemonSettings{}, core.Wrap(core.CodeConfig, err, "parsing daemon settings")
	}
	return settings, nil
}

// Profile looks up a model profile by nickname.
func (m *Manager) Profile(nickname string) (ModelProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[nickname]
	if !ok {
		return ModelProfile{}, core.E(core.CodeModelNotFound, "unknown model %q", nickname)
	}
	return p, nil
}

// Profiles returns all profiles sorted by nickname.
func (m *Manager) Profiles() []ModelProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ModelProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nickname < out[j].Nickname })
	return out
}

// Settings returns the current daemon settings.
func (m *Manager) Settings() DaemonSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// SaveProfiles writes the profile list to models.json with restricted
// permissions and refreshes the cache.
func (m *Manager) SaveProfiles(profiles []ModelProfile) error {
	if err := os.MkdirAll(m.configDir, 0o755); err != nil {
		return core.Wrap(core.CodeConfig, err, "creating config dir")
	}
	data, err := json.MarshalIndent(profileFile{Profiles: profiles}, "", "  ")
	if err != nil {
		return core.Wrap(core.CodeSerialization, err, "encoding model profiles")
	}
	if err := os.WriteFile(m.ProfilesPath(), data, 0o600); err != nil {
		return core.Wrap(core.CodeConfig, err, "writing model profiles")
	}
	return m.Reload()
}

// SaveSettings writes settings.json and refreshes the cache.
func (m *Manager) SaveSettings(settings DaemonSettings) error {
	if err := os.MkdirAll(m.configDir, 0o755); err != nil {
		return core.Wrap(core.CodeConfig, err, "creating config dir")
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return core.Wrap(core.CodeSerialization, err, "encoding daemon settings")
	}
	if err := os.WriteFile(m.SettingsPath(), data, 0o600); err != nil {
		return core.Wrap(core.CodeConfig, err, "writing daemon settings")
	}
	return m.Reload()
}
