package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/neuromance/neuromance/internal/core"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestManagerEmptyDir(t *testing.T) {
	m, err := NewManagerAt(t.TempDir())
	if err != nil {
		t.Fatalf("NewManagerAt() error = %v", err)
	}
	if got := m.Profiles(); len(got) != 0 {
		t.Errorf("Profiles() = %v, want empty", got)
	}
	if s := m.Settings(); s.InactivityTimeout() != 30*time.Minute {
		t.Errorf("InactivityTimeout() = %v, want 30m default", s.InactivityTimeout())
	}
}

func TestManagerLoadsProfiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "models.json"), `{
  "profiles": [
    {"nickname": "fast", "provider": "openai", "model": "gpt-4o-mini", "api_key_env": "OPENAI_API_KEY"},
    {"nickname": "deep", "provider": "anthropic", "model": "claude-sonnet-4-20250514", "api_key_env": "ANTHROPIC_API_KEY", "max_tokens": 8192}
  ]
}`)
	writeFile(t, filepath.Join(dir, "settings.json"), `{
  "default_model": "fast",
  "inactivity_minutes": 5,
  "max_turns": 10
}`)

	m, err := NewManagerAt(dir)
	if err != nil {
		t.Fatalf("NewManagerAt() error = %v", err)
	}

	profiles := m.Profiles()
	if len(profiles) != 2 {
		t.Fatalf("got %d profiles, want 2", len(profiles))
	}
	// Sorted by nickname.
	if profiles[0].Nickname != "deep" || profiles[1].Nickname != "fast" {
		t.Errorf("order = %s, %s", profiles[0].Nickname, profiles[1].Nickname)
	}

	p, err := m.Profile("deep")
	if err != nil {
		t.Fatalf("Profile(deep) error = %v", err)
	}
	if p.Provider != "anthropic" || p.MaxTokens != 8192 {
		t.Errorf("profile = %+v", p)
	}

	if _, err := m.Profile("missing"); !core.IsCode(err, core.CodeModelNotFound) {
		t.Errorf("CodeOf(err) = %v, want model_not_found", core.CodeOf(err))
	}

	s := m.Settings()
	if s.DefaultModel != "fast" || s.MaxTurns != 10 {
		t.Errorf("settings = %+v", s)
	}
	if s.InactivityTimeout() != 5*time.Minute {
		t.Errorf("InactivityTimeout() = %v, want 5m", s.InactivityTimeout())
	}
}

func TestManagerRejectsBadProfiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing nickname", `{"profiles": [{"provider": "openai", "model": "gpt-4o"}]}`},
		{"missing provider", `{"profiles": [{"nickname": "a", "model": "gpt-4o"}]}`},
		{"duplicate nickname", `{"profiles": [
			{"nickname": "a", "provider": "openai", "model": "gpt-4o"},
			{"nickname": "a", "provider": "anthropic", "model": "claude"}
		]}`},
		{"invalid json", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "models.json"), tt.content)
			if _, err := NewManagerAt(dir); !core.IsCode(err, core.CodeConfig) {
				t.Errorf("CodeOf(err) = %v, want config", core.CodeOf(err))
			}
		})
	}
}

func TestManagerSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManagerAt(dir)
	if err != nil {
		t.Fatal(err)
	}

	profiles := []ModelProfile{{Nickname: "fast", Provider: "openai", Model: "gpt-4o-mini"}}
	if err := m.SaveProfiles(profiles); err != nil {
		t.Fatalf("SaveProfiles() error = %v", err)
	}
	if err := m.SaveSettings(DaemonSettings{DefaultModel: "fast"}); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	// A fresh manager sees the saved state.
	m2, err := NewManagerAt(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m2.Profile("fast"); err != nil {
		t.Errorf("Profile(fast) after save: %v", err)
	}
	if m2.Settings().DefaultModel != "fast" {
		t.Errorf("DefaultModel = %q", m2.Settings().DefaultModel)
	}

	info, err := os.Stat(m.ProfilesPath())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("models.json mode = %o, want 600", perm)
	}
}

func TestManagerReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManagerAt(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Profile("fast"); err == nil {
		t.Fatal("profile present before write")
	}

	writeFile(t, filepath.Join(dir, "models.json"),
		`{"profiles": [{"nickname": "fast", "provider": "openai", "model": "gpt-4o-mini"}]}`)
	if err := m.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if _, err := m.Profile("fast"); err != nil {
		t.Errorf("Profile(fast) after reload: %v", err)
	}
}
