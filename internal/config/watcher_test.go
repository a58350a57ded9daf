package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManagerAt(dir)
	if err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(m, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.debounceTime = 20 * time.Millisecond

	reloaded := make(chan struct{}, 1)
	w.OnReload(func() {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	writeFile(t, filepath.Join(dir, "models.json"),
		`{"profiles": [{"nickname": "fast", "provider": "openai", "model": "gpt-4o-mini"}]}`)

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if _, err := m.Profile("fast"); err != nil {
		t.Errorf("Profile(fast) after hot reload: %v", err)
	}
}

func TestWatcherKeepsLastGoodConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "models.json"),
		[]byte(`{"profiles": [{"nickname": "fast", "provider": "openai", "model": "gpt-4o-mini"}]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := NewManagerAt(dir)
	if err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(m, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.debounceTime = 20 * time.Millisecond
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	writeFile(t, filepath.Join(dir, "models.json"), `{not json`)

	// Give the watcher time to see the event and attempt a reload.
	time.Sleep(200 * time.Millisecond)

	if _, err := m.Profile("fast"); err != nil {
		t.Errorf("profile lost after bad edit: %v", err)
	}
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManagerAt(dir)
	if err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(m, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.debounceTime = 20 * time.Millisecond

	reloaded := make(chan struct{}, 1)
	w.OnReload(func() {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	writeFile(t, filepath.Join(dir, "notes.txt"), "hello")

	select {
	case <-reloaded:
		t.Error("reload triggered by unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}
