// Package storage persists conversations, bookmarks and daemon runtime
// files as JSON under the user data directory.
package storage

import (
	"os"
	"path/filepath"

	"github.com/neuromance/neuromance/internal/core"
)

const appDirName = "neuromance"

// DataDir resolves $XDG_DATA_HOME/neuromance (falling back to
// ~/.local/share) and ensures it exists with owner-only permissions.
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", core.Wrap(core.CodeStorage, err, "resolving home directory")
		}
		base = filepath.Join(home, ".local", "share")
	}

	dir := filepath.Join(base, appDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", core.Wrap(core.CodeStorage, err, "creating data directory")
	}
	return dir, nil
}

// SocketPath returns the daemon's Unix socket path.
func SocketPath(dataDir string) string { return filepath.Join(dataDir, "neuromance.sock") }

// PIDPath returns the daemon's PID file path.
func PIDPath(dataDir string) string { return filepath.Join(dataDir, "neuromance.pid") }

// LockPath returns the spawn-coordination lock file path.
func LockPath(dataDir string) string { return filepath.Join(dataDir, "neuromance.lock") }

func conversationsDir(dataDir string) string { return filepath.Join(dataDir, "conversations") }

func currentPath(dataDir string) string { return filepath.Join(dataDir, "current") }

func bookmarksPath(dataDir string) string { return filepath.Join(dataDir, "bookmarks.json") }
