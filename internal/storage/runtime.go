package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/neuromance/neuromance/internal/core"
)

// WritePID records the calling process in the pid file.
func WritePID(dataDir string) error {
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := writeAtomic(PIDPath(dataDir), data, 0o600); err != nil {
		return core.Wrap(core.CodeStorage, err, "writing pid file")
	}
	return nil
}

// ReadPID returns the pid recorded in the pid file, or 0 when absent.
func ReadPID(dataDir string) (int, error) {
	data, err := os.ReadFile(PIDPath(dataDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, core.Wrap(core.CodeStorage, err, "reading pid file")
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, core.Wrap(core.CodeStorage, err, "parsing pid file")
	}
	return pid, nil
}

// RemovePID deletes the pid file.
func RemovePID(dataDir string) error {
	if err := os.Remove(PIDPath(dataDir)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return core.Wrap(core.CodeStorage, err, "removing pid file")
	}
	return nil
}

// ProcessAlive reports whether a process with the given pid exists.
// Signal 0 probes existence without delivering anything.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

const (
	lockPollInterval = 50 * time.Millisecond
	lockStaleAfter   = 30 * time.Second
)

type lockPayload struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
}

// LockHandle is an acquired spawn-coordination lock.
type LockHandle struct {
	path     string
	file     *os.File
	released bool
}

// Release closes and removes the lock file.
func (h *LockHandle) Release() error {
	if h == nil || h.released {
		return nil
	}
	h.released = true
	if h.file != nil {
		h.file.Close()
	}
	return os.Remove(h.path)
}

// AcquireLock takes the advisory lock used to serialize daemon spawns.
// A lock held by a dead process, or one older than the stale cutoff, is
// broken.
func AcquireLock(dataDir string, timeout time.Duration) (*LockHandle, error) {
	lockPath := LockPath(dataDir)
	deadline := time.Now().Add(timeout)

	var lastPID int
	for {
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			payload := lockPayload{
				PID:       os.Getpid(),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			data, merr := json.Marshal(payload)
			if merr == nil {
				_, merr = file.Write(data)
			}
			if merr != nil {
				file.Close()
				os.Remove(lockPath)
				return nil, core.Wrap(core.CodeStorage, merr, "writing lock payload")
			}
			return &LockHandle{path: lockPath, file: file}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, core.Wrap(core.CodeStorage, err, "acquiring spawn lock")
		}

		if payload := readLockPayload(lockPath); payload != nil {
			lastPID = payload.PID
			if !ProcessAlive(payload.PID) {
				os.Remove(lockPath)
				continue
			}
		} else if lockFileStale(lockPath) {
			os.Remove(lockPath)
			continue
		}

		if time.Now().After(deadline) {
			owner := ""
			if lastPID > 0 {
				owner = fmt.Sprintf(" (held by pid %d)", lastPID)
			}
			return nil, core.E(core.CodeStorage, "timed out acquiring spawn lock%s", owner)
		}
		time.Sleep(lockPollInterval)
	}
}

func readLockPayload(lockPath string) *lockPayload {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil
	}
	var payload lockPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil
	}
	if payload.PID <= 0 {
		return nil
	}
	return &payload
}

func lockFileStale(lockPath string) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return true
	}
	return time.Since(info.ModTime()) > lockStaleAfter
}
