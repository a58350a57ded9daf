package client

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/neuromance/neuromance/internal/core"
)

const daemonBinaryName = "neuromanced"

// resolveDaemonBinary finds the daemon executable: an explicit path
// wins, then a sibling of the current executable, then $PATH.
func resolveDaemonBinary(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), daemonBinaryName)
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return sibling, nil
		}
	}
	path, err := exec.LookPath(daemonBinaryName)
	if err != nil {
		return "", core.Wrap(core.CodeConfig, err, "daemon binary %q not found", daemonBinaryName)
	}
	return path, nil
}

// spawnDaemon starts the daemon detached: its own session, stdin and
// stdout discarded, stderr appended to daemon.log in the data dir.
func spawnDaemon(opts Options) error {
	binary, err := resolveDaemonBinary(opts.DaemonBinary)
	if err != nil {
		return err
	}

	logPath := filepath.Join(opts.DataDir, "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return core.Wrap(core.CodeStorage, err, "opening daemon log")
	}
	defer logFile.Close()

	cmd := exec.Command(binary)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return core.Wrap(core.CodeInternal, err, "starting daemon")
	}
	opts.Logger.Debug("spawned daemon", "pid", cmd.Process.Pid, "binary", binary)

	// The daemon outlives this process; do not wait on it, but release
	// the process handle.
	return cmd.Process.Release()
}
