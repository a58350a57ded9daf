// Package daemon runs the gRPC service over the Unix-domain socket and
// owns the daemon lifecycle: singleton guard, inactivity shutdown and
// runtime-file cleanup.
package daemon

import (
	"context"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"

	"github.com/neuromance/neuromance/internal/core"
	"github.com/neuromance/neuromance/internal/manager"
	"github.com/neuromance/neuromance/internal/rpc"
	"github.com/neuromance/neuromance/internal/storage"
)

const inactivitySweep = time.Minute

// Server is the daemon. One instance per user per data dir.
type Server struct {
	manager *manager.Manager
	dataDir string
	logger  *slog.Logger

	grpcServer   *grpc.Server
	startedAt    time.Time
	lastActivity atomic.Int64 // unix nanos

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewServer wires a daemon over the given manager and data directory.
func NewServer(m *manager.Manager, dataDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		manager:    m,
		dataDir:    dataDir,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}
}

// touch bumps the last-activity timestamp. Called on every RPC entry
// and every outbound chunk.
func (s *Server) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Server) lastActivityTime() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// requestShutdown signals the serve loop to stop. Safe to call more
// than once.
func (s *Server) requestShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// Run serves until shutdown is requested or ctx is cancelled. It
// refuses to start while another daemon owns the pid file, unlinks
// stale runtime files, and removes socket and pid file on clean exit.
func (s *Server) Run(ctx context.Context) error {
	if err := s.guardSingleton(); err != nil {
		return err
	}
	if err := storage.WritePID(s.dataDir); err != nil {
		return err
	}
	defer func() {
		if err := storage.RemovePID(s.dataDir); err != nil {
			s.logger.Warn("removing pid file", "error", err)
		}
	}()

	socketPath := storage.SocketPath(s.dataDir)
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return core.Wrap(core.CodeStorage, err, "listening on %s", socketPath)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		listener.Close()
		return core.Wrap(core.CodeStorage, err, "restricting socket permissions")
	}
	defer os.Remove(socketPath)

	s.grpcServer = grpc.NewServer(grpc.ForceServerCodec(rpc.Codec()))
	s.grpcServer.RegisterService(&rpc.ServiceDesc, s)

	s.startedAt = time.Now()
	s.touch()

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go s.inactivityLoop(sweepCtx)

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.grpcServer.Serve(listener) }()

	s.logger.Info("daemon listening", "socket", socketPath, "pid", os.Getpid())

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
	case <-s.shutdownCh:
		s.logger.Info("shutdown requested")
	case err := <-serveErr:
		return core.Wrap(core.CodeInternal, err, "grpc serve failed")
	}

	s.grpcServer.GracefulStop()
	<-serveErr
	return nil
}

// guardSingleton enforces one daemon per data dir: a live pid file
// refuses startup; a stale pid file and leftover socket are removed.
func (s *Server) guardSingleton() error {
	pid, err := storage.ReadPID(s.dataDir)
	if err != nil {
		return err
	}
	if pid != 0 {
		if storage.ProcessAlive(pid) {
			return core.E(core.CodeConfig, "daemon already running (pid %d)", pid)
		}
		s.logger.Warn("removing stale pid file", "pid", pid)
		if err := storage.RemovePID(s.dataDir); err != nil {
			return err
		}
	}

	socketPath := storage.SocketPath(s.dataDir)
	if _, err := os.Stat(socketPath); err == nil {
		s.logger.Warn("removing stale socket", "socket", socketPath)
		if err := os.Remove(socketPath); err != nil {
			return core.Wrap(core.CodeStorage, err, "removing stale socket")
		}
	}
	return nil
}

func (s *Server) inactivityLoop(ctx context.Context) {
	ticker := time.NewTicker(inactivitySweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			timeout := s.manager.Config().Settings().InactivityTimeout()
			idle := time.Since(s.lastActivityTime())
			if idle > timeout {
				s.logger.Info("idle timeout reached, shutting down", "idle", idle, "timeout", timeout)
				s.requestShutdown()
				return
			}
		}
	}
}
