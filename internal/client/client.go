// Package client connects the CLI to the daemon, spawning it on demand.
package client

import (
	"context"
	"log/slog"
	"net"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/neuromance/neuromance/internal/core"
	"github.com/neuromance/neuromance/internal/rpc"
	"github.com/neuromance/neuromance/internal/storage"
)

const (
	socketWaitTimeout = 10 * time.Second
	backoffInitial    = 50 * time.Millisecond
	backoffMax        = 500 * time.Millisecond
)

// Options configures the connection attempt.
type Options struct {
	DataDir      string
	DaemonBinary string // defaults to neuromanced next to this executable, then $PATH
	Logger       *slog.Logger
}

// Conn is an established daemon connection.
type Conn struct {
	conn *grpc.ClientConn
	RPC  *rpc.Client
}

// Close releases the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// Connect returns a connection to the daemon, starting one if none is
// running. Concurrent launches serialize through the spawn lock so
// exactly one process spawns the daemon.
func Connect(ctx context.Context, opts Options) (*Conn, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DataDir == "" {
		dir, err := storage.DataDir()
		if err != nil {
			return nil, err
		}
		opts.DataDir = dir
	}

	socketPath := storage.SocketPath(opts.DataDir)

	if socketAlive(socketPath) {
		return dial(socketPath)
	}

	// A live daemon that has not bound its socket yet: wait for it.
	pid, err := storage.ReadPID(opts.DataDir)
	if err != nil {
		return nil, err
	}
	if pid != 0 && storage.ProcessAlive(pid) {
		opts.Logger.Debug("daemon starting, waiting for socket", "pid", pid)
		if err := waitForSocket(ctx, socketPath); err != nil {
			return nil, err
		}
		return dial(socketPath)
	}

	// No daemon. Take the spawn lock, re-check, spawn.
	lock, err := storage.AcquireLock(opts.DataDir, socketWaitTimeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			opts.Logger.Warn("releasing spawn lock", "error", rerr)
		}
	}()

	// Another client may have spawned the daemon while we waited.
	if socketAlive(socketPath) {
		return dial(socketPath)
	}

	if err := spawnDaemon(opts); err != nil {
		return nil, err
	}
	if err := waitForSocket(ctx, socketPath); err != nil {
		return nil, err
	}
	return dial(socketPath)
}

// socketAlive probes the socket with a real connection; a leftover
// socket file from a dead daemon refuses it.
func socketAlive(socketPath string) bool {
	if _, err := os.Stat(socketPath); err != nil {
		return false
	}
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// waitForSocket polls with exponential backoff until the socket accepts
// connections.
func waitForSocket(ctx context.Context, socketPath string) error {
	deadline := time.Now().Add(socketWaitTimeout)
	delay := backoffInitial
	for {
		if socketAlive(socketPath) {
			return nil
		}
		if time.Now().After(deadline) {
			return core.E(core.CodeServiceUnavailable, "daemon socket did not appear within %s", socketWaitTimeout)
		}
		select {
		case <-ctx.Done():
			return core.Wrap(core.CodeInternal, ctx.Err(), "cancelled waiting for daemon socket")
		case <-time.After(delay):
		}
		delay *= 2
		if delay > backoffMax {
			delay = backoffMax
		}
	}
}

func dial(socketPath string) (*Conn, error) {
	conn, err := grpc.NewClient("unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rpc.Codec()), grpc.WaitForReady(true)),
	)
	if err != nil {
		return nil, core.Wrap(core.CodeServiceUnavailable, err, "dialing daemon")
	}
	return &Conn{conn: conn, RPC: rpc.NewClient(conn)}, nil
}
