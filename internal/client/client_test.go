package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/neuromance/neuromance/internal/config"
	"github.com/neuromance/neuromance/internal/core"
	"github.com/neuromance/neuromance/internal/daemon"
	"github.com/neuromance/neuromance/internal/manager"
	"github.com/neuromance/neuromance/internal/rpc"
	"github.com/neuromance/neuromance/internal/storage"
)

func startDaemon(t *testing.T) string {
	t.Helper()
	dataDir := t.TempDir()

	store, err := storage.NewStore(dataDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := config.NewManagerAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	m := manager.NewManager(store, cfg, nil, nil)
	server := daemon.NewServer(m, dataDir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	if err := waitForSocket(context.Background(), storage.SocketPath(dataDir)); err != nil {
		t.Fatalf("daemon socket never appeared: %v", err)
	}
	return dataDir
}

func TestConnectToRunningDaemon(t *testing.T) {
	dataDir := startDaemon(t)

	conn, err := Connect(context.Background(), Options{DataDir: dataDir})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer conn.Close()

	health, err := conn.RPC.HealthCheck(context.Background(), &rpc.HealthCheckRequest{ClientVersion: rpc.Version})
	if err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if !health.Compatible {
		t.Errorf("health = %+v", health)
	}
}

func TestWaitForSocketBackoff(t *testing.T) {
	dataDir := t.TempDir()
	socketPath := storage.SocketPath(dataDir)

	// Bind the socket only after a delay; the waiter must pick it up.
	go func() {
		time.Sleep(300 * time.Millisecond)
		listener, err := net.Listen("unix", socketPath)
		if err != nil {
			return
		}
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	if err := waitForSocket(context.Background(), socketPath); err != nil {
		t.Fatalf("waitForSocket() error = %v", err)
	}
}

func TestWaitForSocketCancelled(t *testing.T) {
	dataDir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := waitForSocket(ctx, storage.SocketPath(dataDir))
	if err == nil {
		t.Fatal("expected error from cancelled wait")
	}
}

func TestSocketAliveRejectsDeadSocketFile(t *testing.T) {
	dataDir := t.TempDir()
	socketPath := storage.SocketPath(dataDir)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	if !socketAlive(socketPath) {
		t.Error("live socket reported dead")
	}

	// Closing the listener leaves the file but nothing accepts.
	listener.Close()
	if _, err := net.Dial("unix", socketPath); err == nil {
		t.Skip("platform still accepts connections on closed unix listener")
	}
	if socketAlive(socketPath) {
		t.Error("dead socket file reported alive")
	}
}

func TestResolveDaemonBinaryMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := resolveDaemonBinary("")
	if !core.IsCode(err, core.CodeConfig) {
		t.Errorf("CodeOf(err) = %v, want config", core.CodeOf(err))
	}
}
