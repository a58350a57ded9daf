package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/neuromance/neuromance/internal/config"
	"github.com/neuromance/neuromance/internal/core"
	"github.com/neuromance/neuromance/internal/manager"
	"github.com/neuromance/neuromance/internal/providers"
	"github.com/neuromance/neuromance/internal/rpc"
	"github.com/neuromance/neuromance/internal/storage"
)

// scriptClient serves canned responses through the manager.
type scriptClient struct {
	cfg providers.Config

	mu        sync.Mutex
	responses []*core.ChatResponse
}

func (s *scriptClient) Config() providers.Config { return s.cfg }
func (s *scriptClient) SupportsTools() bool      { return true }
func (s *scriptClient) SupportsStreaming() bool  { return false }

func (s *scriptClient) Chat(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return nil, core.E(core.CodeInternal, "script exhausted")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptClient) ChatStream(ctx context.Context, req core.ChatRequest) (<-chan core.ChatChunk, <-chan error) {
	errCh := make(chan error, 1)
	errCh <- core.E(core.CodeInternal, "streaming not scripted")
	close(errCh)
	return nil, errCh
}

func assistantResponse(content string, calls ...core.ToolCall) *core.ChatResponse {
	msg := core.NewMessage("", core.RoleAssistant, content)
	msg.ToolCalls = calls
	finish := core.FinishStop
	if len(calls) > 0 {
		finish = core.FinishToolCalls
	}
	return &core.ChatResponse{
		Message:      msg,
		FinishReason: finish,
		Usage:        core.Usage{PromptTokens: 2, CompletionTokens: 3, TotalTokens: 5},
	}
}

type testDaemon struct {
	server  *Server
	client  *rpc.Client
	script  *scriptClient
	dataDir string
	done    chan error
	cancel  context.CancelFunc
}

func startDaemon(t *testing.T, script *scriptClient) *testDaemon {
	t.Helper()
	t.Setenv("NEUROMANCE_TEST_KEY", "sk-test")

	dataDir := t.TempDir()
	store, err := storage.NewStore(dataDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := config.NewManagerAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.SaveProfiles([]config.ModelProfile{
		{Nickname: "fast", Provider: "openai", Model: "gpt-4o-mini", APIKeyEnv: "NEUROMANCE_TEST_KEY"},
	}); err != nil {
		t.Fatal(err)
	}

	registry := core.NewRegistry()
	registry.Register(core.FuncTool{
		Def: core.ToolDefinition{
			Name:        "echo",
			Description: "echoes its input",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
		},
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		},
	})

	m := manager.NewManager(store, cfg, registry, nil,
		manager.WithClientFactory(func(pcfg providers.Config, _ *slog.Logger) (providers.Client, error) {
			script.cfg = pcfg
			return script, nil
		}))

	server := NewServer(m, dataDir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	socketPath := storage.SocketPath(dataDir)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("daemon socket never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn, err := grpc.NewClient("unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rpc.Codec()), grpc.WaitForReady(true)),
	)
	if err != nil {
		cancel()
		t.Fatalf("dialing daemon: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	return &testDaemon{
		server:  server,
		client:  rpc.NewClient(conn),
		script:  script,
		dataDir: dataDir,
		done:    done,
		cancel:  cancel,
	}
}
