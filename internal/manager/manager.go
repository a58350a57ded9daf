// Package manager coordinates conversations: it owns the provider
// client cache, the conversation-to-model map, and the pending tool
// approvals that bridge chat loops to approval RPCs.
package manager

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/neuromance/neuromance/internal/config"
	"github.com/neuromance/neuromance/internal/core"
	"github.com/neuromance/neuromance/internal/providers"
	"github.com/neuromance/neuromance/internal/storage"
)

const titleLimit = 50

// EventSink receives chat progress events in production order.
type EventSink interface {
	Delta(content string)
	ToolResult(name, result string, success bool)
	Usage(usage core.Usage)
	ApprovalRequest(conversationID string, call core.ToolCall)
	Completed(conversationID string, message core.Message, usage core.Usage)
}

type approvalKey struct {
	conversationID string
	toolCallID     string
}

type cachedClient struct {
	nickname string
	client   providers.Client
}

// Manager is shared by all daemon connections.
type Manager struct {
	store    *storage.Store
	config   *config.Manager
	registry *core.Registry
	logger   *slog.Logger

	// newClient builds provider clients; tests swap it for a fake.
	newClient func(providers.Config, *slog.Logger) (providers.Client, error)

	mu      sync.RWMutex
	clients map[string]cachedClient // conversation id -> provider client
	models  map[string]string       // conversation id -> model nickname

	approvalMu sync.Mutex
	approvals  map[approvalKey]chan core.Approval
}

// Option configures a Manager.
type Option func(*Manager)

// WithClientFactory overrides provider-client construction. Tests use
// this to run the chat loop against a fake provider.
func WithClientFactory(fn func(providers.Config, *slog.Logger) (providers.Client, error)) Option {
	return func(m *Manager) { m.newClient = fn }
}

// NewManager wires the manager over its storage and configuration.
func NewManager(store *storage.Store, cfg *config.Manager, registry *core.Registry, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = core.NewRegistry()
	}
	m := &Manager{
		store:     store,
		config:    cfg,
		registry:  registry,
		logger:    logger,
		newClient: providers.New,
		clients:   map[string]cachedClient{},
		models:    map[string]string{},
		approvals: map[approvalKey]chan core.Approval{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store exposes the underlying storage for read-side RPCs.
func (m *Manager) Store() *storage.Store { return m.store }

// Config exposes the configuration manager.
func (m *Manager) Config() *config.Manager { return m.config }

// CreateConversation creates, persists and activates a conversation.
func (m *Manager) CreateConversation(title string) (*core.Conversation, error) {
	conv := core.NewConversation()
	conv.Title = title
	if err := m.store.SaveConversation(conv); err != nil {
		return nil, err
	}
	if err := m.store.SetCurrent(conv.ID); err != nil {
		return nil, err
	}
	return conv, nil
}

// resolveTarget maps an optional reference to a concrete conversation
// id, defaulting to the active conversation.
func (m *Manager) resolveTarget(ref string) (string, error) {
	if ref == "" {
		return m.store.Current()
	}
	return m.store.Resolve(ref)
}

// modelFor picks the nickname for a conversation: the in-memory switch
// map first, then the model recorded in conversation metadata, then the
// configured default. A single configured profile serves as implicit
// default.
func (m *Manager) modelFor(conv *core.Conversation) (string, error) {
	m.mu.RLock()
	nickname := m.models[conv.ID]
	m.mu.RUnlock()
	if nickname != "" {
		return nickname, nil
	}

	if raw, ok := conv.Metadata["model"]; ok {
		var recorded string
		if err := json.Unmarshal(raw, &recorded); err == nil && recorded != "" {
			if _, err := m.config.Profile(recorded); err == nil {
				return recorded, nil
			}
			m.logger.Warn("conversation references unknown model, falling back",
				"conversation", conv.ID, "model", recorded)
		}
	}

	if def := m.config.Settings().DefaultModel; def != "" {
		return def, nil
	}
	if profiles := m.config.Profiles(); len(profiles) == 1 {
		return profiles[0].Nickname, nil
	}
	return "", core.E(core.CodeConfig, "no model selected and no default_model configured")
}

// clientFor returns the cached provider client for a conversation,
// building one when absent or when the model changed.
func (m *Manager) clientFor(conversationID, nickname string) (providers.Client, error) {
	m.mu.RLock()
	cached, ok := m.clients[conversationID]
	m.mu.RUnlock()
	if ok && cached.nickname == nickname {
		return cached.client, nil
	}

	profile, err := m.config.Profile(nickname)
	if err != nil {
		return nil, err
	}
	apiKey, err := providers.ResolveAPIKey(profile.APIKeyEnv)
	if err != nil {
		return nil, err
	}

	pcfg := providers.Config{
		Provider:  profile.Provider,
		Model:     profile.Model,
		APIKey:    apiKey,
		BaseURL:   profile.BaseURL,
		ProxyURL:  profile.ProxyURL,
		MaxTokens: profile.MaxTokens,
	}
	if profile.SealedTokenEnv != "" {
		token, err := providers.ResolveAPIKey(profile.SealedTokenEnv)
		if err != nil {
			return nil, err
		}
		pcfg.SealedToken = token
	}

	client, err := m.newClient(pcfg, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.clients[conversationID] = cachedClient{nickname: nickname, client: client}
	m.mu.Unlock()
	return client, nil
}

// SwitchModel changes the model for a conversation (the active one when
// ref is empty), dropping any cached client for it.
func (m *Manager) SwitchModel(ref, nickname string) error {
	if _, err := m.config.Profile(nickname); err != nil {
		return err
	}
	id, err := m.resolveTarget(ref)
	if err != nil {
		return err
	}
	conv, err := m.store.LoadConversation(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.models[id] = nickname
	delete(m.clients, id)
	m.mu.Unlock()

	if conv.Metadata == nil {
		conv.Metadata = map[string]json.RawMessage{}
	}
	recorded, err := json.Marshal(nickname)
	if err != nil {
		return core.Wrap(core.CodeSerialization, err, "recording model switch")
	}
	conv.Metadata["model"] = recorded
	return m.store.SaveConversation(conv)
}

// ListModels returns the configured profiles with the default flagged.
func (m *Manager) ListModels() []config.ModelProfile {
	return m.config.Profiles()
}

// CachedClients reports the provider-client cache size.
func (m *Manager) CachedClients() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// PendingApprovals reports how many tool calls await a verdict.
func (m *Manager) PendingApprovals() int {
	m.approvalMu.Lock()
	defer m.approvalMu.Unlock()
	return len(m.approvals)
}

// ApproveTool posts a verdict to the chat loop waiting on the given
// tool call.
func (m *Manager) ApproveTool(conversationID, toolCallID string, approval core.Approval) error {
	key := approvalKey{conversationID: conversationID, toolCallID: toolCallID}

	m.approvalMu.Lock()
	ch, ok := m.approvals[key]
	if ok {
		delete(m.approvals, key)
	}
	m.approvalMu.Unlock()

	if !ok {
		return core.E(core.CodeToolUnknown, "no pending approval for tool call %s", toolCallID)
	}
	ch <- approval
	close(ch)
	return nil
}

// CancelApprovals closes every pending reply channel for a
// conversation; waiting loops observe a denial.
func (m *Manager) CancelApprovals(conversationID string) {
	m.approvalMu.Lock()
	defer m.approvalMu.Unlock()
	for key, ch := range m.approvals {
		if key.conversationID == conversationID {
			delete(m.approvals, key)
			close(ch)
		}
	}
}

func (m *Manager) registerApproval(key approvalKey) chan core.Approval {
	ch := make(chan core.Approval, 1)
	m.approvalMu.Lock()
	m.approvals[key] = ch
	m.approvalMu.Unlock()
	return ch
}

func (m *Manager) dropApproval(key approvalKey) {
	m.approvalMu.Lock()
	delete(m.approvals, key)
	m.approvalMu.Unlock()
}
