// Package providers translates the neutral chat model to and from the
// three supported provider wire formats: OpenAI Chat Completions, OpenAI
// Responses, and Anthropic Messages.
package providers

import (
	"github.com/neuromance/neuromance/internal/core"
)

// Config identifies one configured model endpoint.
type Config struct {
	// Provider selects the adapter: "openai", "anthropic" or "responses".
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"-"`
	BaseURL  string `json:"base_url,omitempty"`

	// ProxyURL, when set, rewrites requests to a tokenizer proxy that
	// holds the real credential; SealedToken replaces the API key.
	ProxyURL    string `json:"proxy_url,omitempty"`
	SealedToken string `json:"-"`

	// MaxTokens is the default output budget when the request does not
	// carry one.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Client is the provider adapter contract. Implementations also satisfy
// core.Provider.
type Client interface {
	core.Provider
	Config() Config
}

// ValidateRequest applies the common pre-flight checks: structural and
// range validation, plus capability checks against the adapter.
func ValidateRequest(c Client, req core.ChatRequest) error {
	if err := req.Validate(); err != nil {
		return core.Wrap(core.CodeInvalidRequest, err, "invalid chat request")
	}
	if len(req.Tools) > 0 && !c.SupportsTools() {
		return core.E(core.CodeInvalidRequest, "provider %s does not support tools", c.Config().Provider)
	}
	if req.Stream && !c.SupportsStreaming() {
		return core.E(core.CodeInvalidRequest, "provider %s does not support streaming", c.Config().Provider)
	}
	return nil
}
