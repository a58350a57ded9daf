package providers

import (
	"log/slog"
	"os"

	"github.com/neuromance/neuromance/internal/core"
)

// New creates the adapter selected by cfg.Provider.
func New(cfg Config, logger *slog.Logger) (Client, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg, logger)
	case "anthropic":
		return NewAnthropicClient(cfg, logger)
	case "responses":
		return NewResponsesClient(cfg, logger)
	default:
		return nil, core.E(core.CodeConfig, "unknown provider %q (supported: openai, anthropic, responses)", cfg.Provider)
	}
}

// ResolveAPIKey reads the API key named by a profile's api_key_env.
func ResolveAPIKey(env string) (string, error) {
	if env == "" {
		return "", core.E(core.CodeConfig, "model profile has no api_key_env")
	}
	key := os.Getenv(env)
	if key == "" {
		return "", core.E(core.CodeConfig, "environment variable %s is not set", env)
	}
	return key, nil
}
