package ai

import (
	"fmt"

	"github.com/rk100s/patchmasta/internal/config"
)

// defaultClaudeModel and defaultGroqModel are used when the caller (the
// cmd/patchmasta-chat CLI) doesn't override the model via a flag.
const (
	defaultClaudeModel = "claude-sonnet-4-5"
	defaultGroqModel   = "llama-3.3-70b-versatile"
)

// NewBackend constructs the Backend named by cfg.AIBackend, using the
// matching API key already loaded from the configuration document.
func NewBackend(cfg config.Config, model string) (Backend, error) {
	switch cfg.AIBackend {
	case config.BackendClaude:
		if cfg.ClaudeAPIKey == "" {
			return nil, fmt.Errorf("ai: claude_api_key is not set in configuration")
		}
		if model == "" {
			model = defaultClaudeModel
		}
		return NewAnthropicBackend(cfg.ClaudeAPIKey, model), nil
	case config.BackendGroq:
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("ai: groq_api_key is not set in configuration")
		}
		if model == "" {
			model = defaultGroqModel
		}
		return NewGroqBackend(cfg.GroqAPIKey, model), nil
	default:
		return nil, fmt.Errorf("ai: unknown ai_backend %q", cfg.AIBackend)
	}
}
