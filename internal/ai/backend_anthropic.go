package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicVersion    = "2023-06-01"
	anthropicMaxTokens   = 4096
	anthropicHTTPTimeout = 60 * time.Second
)

// AnthropicBackend talks to Anthropic's Messages API directly over HTTP —
// the retrieval pack carries no Anthropic SDK, so this follows the same
// raw net/http + encoding/json shape the pack's OpenAI provider falls
// back to for requests its SDK doesn't cover.
type AnthropicBackend struct {
	apiKey string
	model  string
	client *http.Client
}

// NewAnthropicBackend constructs a backend for the named model (e.g.
// "claude-sonnet-4-5").
func NewAnthropicBackend(apiKey, model string) *AnthropicBackend {
	return &AnthropicBackend{
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: anthropicHTTPTimeout},
	}
}

func (b *AnthropicBackend) Name() string { return "anthropic" }

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func toAnthropicMessages(history []Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(history))
	for _, m := range history {
		switch {
		case len(m.ToolResults) > 0:
			blocks := make([]anthropicContentBlock, len(m.ToolResults))
			for i, r := range m.ToolResults {
				blocks[i] = anthropicContentBlock{Type: "tool_result", ToolUseID: r.ToolCallID, Content: r.Text}
			}
			out = append(out, anthropicMessage{Role: "user", Content: blocks})
		case len(m.ToolCalls) > 0:
			blocks := make([]anthropicContentBlock, 0, len(m.ToolCalls)+1)
			if m.Text != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: m.Text})
			}
			for _, c := range m.ToolCalls {
				blocks = append(blocks, anthropicContentBlock{
					Type: "tool_use", ID: c.ID, Name: c.Name, Input: json.RawMessage(c.InputJSON),
				})
			}
			out = append(out, anthropicMessage{Role: "assistant", Content: blocks})
		default:
			role := string(m.Role)
			if m.Role == RoleSystem {
				role = "user" // system prompt is passed separately; stray system turns fold into user
			}
			out = append(out, anthropicMessage{Role: role, Content: []anthropicContentBlock{{Type: "text", Text: m.Text}}})
		}
	}
	return out
}

func toAnthropicTools(tools []ToolSpec) []anthropicTool {
	out := make([]anthropicTool, len(tools))
	for i, t := range tools {
		out[i] = anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
	}
	return out
}

func (b *AnthropicBackend) Chat(ctx context.Context, history []Message, systemPrompt string, tools []ToolSpec) (AssistantTurn, error) {
	reqBody := anthropicRequest{
		Model:     b.model,
		MaxTokens: anthropicMaxTokens,
		System:    systemPrompt,
		Messages:  toAnthropicMessages(history),
		Tools:     toAnthropicTools(tools),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return AssistantTurn{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicAPIURL, bytes.NewReader(payload))
	if err != nil {
		return AssistantTurn{}, err
	}
	req.Header.Set("x-api-key", b.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return AssistantTurn{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return AssistantTurn{}, err
	}

	var decoded anthropicResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return AssistantTurn{}, fmt.Errorf("ai: anthropic: decoding response: %w", err)
	}
	if decoded.Error != nil {
		return AssistantTurn{}, fmt.Errorf("ai: anthropic: %s: %s", decoded.Error.Type, decoded.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return AssistantTurn{}, fmt.Errorf("ai: anthropic: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var turn AssistantTurn
	for _, block := range decoded.Content {
		switch block.Type {
		case "text":
			turn.Text += block.Text
		case "tool_use":
			turn.ToolCalls = append(turn.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, InputJSON: string(block.Input)})
		}
	}
	return turn, nil
}
