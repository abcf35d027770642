package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// groqBaseURL points the OpenAI Chat Completions client at Groq's
// OpenAI-compatible endpoint instead of api.openai.com — Groq is the
// reference OpenAI-compatible provider named in spec §4.6.
const groqBaseURL = "https://api.groq.com/openai/v1"

// OpenAICompatBackend drives any Chat-Completions-compatible endpoint
// (Groq, or OpenAI itself) through github.com/openai/openai-go, wrapping
// tools as {"type":"function",...} and parsing arguments out of the JSON
// string form the Chat Completions API returns them in, per spec §4.6.
type OpenAICompatBackend struct {
	client openai.Client
	model  string
	name   string
}

// NewGroqBackend constructs a backend against Groq's OpenAI-compatible
// Chat Completions endpoint.
func NewGroqBackend(apiKey, model string) *OpenAICompatBackend {
	return &OpenAICompatBackend{
		client: openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(groqBaseURL)),
		model:  model,
		name:   "groq",
	}
}

// NewOpenAIBackend constructs a backend against OpenAI's own Chat
// Completions endpoint.
func NewOpenAIBackend(apiKey, model string) *OpenAICompatBackend {
	return &OpenAICompatBackend{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		name:   "openai",
	}
}

func (b *OpenAICompatBackend) Name() string { return b.name }

func toOpenAITools(tools []ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		out[i] = openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(t.InputSchema),
			},
		}
	}
	return out
}

func toOpenAIMessages(history []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch {
		case len(m.ToolResults) > 0:
			for _, r := range m.ToolResults {
				out = append(out, openai.ToolMessage(r.Text, r.ToolCallID))
			}
		case len(m.ToolCalls) > 0:
			calls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, c := range m.ToolCalls {
				calls[i] = openai.ChatCompletionMessageToolCallParam{
					ID: c.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      c.Name,
						Arguments: c.InputJSON,
					},
				}
			}
			msg := openai.ChatCompletionAssistantMessageParam{
				Content: openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(m.Text),
				},
				ToolCalls: calls,
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
		case m.Role == RoleSystem:
			out = append(out, openai.SystemMessage(m.Text))
		case m.Role == RoleUser:
			out = append(out, openai.UserMessage(m.Text))
		default:
			out = append(out, openai.AssistantMessage(m.Text))
		}
	}
	return out
}

func (b *OpenAICompatBackend) Chat(ctx context.Context, history []Message, systemPrompt string, tools []ToolSpec) (AssistantTurn, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, toOpenAIMessages(history)...)

	params := openai.ChatCompletionNewParams{
		Model:    b.model,
		Messages: messages,
		Tools:    toOpenAITools(tools),
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return AssistantTurn{}, err
	}
	if len(resp.Choices) == 0 {
		return AssistantTurn{}, fmt.Errorf("ai: %s: response had no choices", b.name)
	}

	choice := resp.Choices[0].Message
	turn := AssistantTurn{Text: choice.Content}
	for _, tc := range choice.ToolCalls {
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			InputJSON: normalizeArguments(tc.Function.Arguments),
		})
	}
	return turn, nil
}

// normalizeArguments guards against a backend returning an empty string
// for a no-argument tool call, which json.Unmarshal rejects outright.
func normalizeArguments(args string) string {
	if args == "" {
		return "{}"
	}
	var probe json.RawMessage
	if json.Unmarshal([]byte(args), &probe) != nil {
		return "{}"
	}
	return args
}
