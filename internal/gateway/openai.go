package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const providerOpenAI = "openai"

// OpenAIGateway calls the chat completions API.
type OpenAIGateway struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
}

func NewOpenAIGateway(cfg Config) *OpenAIGateway {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.OpenAIAPIKey))}
	if strings.TrimSpace(cfg.OpenAIURL) != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSpace(cfg.OpenAIURL)))
	}
	model := strings.TrimSpace(cfg.OpenAIModel)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIGateway{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (g *OpenAIGateway) Provider() string { return providerOpenAI }

func (g *OpenAIGateway) Complete(ctx context.Context, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(g.model),
		Messages:    buildOpenAIMessages(messages),
		Temperature: openai.Float(g.temperature),
	}
	if g.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(g.maxTokens))
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		status := 0
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return "", newProviderError(providerOpenAI, status, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", newProviderError(providerOpenAI, 0, ErrEmptyReply)
	}
	return resp.Choices[0].Message.Content, nil
}

func buildOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
