package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const providerGemini = "gemini"

// GeminiGateway calls the Gemini API. System messages become the system instruction.
type GeminiGateway struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

func NewGeminiGateway(ctx context.Context, cfg Config) (*GeminiGateway, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.GeminiAPIKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := strings.TrimSpace(cfg.GeminiModel)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiGateway{
		client:      client,
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
	}, nil
}

func (g *GeminiGateway) Provider() string { return providerGemini }

func (g *GeminiGateway) Complete(ctx context.Context, messages []Message) (string, error) {
	system, turns := splitSystem(messages)
	contents := buildGeminiContents(turns)
	if len(contents) == 0 {
		return "", newProviderError(providerGemini, 0, fmt.Errorf("no user content to send"))
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	}
	if g.maxTokens > 0 {
		genCfg.MaxOutputTokens = g.maxTokens
	}
	if strings.TrimSpace(system) != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, genCfg)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", newProviderError(providerGemini, geminiStatus(err), err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", newProviderError(providerGemini, 0, ErrEmptyReply)
	}
	return text, nil
}

func buildGeminiContents(turns []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}

// geminiStatus returns the HTTP status carried by a genai API error, or 0.
func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return 0
}
