package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/antoniostano/taskpilot/internal/reliability"
)

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged prompt entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Gateway sends an ordered prompt to a language-model provider and returns one reply.
type Gateway interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Provider() string
}

// ErrEmptyReply is returned when a provider answers without any text.
var ErrEmptyReply = errors.New("no response from model")

// ProviderError tags a failure with the provider that produced it so callers can fail over.
type ProviderError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s provider error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s provider error: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Class returns the status class used for metrics labels.
func (e *ProviderError) Class() reliability.StatusClass {
	return reliability.ClassifyHTTPStatus(e.StatusCode)
}

func newProviderError(provider string, status int, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Retryable:  reliability.IsRetryableHTTPStatus(status),
		Err:        err,
	}
}

// Config controls gateway construction.
type Config struct {
	Mode         string
	Fallback     string
	Temperature  float64
	MaxTokens    int
	OpenAIAPIKey string
	OpenAIModel  string
	OpenAIURL    string
	GeminiAPIKey string
	GeminiModel  string
	HTTPURL      string
}

// New builds the configured gateway, wrapping it with a fallback provider when one is set.
func New(ctx context.Context, cfg Config) (Gateway, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	primary, err := newProvider(ctx, mode, cfg)
	if err != nil {
		return nil, err
	}

	fallbackMode := strings.ToLower(strings.TrimSpace(cfg.Fallback))
	if fallbackMode == "" || fallbackMode == mode {
		return primary, nil
	}
	secondary, err := newProvider(ctx, fallbackMode, cfg)
	if err != nil {
		return nil, fmt.Errorf("fallback provider: %w", err)
	}
	return NewFallbackGateway(primary, secondary), nil
}

func newProvider(ctx context.Context, mode string, cfg Config) (Gateway, error) {
	switch mode {
	case "auto":
		return newAutoGateway(ctx, cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, errors.New("OPENAI_API_KEY is required for openai mode")
		}
		return NewOpenAIGateway(cfg), nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, errors.New("GEMINI_API_KEY is required for gemini mode")
		}
		return NewGeminiGateway(ctx, cfg)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("MODEL_HTTP_URL is required for http mode")
		}
		return NewHTTPGateway(cfg.HTTPURL), nil
	case "mock":
		return NewMockGateway(), nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", mode)
	}
}

// newAutoGateway prefers OpenAI, then Gemini, then a plain HTTP endpoint; with two hosted
// providers configured the second one becomes the fallback.
func newAutoGateway(ctx context.Context, cfg Config) Gateway {
	var chain []Gateway
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		chain = append(chain, NewOpenAIGateway(cfg))
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		if gm, err := NewGeminiGateway(ctx, cfg); err == nil {
			chain = append(chain, gm)
		}
	}
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		chain = append(chain, NewHTTPGateway(cfg.HTTPURL))
	}

	switch len(chain) {
	case 0:
		return NewMockGateway()
	case 1:
		return chain[0]
	default:
		return NewFallbackGateway(chain[0], chain[1])
	}
}

func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
