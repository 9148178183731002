package gateway

import (
	"context"
	"fmt"
	"strings"
)

const providerMock = "mock"

// MockGateway provides deterministic local replies when no provider is configured.
type MockGateway struct{}

func NewMockGateway() *MockGateway { return &MockGateway{} }

func (g *MockGateway) Provider() string { return providerMock }

func (g *MockGateway) Complete(ctx context.Context, messages []Message) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return buildMockReply(lastUserText(messages)), nil
}

const mockBookstoreBlock = `{"actions":[` +
	`{"type":"create_project","data":{"name":"Bookstore","color":"#4f46e5"}},` +
	`{"type":"create_task","data":{"title":"Find a location","priority":"high","projectKey":"Bookstore"}},` +
	`{"type":"create_task","data":{"title":"Source initial inventory","priority":"medium","projectKey":"Bookstore"}}]}`

func buildMockReply(input string) string {
	base := strings.TrimSpace(input)
	if base == "" {
		return "I'm here to help with your tasks."
	}
	if strings.Contains(strings.ToLower(base), "bookstore") {
		return "I've created a Bookstore project with a couple of starter tasks.\n\n" +
			"__ACTION_DATA:" + mockBookstoreBlock + "__ACTION_DATA:"
	}
	return fmt.Sprintf("I heard you: %s", base)
}

func lastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
