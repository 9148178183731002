package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const providerHTTP = "http"

// HTTPGateway posts the prompt to a generic completion endpoint.
//
// The request body is {"messages":[{"role":...,"content":...}]}. The endpoint may answer with
// JSON carrying one of text/output/message/content, with plain text, or with an SSE/NDJSON stream
// whose chunks are concatenated.
type HTTPGateway struct {
	url    string
	client *http.Client
}

func NewHTTPGateway(url string) *HTTPGateway {
	return &HTTPGateway{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (g *HTTPGateway) Provider() string { return providerHTTP }

func (g *HTTPGateway) Complete(ctx context.Context, messages []Message) (string, error) {
	payload, err := json.Marshal(struct {
		Messages []Message `json:"messages"`
	}{Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", newProviderError(providerHTTP, 0, fmt.Errorf("send request: %w", err))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", newProviderError(providerHTTP, res.StatusCode, errors.New(strings.TrimSpace(string(body))))
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	var text string
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		text, err = consumeStreaming(res.Body)
		if err != nil {
			return "", newProviderError(providerHTTP, res.StatusCode, err)
		}
	} else {
		body, err := io.ReadAll(res.Body)
		if err != nil {
			return "", newProviderError(providerHTTP, res.StatusCode, fmt.Errorf("read response: %w", err))
		}
		var obj map[string]any
		if err := json.Unmarshal(body, &obj); err != nil {
			text = string(body)
		} else {
			text = extractText(obj)
		}
	}

	if strings.TrimSpace(text) == "" {
		return "", newProviderError(providerHTTP, res.StatusCode, ErrEmptyReply)
	}
	return text, nil
}

func consumeStreaming(body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			delta = extractText(obj)
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}
	return out.String(), nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "output", "message", "content"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
