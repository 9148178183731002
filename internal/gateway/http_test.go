package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConsumeStreamingSSE(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		"",
		"data: {\"delta\":\"Hel\"}",
		"",
		"data: {\"delta\":\"lo\"}",
		"",
		"data: [DONE]",
		"",
	}, "\n"))

	got, err := consumeStreaming(stream)
	if err != nil {
		t.Fatalf("consumeStreaming() error = %v", err)
	}
	if got != "Hello" {
		t.Fatalf("consumeStreaming() = %q, want %q", got, "Hello")
	}
}

func TestHTTPGatewaySendsMessagesAndReadsJSON(t *testing.T) {
	var gotRoles []Role
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, m := range body.Messages {
			gotRoles = append(gotRoles, m.Role)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"sure thing"}`))
	}))
	defer srv.Close()

	reply, err := NewHTTPGateway(srv.URL).Complete(context.Background(), userPrompt("hi"))
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply != "sure thing" {
		t.Fatalf("reply = %q, want %q", reply, "sure thing")
	}
	if len(gotRoles) != 2 || gotRoles[0] != RoleSystem || gotRoles[1] != RoleUser {
		t.Fatalf("roles = %v, want [system user]", gotRoles)
	}
}

func TestHTTPGatewayClassifiesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPGateway(srv.URL).Complete(context.Background(), userPrompt("hi"))
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if perr.StatusCode != http.StatusTooManyRequests || !perr.Retryable {
		t.Fatalf("provider error = %+v, want retryable 429", perr)
	}
	if perr.Class() != "rate_limited" {
		t.Fatalf("Class() = %q, want rate_limited", perr.Class())
	}
}

func TestHTTPGatewayRejectsEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  "}`))
	}))
	defer srv.Close()

	_, err := NewHTTPGateway(srv.URL).Complete(context.Background(), userPrompt("hi"))
	if !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("error = %v, want ErrEmptyReply", err)
	}
}
