package app

import (
	"context"
	"testing"
	"time"

	"github.com/antoniostano/taskpilot/internal/assistant"
	"github.com/antoniostano/taskpilot/internal/config"
	"github.com/antoniostano/taskpilot/internal/protocol"
)

func TestBuildWiresMemoryStoreAndMockModel(t *testing.T) {
	built, err := Build(context.Background(), config.Config{
		MetricsNamespace:         "taskpilot_test_app",
		StoreDriver:              "memory",
		ModelProvider:            "mock",
		SessionInactivityTimeout: 30 * time.Millisecond,
		HistoryLimit:             10,
	}, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() {
		if err := built.Cleanup(); err != nil {
			t.Errorf("Cleanup() error = %v", err)
		}
	})

	if got := built.Gateway.Provider(); got != "mock" {
		t.Fatalf("provider = %q, want mock", got)
	}

	sess := built.Sessions.Create("user-1")
	reply, err := built.Assistant.ProcessUserMessage(context.Background(), sess, "help me open a bookstore")
	if err != nil {
		t.Fatalf("ProcessUserMessage() error = %v", err)
	}
	if reply.State != assistant.StateCompleted {
		t.Fatalf("state = %q, want completed", reply.State)
	}
	snap, err := built.Assistant.Snapshot(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snap.Projects) != 1 || len(snap.Tasks) == 0 {
		t.Fatalf("snapshot = %d projects, %d tasks", len(snap.Projects), len(snap.Tasks))
	}

	events, cancel := built.Hub.Subscribe("user-1")
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	built.Sessions.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case evt := <-events:
		expired, ok := evt.(protocol.SessionExpired)
		if !ok {
			t.Fatalf("event = %T, want protocol.SessionExpired", evt)
		}
		if expired.SessionID != sess.ID {
			t.Fatalf("session_id = %q, want %q", expired.SessionID, sess.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no session_expired event published")
	}
}

func TestBuildRejectsUnknownStoreDriver(t *testing.T) {
	_, err := Build(context.Background(), config.Config{
		MetricsNamespace: "taskpilot_test_app_bad",
		StoreDriver:      "cassandra",
		ModelProvider:    "mock",
	}, nil)
	if err == nil {
		t.Fatalf("Build() error = nil, want unsupported driver")
	}
}
