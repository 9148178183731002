package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/antoniostano/taskpilot/internal/actions"
	"github.com/antoniostano/taskpilot/internal/gateway"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Session owns one user's chat state: bounded history and at most one pending confirmation.
type Session struct {
	ID        string
	UserID    string
	StartedAt time.Time

	// turn is a one-slot semaphore serializing user turns.
	turn chan struct{}

	mu             sync.Mutex
	status         Status
	lastActivityAt time.Time
	history        *History
	pending        *actions.Confirmation
}

// Info is a read-only snapshot of a session.
type Info struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	HistoryLen     int       `json:"history_len"`
	HasPending     bool      `json:"has_pending_confirmation"`
}

func newSession(id, userID string, historyLimit int) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:             id,
		UserID:         userID,
		StartedAt:      now,
		turn:           make(chan struct{}, 1),
		status:         StatusActive,
		lastActivityAt: now,
		history:        NewHistory(historyLimit),
	}
}

// BeginTurn blocks until no other turn is running on this session. The returned func ends the turn.
func (s *Session) BeginTurn(ctx context.Context) (func(), error) {
	select {
	case s.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-s.turn })
	}, nil
}

// Append records a turn and refreshes the activity timestamp.
func (s *Session) Append(role gateway.Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Append(gateway.Message{Role: role, Content: content})
	s.lastActivityAt = time.Now().UTC()
}

func (s *Session) History() []gateway.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Messages()
}

// SetPending replaces the pending confirmation. A nil value clears it.
func (s *Session) SetPending(c *actions.Confirmation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == nil {
		s.pending = nil
		return
	}
	cp := *c
	s.pending = &cp
}

func (s *Session) Pending() *actions.Confirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	cp := *s.pending
	return &cp
}

// TakePending returns the pending confirmation and clears it.
func (s *Session) TakePending() *actions.Confirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.pending
	s.pending = nil
	return c
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:             s.ID,
		UserID:         s.UserID,
		Status:         s.status,
		StartedAt:      s.StartedAt,
		LastActivityAt: s.lastActivityAt,
		HistoryLen:     s.history.Len(),
		HasPending:     s.pending != nil,
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivityAt = now
	s.mu.Unlock()
}

func (s *Session) end(now time.Time) {
	s.mu.Lock()
	s.status = StatusEnded
	s.pending = nil
	s.lastActivityAt = now
	s.mu.Unlock()
}

// idleSince reports whether the session is active and idle for at least ttl.
func (s *Session) idleSince(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusActive && now.Sub(s.lastActivityAt) >= ttl
}
