package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrSessionEnded = errors.New("session ended")
)

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	sessionByUser     map[string]string
	inactivityTimeout time.Duration
	historyLimit      int
	onExpire          func(Info)
}

func NewManager(inactivityTimeout time.Duration, historyLimit int) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		sessionByUser:     make(map[string]string),
		inactivityTimeout: inactivityTimeout,
		historyLimit:      historyLimit,
	}
}

func (m *Manager) SetExpireHook(hook func(Info)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

// Create starts a new session. A previous active session of the same user stays reachable by id.
func (m *Manager) Create(userID string) *Session {
	s := newSession(uuid.NewString(), userID, m.historyLimit)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	if userID != "" {
		m.sessionByUser[userID] = s.ID
	}
	return s
}

// ForUser returns the user's latest active session, creating one when none exists.
func (m *Manager) ForUser(userID string) *Session {
	m.mu.RLock()
	id, ok := m.sessionByUser[userID]
	var s *Session
	if ok {
		s = m.sessions[id]
	}
	m.mu.RUnlock()
	if s != nil && s.Status() == StatusActive {
		return s
	}
	return m.Create(userID)
}

// Get returns an active session and marks it as used.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status() != StatusActive {
		return nil, ErrSessionEnded
	}
	s.touch(time.Now().UTC())
	return s, nil
}

func (m *Manager) End(sessionID string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Info{}, ErrNotFound
	}
	s.end(time.Now().UTC())
	if s.UserID != "" && m.sessionByUser[s.UserID] == s.ID {
		delete(m.sessionByUser, s.UserID)
	}
	delete(m.sessions, s.ID)
	return s.Info(), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status() == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []Info

	m.mu.Lock()
	for id, s := range m.sessions {
		if !s.idleSince(now, m.inactivityTimeout) {
			continue
		}
		s.end(now)
		expired = append(expired, s.Info())
		if s.UserID != "" && m.sessionByUser[s.UserID] == id {
			delete(m.sessionByUser, s.UserID)
		}
		delete(m.sessions, id)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, info := range expired {
			hook(info)
		}
	}
}
