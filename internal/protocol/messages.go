package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType identifies websocket payload variants on the refresh stream.
type MessageType string

const (
	TypeClientControl        MessageType = "client_control"
	TypeTasksRefreshed       MessageType = "tasks_refreshed"
	TypeConfirmationRequired MessageType = "confirmation_required"
	TypeSessionExpired       MessageType = "session_expired"
	TypeErrorEvent           MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientControl is the only message a subscriber may send; "ping" is answered
// with nothing but keeps the read deadline alive.
type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
	TSMs   int64       `json:"ts_ms,omitempty"`
}

type TasksRefreshed struct {
	Type      MessageType `json:"type"`
	UserID    string      `json:"user_id"`
	SessionID string      `json:"session_id,omitempty"`
	Applied   int         `json:"applied"`
	TSMs      int64       `json:"ts_ms"`
}

type ConfirmationRequired struct {
	Type       MessageType `json:"type"`
	UserID     string      `json:"user_id"`
	SessionID  string      `json:"session_id,omitempty"`
	ActionType string      `json:"action_type"`
	TargetID   string      `json:"target_id"`
	TSMs       int64       `json:"ts_ms"`
}

type SessionExpired struct {
	Type      MessageType `json:"type"`
	UserID    string      `json:"user_id"`
	SessionID string      `json:"session_id"`
	TSMs      int64       `json:"ts_ms"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

func NewTasksRefreshed(userID, sessionID string, applied int) TasksRefreshed {
	return TasksRefreshed{
		Type:      TypeTasksRefreshed,
		UserID:    userID,
		SessionID: sessionID,
		Applied:   applied,
		TSMs:      time.Now().UnixMilli(),
	}
}

func NewConfirmationRequired(userID, sessionID, actionType, targetID string) ConfirmationRequired {
	return ConfirmationRequired{
		Type:       TypeConfirmationRequired,
		UserID:     userID,
		SessionID:  sessionID,
		ActionType: actionType,
		TargetID:   targetID,
		TSMs:       time.Now().UnixMilli(),
	}
}

func NewSessionExpired(userID, sessionID string) SessionExpired {
	return SessionExpired{
		Type:      TypeSessionExpired,
		UserID:    userID,
		SessionID: sessionID,
		TSMs:      time.Now().UnixMilli(),
	}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the wire type of a protocol message.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientControl:
		return m.Type, true
	case TasksRefreshed:
		return m.Type, true
	case ConfirmationRequired:
		return m.Type, true
	case SessionExpired:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
