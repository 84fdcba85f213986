package api

import (
	"encoding/json"
	"fmt"
)

// APIVersion is the HTTP contract version this client speaks.
const APIVersion = "1.1.0"

// APIVersionHeader announces APIVersion on every request.
const APIVersionHeader = "X-AgentGW-API-Version"

// Event names on the chat stream.
const (
	EventSession     = "session"
	EventMessage     = "message"
	EventPendingAuth = "pending_auth"
	EventDone        = "done"
	EventError       = "error"
)

// ChatRequest starts a turn. An empty SessionID asks the gateway for a new session.
type ChatRequest struct {
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// Event is one server-sent event from /chat/stream.
type Event struct {
	Name string
	Data json.RawMessage
}

// Terminal reports whether the gateway sends nothing after e.
func (e Event) Terminal() bool {
	switch e.Name {
	case EventPendingAuth, EventDone, EventError:
		return true
	}
	return false
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decoding %s event: %w", e.Name, err)
	}
	return nil
}

type SessionEvent struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type MessageEvent struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

type PendingAuthEvent struct {
	AuthURL     string `json:"auth_url"`
	Provider    string `json:"provider"`
	Description string `json:"description"`
	SessionID   string `json:"session_id"`
}

type DoneEvent struct {
	Status string `json:"status"`
}

type ErrorEvent struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// CallbackResult acknowledges a stored provider credential.
type CallbackResult struct {
	Status    string `json:"status"`
	Provider  string `json:"provider"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// SessionInfo describes a session. Auth maps provider names to whether the session
// holds a credential for them.
type SessionInfo struct {
	SessionID string
	UserID    string
	Auth      map[string]bool
}

// Readiness is the /ready body.
type Readiness struct {
	Status    string   `json:"status"`
	Sessions  int      `json:"sessions"`
	Providers []string `json:"providers"`
	Uptime    string   `json:"uptime"`
}

// VersionInfo is the /version body.
type VersionInfo struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
	Engine        string `json:"engine,omitempty"`
}

// Error is a non-2xx gateway answer.
type Error struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *Error) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.StatusCode, e.Type)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}
