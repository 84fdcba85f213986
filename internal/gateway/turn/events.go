package turn

// Event names on the chat stream.
const (
	EventSession     = "session"
	EventMessage     = "message"
	EventPendingAuth = "pending_auth"
	EventDone        = "done"
	EventError       = "error"
)

// Event is one named event. Data is one of the payload types below.
type Event struct {
	Name string
	Data any
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	switch e.Name {
	case EventPendingAuth, EventDone, EventError:
		return true
	}
	return false
}

type SessionPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type MessagePayload struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

type PendingAuthPayload struct {
	AuthURL     string `json:"auth_url"`
	Provider    string `json:"provider"`
	Description string `json:"description"`
	SessionID   string `json:"session_id"`
}

type DonePayload struct {
	Status string `json:"status"`
}

type ErrorPayload struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// Emitter delivers an event to the client. An error means the client is gone.
type Emitter func(Event) error
