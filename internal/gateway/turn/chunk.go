// Package turn drives one orchestration turn: it resolves the session, streams the
// engine's output as events, and ends the stream with exactly one terminal event.
// A turn that needs an authorization the session does not have ends with a
// pending_auth event; the OAuth callback then stores the token through Resume and
// the client's next turn on the same session continues the conversation.
package turn

import (
	"context"

	"github.com/tansive/agentgateway/internal/gateway/session"
)

// Chunk is one unit of engine output. It is either a TextChunk or an
// AuthRequiredChunk.
type Chunk interface {
	isChunk()
}

// TextChunk carries content for a message event. An empty Type means "text".
type TextChunk struct {
	Content string
	Type    string
}

// AuthRequiredChunk reports that a tool call was rejected for lack of a credential.
// It ends the turn.
type AuthRequiredChunk struct {
	Provider    string
	AuthURL     string
	Description string
}

func (TextChunk) isChunk()         {}
func (AuthRequiredChunk) isChunk() {}

// Message types carried by TextChunk.
const (
	TypeText     = "text"
	TypeToolCall = "tool_call"
)

// TurnRequest is the input to one engine turn.
type TurnRequest struct {
	Session *session.Session
	Message string
}

// Engine runs turns. Implementations stop producing chunks once ctx is done or
// Close is called.
type Engine interface {
	RunTurn(ctx context.Context, req TurnRequest) (Streamer, error)
}

// Streamer yields a turn's chunks. Recv returns io.EOF after the last chunk.
type Streamer interface {
	Recv() (Chunk, error)
	Close() error
}
