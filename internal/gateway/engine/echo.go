package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/tansive/agentgateway/internal/gateway/tools"
	"github.com/tansive/agentgateway/internal/gateway/turn"
)

// Echo answers without a model. It understands a few commands so the credential
// flow can be exercised by hand:
//
//	/connect <provider>          ask the user to authorize provider
//	/tool <provider__tool> {...} call a tool with the session's credentials
//	/reset                       drop the conversation history
//
// Anything else is echoed back.
type Echo struct {
	tools ToolSource
	auth  Authorizer
}

var _ turn.Engine = (*Echo)(nil)

func NewEcho(src ToolSource, auth Authorizer) *Echo {
	return &Echo{tools: src, auth: auth}
}

func (e *Echo) RunTurn(ctx context.Context, req turn.TurnRequest) (turn.Streamer, error) {
	if req.Session == nil {
		return nil, turn.ErrTurnExecution.Msg("no session for turn")
	}
	sess := req.Session
	return startStream(ctx, func(ctx context.Context, emit emitFunc) error {
		cmd, rest, _ := strings.Cut(strings.TrimSpace(req.Message), " ")
		switch cmd {
		case "/connect":
			chunk, err := authRequired(e.auth, strings.TrimSpace(rest), sess.ID())
			if err != nil {
				return err
			}
			emit(chunk)
			return nil

		case "/tool":
			if e.tools == nil {
				return turn.ErrTurnExecution.Msg("no tool servers configured")
			}
			name, args, _ := strings.Cut(strings.TrimSpace(rest), " ")
			if !emit(turn.TextChunk{Content: "Calling " + name, Type: turn.TypeToolCall}) {
				return nil
			}
			result, err := e.tools.Call(ctx, sess, name, args)
			var authErr *tools.AuthRequiredError
			if errors.As(err, &authErr) {
				chunk, aerr := authRequired(e.auth, authErr.Provider, sess.ID())
				if aerr != nil {
					return aerr
				}
				emit(chunk)
				return nil
			}
			emit(turn.TextChunk{Content: toolContent(result, err)})
			return nil

		case "/reset":
			resetHistory(sess)
			emit(turn.TextChunk{Content: "Conversation history cleared."})
			return nil
		}

		emit(turn.TextChunk{Content: "Echo: " + req.Message})
		return nil
	}), nil
}
