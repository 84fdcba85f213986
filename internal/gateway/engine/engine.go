// Package engine provides the orchestration engines the turn runner drives: an
// OpenAI chat completions engine with a tool loop over the providers' MCP tools,
// and an echo engine for running the gateway without a model.
package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/tansive/agentgateway/internal/gateway/oauth"
	"github.com/tansive/agentgateway/internal/gateway/session"
	"github.com/tansive/agentgateway/internal/gateway/tools"
	"github.com/tansive/agentgateway/internal/gateway/turn"
)

// ToolSource lists and calls provider tools for a session.
type ToolSource interface {
	Providers() []string
	Tools(ctx context.Context, sess *session.Session, provider string) ([]*tools.Tool, error)
	Call(ctx context.Context, sess *session.Session, qualified, rawArgs string) (*tools.Result, error)
}

// Authorizer describes providers and builds their authorization URLs.
type Authorizer interface {
	Get(name string) (*oauth.Provider, bool)
	AuthURL(provider, sessionID string) (string, error)
}

var (
	_ ToolSource = (*tools.Catalog)(nil)
	_ Authorizer = (*oauth.Registry)(nil)
)

// authRequired builds the chunk that suspends a turn on provider.
func authRequired(auth Authorizer, provider, sessionID string) (turn.AuthRequiredChunk, error) {
	url, err := auth.AuthURL(provider, sessionID)
	if err != nil {
		return turn.AuthRequiredChunk{}, err
	}
	chunk := turn.AuthRequiredChunk{Provider: provider, AuthURL: url}
	if p, ok := auth.Get(provider); ok {
		chunk.Description = p.Description
	}
	return chunk, nil
}

// toolsByProvider loads the tools of every provider. A provider that refuses the
// listing for lack of authorization is reported in needsAuth instead.
func toolsByProvider(ctx context.Context, src ToolSource, sess *session.Session) (available []*tools.Tool, needsAuth []string) {
	for _, provider := range src.Providers() {
		listed, err := src.Tools(ctx, sess, provider)
		var authErr *tools.AuthRequiredError
		switch {
		case errors.As(err, &authErr):
			needsAuth = append(needsAuth, provider)
		case err != nil:
			log.Ctx(ctx).Warn().Str("provider", provider).Err(err).Msg("unable to list tools")
		default:
			available = append(available, listed...)
		}
	}
	return available, needsAuth
}
