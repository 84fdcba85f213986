package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/tansive/agentgateway/internal/common/httpx"
	"github.com/tansive/agentgateway/internal/common/logtrace"
	"github.com/tansive/agentgateway/internal/gateway/oauth"
)

// oauthCallback exchanges the authorization code and stores the credential in the
// session. The session id comes from the query, or from a signed state when the
// query has none.
func (s *GatewayServer) oauthCallback(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")
	sessionID := q.Get("session_id")

	// an unknown provider surfaces from the exchange, after the session check
	if code == "" {
		return nil, httpx.ErrInvalidRequest("code is required")
	}

	signer := s.registry.Signer()
	switch {
	case state != "" && sessionID == "":
		sid, prv, err := signer.Parse(state)
		if err != nil {
			return nil, err
		}
		if prv != provider {
			return nil, oauth.ErrInvalidState.Msg("state was issued for another provider")
		}
		sessionID = sid
	case state != "":
		if err := signer.Verify(state, sessionID, provider); err != nil {
			return nil, err
		}
	case s.cfg.OAuth.RequireState:
		return nil, oauth.ErrInvalidState.Msg("state is required")
	}
	if sessionID == "" {
		return nil, httpx.ErrInvalidRequest("session_id is required")
	}

	result, err := s.runner.Resume(ctx, sessionID, provider, code)
	if err != nil {
		var exErr *oauth.ExchangeError
		if errors.As(err, &exErr) {
			log.Ctx(ctx).Warn().
				Str("provider", provider).
				Str("session_id", logtrace.ShortID(sessionID)).
				Str("code", exErr.Code).
				Msg("token exchange failed")
			return nil, &httpx.Error{
				Description: "OAuth token exchange failed: " + exErr.Message,
				StatusCode:  exErr.StatusCode(),
				Kind:        exErr.Kind(),
			}
		}
		return nil, err
	}

	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   result,
	}, nil
}

type authorizeRsp struct {
	AuthURL     string `json:"auth_url"`
	Provider    string `json:"provider"`
	Description string `json:"description"`
	SessionID   string `json:"session_id"`
}

// authorize returns the URL a client opens to connect provider ahead of a turn
// that would need it.
func (s *GatewayServer) authorize(r *http.Request) (*httpx.Response, error) {
	provider := chi.URLParam(r, "provider")
	sessionID := r.URL.Query().Get("session_id")

	p, err := s.registry.Lookup(provider)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, httpx.ErrInvalidRequest("session_id is required")
	}
	if _, err := s.sessions.Get(sessionID); err != nil {
		return nil, err
	}
	url, err := s.registry.AuthURL(provider, sessionID)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response: &authorizeRsp{
			AuthURL:     url,
			Provider:    provider,
			Description: p.Description,
			SessionID:   sessionID,
		},
	}, nil
}
