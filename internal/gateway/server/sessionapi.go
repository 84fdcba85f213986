package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/sjson"

	"github.com/tansive/agentgateway/internal/common/httpx"
	"github.com/tansive/agentgateway/internal/common/logtrace"
	"github.com/tansive/agentgateway/internal/gateway/session"
)

// getSession describes a session without exposing credentials: one
// has_<provider>_auth flag per configured provider and per stored token.
func (s *GatewayServer) getSession(r *http.Request) (*httpx.Response, error) {
	sess, err := s.sessions.Get(chi.URLParam(r, "session_id"))
	if err != nil {
		return nil, err
	}
	body, err := describeSession(sess, s.registry.Names())
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("unable to encode session")
		return nil, httpx.ErrApplicationError()
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   body,
	}, nil
}

func describeSession(sess *session.Session, providers []string) (string, error) {
	body := "{}"
	var err error
	set := func(path string, value any) {
		if err == nil {
			body, err = sjson.Set(body, path, value)
		}
	}
	set("session_id", sess.ID())
	set("user_id", sess.UserID())
	for _, p := range providers {
		set(authFlag(p), sess.HasToken(p))
	}
	// tokens for providers removed from the configuration still show up
	for _, p := range sess.Providers() {
		set(authFlag(p), true)
	}
	set("created_at", sess.CreatedAt().UTC())
	set("last_active", sess.LastActive().UTC())
	return body, err
}

func authFlag(provider string) string {
	return "has_" + strings.ReplaceAll(provider, ".", `\.`) + "_auth"
}

type deleteSessionRsp struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// deleteSession is idempotent.
func (s *GatewayServer) deleteSession(r *http.Request) (*httpx.Response, error) {
	id := chi.URLParam(r, "session_id")
	if !s.sessions.Delete(r.Context(), id) {
		log.Ctx(r.Context()).Debug().Str("session_id", logtrace.ShortID(id)).Msg("delete of unknown session")
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   &deleteSessionRsp{Status: "deleted", SessionID: id},
	}, nil
}

type revokeRsp struct {
	Status    string `json:"status"`
	Provider  string `json:"provider"`
	SessionID string `json:"session_id"`
}

// revokeProvider drops the session's credential for one provider.
func (s *GatewayServer) revokeProvider(r *http.Request) (*httpx.Response, error) {
	id := chi.URLParam(r, "session_id")
	provider := chi.URLParam(r, "provider")
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.DeleteToken(provider) {
		log.Ctx(r.Context()).Info().
			Str("session_id", logtrace.ShortID(id)).
			Str("provider", provider).
			Msg("credential revoked")
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   &revokeRsp{Status: "revoked", Provider: provider, SessionID: id},
	}, nil
}

type userSessionRsp struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func (s *GatewayServer) getUserSession(r *http.Request) (*httpx.Response, error) {
	userID := chi.URLParam(r, "user_id")
	id, ok := s.sessions.UserSession(userID)
	if !ok {
		return nil, session.ErrSessionNotFound.Msg("no session for user " + userID)
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   &userSessionRsp{UserID: userID, SessionID: id},
	}, nil
}
