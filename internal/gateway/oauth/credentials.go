package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/tansive/agentgateway/internal/common/logtrace"
	"github.com/tansive/agentgateway/internal/gateway/session"
)

// DefaultExpiryMargin treats tokens that expire within the margin as expired.
const DefaultExpiryMargin = 30 * time.Second

// Refresh results reported to the Recorder.
const (
	RefreshSucceeded = "refreshed"
	RefreshFailed    = "failed"
	RefreshRaced     = "superseded"
)

// CredentialProvider produces the headers for outbound calls to one provider from
// the tokens stored in a session. A missing or unusable credential is a normal
// outcome and yields an empty map.
type CredentialProvider struct {
	provider   *Provider
	margin     time.Duration
	timeout    time.Duration
	httpClient *http.Client
	group      *singleflight.Group
	recorder   Recorder
	now        func() time.Time
}

type CredentialOption func(*CredentialProvider)

// WithExpiryMargin overrides DefaultExpiryMargin.
func WithExpiryMargin(d time.Duration) CredentialOption {
	return func(c *CredentialProvider) { c.margin = d }
}

// WithRefreshTimeout bounds each refresh call.
func WithRefreshTimeout(d time.Duration) CredentialOption {
	return func(c *CredentialProvider) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRefreshHTTPClient sets the client used to call the token endpoint.
func WithRefreshHTTPClient(hc *http.Client) CredentialOption {
	return func(c *CredentialProvider) { c.httpClient = hc }
}

// WithRefreshRecorder reports refresh outcomes to r.
func WithRefreshRecorder(r Recorder) CredentialOption {
	return func(c *CredentialProvider) { c.recorder = r }
}

// WithCredentialClock overrides time.Now.
func WithCredentialClock(now func() time.Time) CredentialOption {
	return func(c *CredentialProvider) { c.now = now }
}

func withGroup(g *singleflight.Group) CredentialOption {
	return func(c *CredentialProvider) { c.group = g }
}

func NewCredentialProvider(p *Provider, opts ...CredentialOption) *CredentialProvider {
	c := &CredentialProvider{
		provider: p,
		margin:   DefaultExpiryMargin,
		timeout:  DefaultRequestTimeout,
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.group == nil {
		c.group = &singleflight.Group{}
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

// NewCredentialProviders returns a credential provider for every registered
// provider. They share one refresh group.
func NewCredentialProviders(r *Registry, opts ...CredentialOption) map[string]*CredentialProvider {
	group := &singleflight.Group{}
	out := make(map[string]*CredentialProvider, len(r.providers))
	for _, name := range r.Names() {
		p, _ := r.Get(name)
		out[name] = NewCredentialProvider(p, append(opts, withGroup(group))...)
	}
	return out
}

// Provider returns the provider name.
func (c *CredentialProvider) Provider() string {
	return c.provider.Name
}

// ProvideHeaders returns {"Authorization": "<type> <token>"} for the session's
// stored bundle, refreshing it first when it is expired and refreshable. It never
// fails: every problem degrades to an empty map.
func (c *CredentialProvider) ProvideHeaders(ctx context.Context, sess *session.Session) (headers map[string]string) {
	headers = map[string]string{}
	logger := log.Ctx(ctx).With().Str("provider", c.provider.Name).Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("credential lookup panicked")
			headers = map[string]string{}
		}
	}()

	if sess == nil {
		return headers
	}
	logger = logger.With().Str("session_id", logtrace.ShortID(sess.ID())).Logger()

	bundle, ok := sess.GetToken(c.provider.Name)
	if !ok {
		logger.Debug().Msg("no credential stored")
		return headers
	}
	if bundle.Validate() != nil {
		logger.Warn().Msg("stored credential is malformed")
		return headers
	}
	if !bundle.Refreshable() {
		// the margin only schedules early refreshes
		if bundle.Expired(c.now(), 0) {
			logger.Debug().Msg("credential expired and not refreshable")
			return headers
		}
		headers["Authorization"] = bundle.AuthorizationHeader()
		return headers
	}
	if !bundle.Expired(c.now(), c.margin) {
		headers["Authorization"] = bundle.AuthorizationHeader()
		return headers
	}

	refreshed, err := c.refresh(ctx, sess, bundle)
	if err != nil {
		logger.Warn().Err(err).Msg("credential refresh failed")
		return headers
	}
	headers["Authorization"] = refreshed.AuthorizationHeader()
	return headers
}

// refresh runs at most one refresh per session and provider at a time. Callers that
// arrive while one is in flight share its result.
func (c *CredentialProvider) refresh(ctx context.Context, sess *session.Session, stale *session.TokenBundle) (*session.TokenBundle, error) {
	key := sess.ID() + "/" + c.provider.Name
	v, err, _ := c.group.Do(key, func() (any, error) {
		if cur, ok := sess.GetToken(c.provider.Name); ok && !cur.Equal(stale) && !cur.Expired(c.now(), c.margin) {
			return cur, nil
		}
		return c.doRefresh(ctx, sess, stale)
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.TokenBundle), nil
}

func (c *CredentialProvider) doRefresh(ctx context.Context, sess *session.Session, stale *session.TokenBundle) (*session.TokenBundle, error) {
	// the refresh is shared, so one caller going away must not cancel it
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	rctx = context.WithValue(rctx, oauth2.HTTPClient, c.httpClient)

	src := c.provider.oauth2.TokenSource(rctx, &oauth2.Token{RefreshToken: stale.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		c.recorder.RefreshCompleted(c.provider.Name, RefreshFailed)
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.ErrorCode != "" {
			return nil, fmt.Errorf("token endpoint rejected refresh: %s", rerr.ErrorCode)
		}
		return nil, err
	}

	next := &session.TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		Expiry:       tok.Expiry,
		Scope:        stale.Scope,
		IssuedAt:     c.now(),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = stale.RefreshToken
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		next.Scope = scope
	}
	if err := next.Validate(); err != nil {
		c.recorder.RefreshCompleted(c.provider.Name, RefreshFailed)
		return nil, fmt.Errorf("refresh returned no access token")
	}

	if !sess.ReplaceToken(c.provider.Name, stale, next) {
		// the bundle was replaced or revoked while we were refreshing
		c.recorder.RefreshCompleted(c.provider.Name, RefreshRaced)
		cur, ok := sess.GetToken(c.provider.Name)
		if !ok {
			return nil, ErrCredentialRevoked.Msg("credential removed during refresh")
		}
		if !cur.Expired(c.now(), c.margin) {
			return cur, nil
		}
		return nil, ErrCredentialRevoked.Msg("stored credential changed during refresh")
	}
	c.recorder.RefreshCompleted(c.provider.Name, RefreshSucceeded)
	log.Ctx(ctx).Info().Str("provider", c.provider.Name).Str("session_id", logtrace.ShortID(sess.ID())).Msg("credential refreshed")
	return next, nil
}
