package server

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/tansive/agentgateway/internal/gateway/config"
	"github.com/tansive/agentgateway/internal/gateway/session"
)

const testConfigTmpl = `
format_version = "0.1.0"
server_port = "8000"
handle_cors = true

[oauth]
state_secret = "test-state-secret"
request_timeout = "2s"

[providers.github]
client_id = "gh-client"
client_secret = "gh-secret"
token_url = "%[1]s/github/token"

[providers.carbon]
client_id = "cv-client"
client_secret = "cv-secret"
token_url = "%[1]s/carbon/token"
`

// tokenStub answers code exchanges: "abc123" is accepted, anything else is rejected
// the way GitHub does it, with a 200 and an error field.
func tokenStub(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") != "abc123" {
			fmt.Fprint(w, `{"error":"bad_verification_code","error_description":"The code passed is incorrect or expired."}`)
			return
		}
		fmt.Fprint(w, `{"access_token":"gho_X","token_type":"bearer","scope":"repo"}`)
	}))
	t.Cleanup(ts.Close)
	return ts, &calls
}

func newTestGateway(t *testing.T, edit ...func(*config.ConfigParam)) (*Gateway, *atomic.Int32) {
	t.Helper()
	ts, calls := tokenStub(t)
	cfg, err := config.ParseConfig([]byte(fmt.Sprintf(testConfigTmpl, ts.URL)))
	require.NoError(t, err)
	for _, e := range edit {
		e(cfg)
	}
	g, err := NewGateway(cfg)
	require.NoError(t, err)
	return g, calls
}

func executeTestRequest(t *testing.T, g *Gateway, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	g.Server.Router.ServeHTTP(rr, req)
	return rr
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var e sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				e.Name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				e.Data = strings.TrimPrefix(line, "data: ")
			}
		}
		require.NotEmpty(t, e.Name, "event without a name in %q", block)
		require.True(t, gjson.Valid(e.Data), "event data is not json: %q", e.Data)
		events = append(events, e)
	}
	return events
}

func chat(t *testing.T, g *Gateway, body string) (*httptest.ResponseRecorder, []sseEvent) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := executeTestRequest(t, g, req)
	if rr.Code != http.StatusOK {
		return rr, nil
	}
	return rr, parseSSE(t, rr.Body.String())
}

func names(events []sseEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Name
	}
	return out
}

func TestChatStreamCompletes(t *testing.T) {
	g, _ := newTestGateway(t)

	rr, events := chat(t, g, `{"user_id":"u1","message":"hello"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rr.Header().Get("X-Accel-Buffering"))

	require.Equal(t, []string{"session", "message", "done"}, names(events))
	assert.Equal(t, "u1", gjson.Get(events[0].Data, "user_id").String())
	assert.NotEmpty(t, gjson.Get(events[0].Data, "session_id").String())
	assert.JSONEq(t, `{"content":"Echo: hello","type":"text"}`, events[1].Data)
	assert.JSONEq(t, `{"status":"completed"}`, events[2].Data)

	sid := gjson.Get(events[0].Data, "session_id").String()
	_, again := chat(t, g, fmt.Sprintf(`{"user_id":"u1","message":"again","session_id":%q}`, sid))
	assert.Equal(t, sid, gjson.Get(again[0].Data, "session_id").String(), "the session is reused")
	assert.Equal(t, 1, g.Sessions.Count())
}

func TestChatStreamValidation(t *testing.T) {
	g, _ := newTestGateway(t)
	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{"missing user", `{"message":"hi"}`, "user_id is required"},
		{"blank user", `{"user_id":"  ","message":"hi"}`, "user_id is required"},
		{"missing message", `{"user_id":"u1"}`, "message is required"},
		{"not json", `user_id=u1`, "unable to parse request data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, _ := chat(t, g, tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.detail, gjson.Get(rr.Body.String(), "detail").String())
		})
	}
	assert.Equal(t, 0, g.Sessions.Count())
}

// The whole suspend and resume round trip: the turn ends with pending_auth, the
// provider redirects back with a code, and the session then holds the credential.
func TestPendingAuthRoundTrip(t *testing.T) {
	g, calls := newTestGateway(t)

	_, events := chat(t, g, `{"user_id":"u1","message":"/connect github"}`)
	require.Equal(t, []string{"session", "pending_auth"}, names(events))
	sid := gjson.Get(events[0].Data, "session_id").String()

	pending := events[1].Data
	assert.Equal(t, "github", gjson.Get(pending, "provider").String())
	assert.Equal(t, sid, gjson.Get(pending, "session_id").String())
	assert.Equal(t, "Connect GitHub to browse repositories, issues and pull requests", gjson.Get(pending, "description").String())
	authURL, err := url.Parse(gjson.Get(pending, "auth_url").String())
	require.NoError(t, err)
	assert.Equal(t, "github.com", authURL.Host)
	assert.Equal(t, "gh-client", authURL.Query().Get("client_id"))
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)

	rr := executeTestRequest(t, g, httptest.NewRequest(http.MethodGet, "/session/"+sid, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, gjson.Get(rr.Body.String(), "has_github_auth").Bool())

	// the provider redirect carries only code and state
	rr = executeTestRequest(t, g, httptest.NewRequest(http.MethodPost,
		"/oauth/callback/github?code=abc123&state="+url.QueryEscape(state), nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, fmt.Sprintf(`{"status":"success","provider":"github","session_id":%q,"message":"Github authentication successful"}`, sid), rr.Body.String())
	assert.Equal(t, int32(1), calls.Load())

	rr = executeTestRequest(t, g, httptest.NewRequest(http.MethodGet, "/session/"+sid, nil))
	body := rr.Body.String()
	assert.True(t, gjson.Get(body, "has_github_auth").Bool())
	assert.False(t, gjson.Get(body, "has_carbon_auth").Bool())
	assert.NotContains(t, body, "gho_X", "tokens never leave the gateway")
}

func TestOAuthCallback(t *testing.T) {
	g, calls := newTestGateway(t)
	sess, _, err := g.Sessions.GetOrCreate(t.Context(), "u1", "")
	require.NoError(t, err)
	sid := sess.ID()
	otherState, err := g.Registry.Signer().Sign("another-session", "github")
	require.NoError(t, err)
	carbonState, err := g.Registry.Signer().Sign(sid, "carbon")
	require.NoError(t, err)

	tests := []struct {
		name      string
		path      string
		status    int
		detail    string
		exchanges int32
	}{
		{"unknown session", "/oauth/callback/github?code=abc123&session_id=nope", http.StatusNotFound, "session not found", 0},
		{"unknown provider", "/oauth/callback/gitlab?code=abc123&session_id=" + sid, http.StatusBadRequest, "OAuth token exchange failed: unknown provider: gitlab", 0},
		{"unknown provider and session", "/oauth/callback/gitlab?code=abc123&session_id=nope", http.StatusNotFound, "session not found", 0},
		{"missing code", "/oauth/callback/github?session_id=" + sid, http.StatusBadRequest, "code is required", 0},
		{"missing session", "/oauth/callback/github?code=abc123", http.StatusBadRequest, "session_id is required", 0},
		{"state for another session", "/oauth/callback/github?code=abc123&session_id=" + sid + "&state=" + otherState, http.StatusBadRequest, "state does not match session or provider", 0},
		{"state for another provider", "/oauth/callback/github?code=abc123&state=" + carbonState, http.StatusBadRequest, "state was issued for another provider", 0},
		{"garbage state", "/oauth/callback/github?code=abc123&session_id=" + sid + "&state=garbage", http.StatusBadRequest, "invalid oauth state", 0},
		{"rejected code", "/oauth/callback/github?code=bad-code&session_id=" + sid, http.StatusBadRequest, "OAuth token exchange failed: The code passed is incorrect or expired.", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := calls.Load()
			rr := executeTestRequest(t, g, httptest.NewRequest(http.MethodPost, tt.path, nil))
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.Equal(t, tt.detail, gjson.Get(rr.Body.String(), "detail").String())
			assert.Equal(t, tt.exchanges, calls.Load()-before)
			assert.False(t, sess.HasToken("github"), "failed callbacks leave the session untouched")
		})
	}

	rr := executeTestRequest(t, g, httptest.NewRequest(http.MethodPost, "/oauth/callback/github?code=bad-code&session_id="+sid, nil))
	assert.Equal(t, "ExchangeError", gjson.Get(rr.Body.String(), "type").String())

	rr = executeTestRequest(t, g, httptest.NewRequest(http.MethodPost, "/oauth/callback/gitlab?code=abc&session_id="+sid, nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "ExchangeError", gjson.Get(rr.Body.String(), "type").String(), "an unknown provider is not reported as a missing session")

	rr = executeTestRequest(t, g, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), `agentgw_token_exchanges_total{provider="github",status="error"}`)
	assert.NotContains(t, rr.Body.String(), "gitlab")
}

func TestOAuthCallbackRequiresState(t *testing.T) {
	g, _ := newTestGateway(t, func(c *config.ConfigParam) { c.OAuth.RequireState = true })
	sess, _, err := g.Sessions.GetOrCreate(t.Context(), "u1", "")
	require.NoError(t, err)

	rr := executeTestRequest(t, g, httptest.NewRequest(http.MethodPost, "/oauth/callback/github?code=abc123&session_id="+sess.ID(), nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "state is required", gjson.Get(rr.Body.String(), "detail").String())
}

func TestOAuthCallbackRateLimit(t *testing.T) {
	g, _ := newTestGateway(t, func(c *config.ConfigParam) {
		c.RateLimit.Enabled = true
		c.RateLimit.CallbackRPS = 0.001
		c.RateLimit.CallbackBurst = 2
	})
	codes := make([]int, 3)
	for i := range codes {
		rr := executeTestRequest(t, g, httptest.NewRequest(http.MethodPost, "/oauth/callback/github?code=abc123&session_id=nope", nil))
		codes[i] = rr.Code
	}
	assert.Equal(t, []int{http.StatusNotFound, http.StatusNotFound, http.StatusTooManyRequests}, codes)
}

func TestAuthorize(t *testing.T) {
	g, _ := newTestGateway(t)
	sess, _, err := g.Sessions.GetOrCreate(t.Context(), "u1", "")
	require.NoError(t, err)

	rr := executeTestRequest(t, g, httptest.NewRequest(http.MethodGet, "/oauth/authorize/carbon?session_id="+sess.ID(), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Equal(t, "carbon", gjson.Get(body, "provider").String())
	u, err := url.Parse(gjson.Get(body, "auth_url").String())
	require.NoError(t, err)
	sid, prv, err := g.Registry.Signer().Parse(u.Query().Get("state"))
	require.NoError(t, err)
	assert.Equal(t, sess.ID(), sid)
	assert.Equal(t, "carbon", prv)

	rr = executeTestRequest(t, g, httptest.NewRequest(http.MethodGet, "/oauth/authorize/carbon?session_id=nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSessionEndpoints(t *testing.T) {
	g, _ := newTestGateway(t)
	_, events := chat(t, g, `{"user_id":"u7","message":"hello"}`)
	sid := gjson.Get(events[0].Data, "session_id").String()

	rr := executeTestRequest(t, g, httptest.NewRequest(http.MethodGet, "/users/u7/session", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"user_id":"u7","session_id":%q}`, sid), rr.Body.String())

	rr = executeTestRequest(t, g, httptest.NewRequest(http.MethodPost, "/oauth/callback/github?code=abc123&session_id="+sid, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "success", gjson.Get(rr.Body.String(), "status").String())
	rr = executeTestRequest(t, g, httptest.NewRequest(http.MethodGet, "/session/"+sid, nil))
	assert.True(t, gjson.Get(rr.Body.String(), "has_github_auth").Bool())

	rr = executeTestRequest(t, g, httptest.NewRequest(http.MethodDelete, "/session/"+sid+"/auth/github", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"status":"revoked","provider":"github","session_id":%q}`, sid), rr.Body.String())
	rr = executeTestRequest(t, g, httptest.NewRequest(http.MethodGet, "/session/"+sid, nil))
	assert.False(t, gjson.Get(rr.Body.String(), "has_github_auth").Bool())

	for i := 0; i < 2; i++ {
		rr = executeTestRequest(t, g, httptest.NewRequest(http.MethodDelete, "/session/"+sid, nil))
		require.Equal(t, http.StatusOK, rr.Code, "delete is idempotent")
		assert.JSONEq(t, fmt.Sprintf(`{"status":"deleted","session_id":%q}`, sid), rr.Body.String())
	}

	rr = executeTestRequest(t, g, httptest.NewRequest(http.MethodGet, "/session/"+sid, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "SessionNotFound", gjson.Get(rr.Body.String(), "type").String())
	rr = executeTestRequest(t, g, httptest.NewRequest(http.MethodGet, "/users/u7/session", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = executeTestRequest(t, g, httptest.NewRequest(http.MethodDelete, "/session/"+sid+"/auth/github", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSystemEndpoints(t *testing.T) {
	g, _ := newTestGateway(t)

	rr := executeTestRequest(t, g, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.JSONEq(t, `{"status":"ok","service":"agentgateway","version":"`+Version+`"}`, rr.Body.String())

	rr = executeTestRequest(t, g, httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.Equal(t, APIVersion, gjson.Get(rr.Body.String(), "apiVersion").String())
	assert.Equal(t, "echo", gjson.Get(rr.Body.String(), "engine").String())

	rr = executeTestRequest(t, g, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, "ready", gjson.Get(rr.Body.String(), "status").String())
	assert.Equal(t, `["carbon","github"]`, gjson.Get(rr.Body.String(), "providers").Raw)

	chat(t, g, `{"user_id":"u1","message":"/connect carbon"}`)
	rr = executeTestRequest(t, g, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	metrics := rr.Body.String()
	assert.Contains(t, metrics, `agentgw_turns_total{outcome="pending_auth"} 1`)
	assert.Contains(t, metrics, `agentgw_pending_auth_total{provider="carbon"} 1`)
	assert.Contains(t, metrics, `agentgw_active_sessions 1`)
}

func TestAPIVersionHeader(t *testing.T) {
	g, _ := newTestGateway(t)
	for version, status := range map[string]int{
		"1.0.0":    http.StatusOK,
		APIVersion: http.StatusOK,
		"2.0.0":    http.StatusBadRequest,
		"1.9.0":    http.StatusBadRequest,
		"garbage":  http.StatusBadRequest,
	} {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		req.Header.Set(APIVersionHeader, version)
		rr := executeTestRequest(t, g, req)
		assert.Equal(t, status, rr.Code, version)
	}
}

func TestDescribeSessionKeepsUnconfiguredProviders(t *testing.T) {
	g, _ := newTestGateway(t)
	sess, _, err := g.Sessions.GetOrCreate(t.Context(), "u1", "")
	require.NoError(t, err)
	require.NoError(t, sess.PutToken("jira.cloud", testBundle()))

	body, err := describeSession(sess, []string{"github"})
	require.NoError(t, err)
	assert.False(t, gjson.Get(body, "has_github_auth").Bool())
	assert.True(t, gjson.Get(body, `has_jira\.cloud_auth`).Bool())
	assert.True(t, bytes.Contains([]byte(body), []byte(`"has_jira.cloud_auth":true`)))
}

func testBundle() *session.TokenBundle {
	return &session.TokenBundle{AccessToken: "jira-token", TokenType: "Bearer"}
}
