package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tansive/agentgateway/internal/gateway/config"
	"github.com/tansive/agentgateway/internal/gateway/server"
)

func TestReadEvents(t *testing.T) {
	stream := ": keep-alive\n\n" +
		"event: session\ndata: {\"session_id\":\"s1\",\"user_id\":\"u1\"}\n\n" +
		"event: message\ndata: {\"content\":\"a\",\n" +
		"data: \"type\":\"text\"}\n\n" +
		"data: {\"content\":\"unnamed\",\"type\":\"text\"}\n\n" +
		"event: done\ndata: {\"status\":\"completed\"}"

	var got []Event
	require.NoError(t, readEvents(strings.NewReader(stream), func(e Event) error {
		got = append(got, e)
		return nil
	}))
	require.Len(t, got, 4)
	assert.Equal(t, EventSession, got[0].Name)
	assert.Equal(t, EventMessage, got[1].Name)
	assert.JSONEq(t, `{"content":"a","type":"text"}`, string(got[1].Data))
	assert.Equal(t, EventMessage, got[2].Name, "events without a name are messages")
	assert.True(t, got[3].Terminal(), "a final event without a trailing blank line is dispatched")

	var s SessionEvent
	require.NoError(t, got[0].Decode(&s))
	assert.Equal(t, SessionEvent{SessionID: "s1", UserID: "u1"}, s)
}

func TestChatStreamWithoutTerminalEvent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, APIVersion, r.Header.Get(APIVersionHeader))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: session\ndata: {\"session_id\":\"s1\",\"user_id\":\"u1\"}\n\n")
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL)
	require.NoError(t, err)
	err = c.ChatStream(context.Background(), ChatRequest{UserID: "u1", Message: "hi"}, func(Event) error { return nil })
	assert.ErrorContains(t, err, "without a terminal event")
}

func TestRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/session/missing" {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"result":0,"error":"session not found","detail":"session not found","type":"SessionNotFound"}`)
			return
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"status":"ready","sessions":0,"providers":["github"],"uptime":"1s"}`)
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, WithRetryDelay(time.Millisecond), WithMaxRetries(3))
	require.NoError(t, err)

	r, err := c.Ready(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready", r.Status)
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(0)
	_, err = c.GetSession(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "SessionNotFound", apiErr.Type)
}

func TestNewClient(t *testing.T) {
	for _, u := range []string{"", "localhost:8000", "://x"} {
		_, err := NewClient(u)
		assert.Error(t, err, u)
	}
}

// End to end against a real gateway: a turn suspends, the callback stores the
// credential and the session reports it.
func TestAgainstGateway(t *testing.T) {
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"gho_X","token_type":"bearer"}`)
	}))
	defer tokens.Close()

	cfg, err := config.ParseConfig([]byte(fmt.Sprintf(`
format_version = "0.1.0"
server_port = "8000"
[oauth]
state_secret = "s"
[providers.github]
client_id = "gh"
token_url = "%s/token"
`, tokens.URL)))
	require.NoError(t, err)
	g, err := server.NewGateway(cfg)
	require.NoError(t, err)
	gw := httptest.NewServer(g.Server.Router)
	defer gw.Close()

	c, err := NewClient(gw.URL)
	require.NoError(t, err)
	ctx := context.Background()

	var events []Event
	require.NoError(t, c.ChatStream(ctx, ChatRequest{UserID: "u1", Message: "/connect github"}, func(e Event) error {
		events = append(events, e)
		return nil
	}))
	require.Len(t, events, 2)
	var pending PendingAuthEvent
	require.NoError(t, events[1].Decode(&pending))
	assert.Equal(t, "github", pending.Provider)

	res, err := c.OAuthCallback(ctx, "github", "abc123", pending.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)

	info, err := c.GetSession(ctx, pending.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "u1", info.UserID)
	assert.Equal(t, map[string]bool{"github": true}, info.Auth)

	sid, err := c.UserSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, pending.SessionID, sid)

	require.NoError(t, c.RevokeProvider(ctx, sid, "github"))
	require.NoError(t, c.DeleteSession(ctx, sid))
	require.NoError(t, c.DeleteSession(ctx, sid))
	_, err = c.GetSession(ctx, sid)
	assert.True(t, IsNotFound(err))

	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, APIVersion, v.ApiVersion)
}
