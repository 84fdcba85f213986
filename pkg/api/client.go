// Package api is a Go client for the agent gateway's HTTP API: streaming chat turns,
// completing OAuth callbacks and inspecting sessions.
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/tidwall/gjson"
)

// Client talks to one gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	config     clientConfig
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout    time.Duration
	maxRetries uint
	retryDelay time.Duration
	httpClient *http.Client
}

// WithTimeout bounds non-streaming requests. Streams are bounded by their context only.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithMaxRetries sets how many times idempotent requests are attempted.
func WithMaxRetries(maxRetries uint) ClientOption {
	return func(c *clientConfig) {
		c.maxRetries = maxRetries
	}
}

// WithRetryDelay sets the initial delay between attempts; later delays back off.
func WithRetryDelay(delay time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.retryDelay = delay
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *clientConfig) {
		c.httpClient = hc
	}
}

// NewClient returns a client for the gateway at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	config := clientConfig{
		timeout:    30 * time.Second,
		maxRetries: 3,
		retryDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&config)
	}

	if baseURL == "" {
		return nil, fmt.Errorf("gateway url is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway url %q", baseURL)
	}
	if config.maxRetries == 0 {
		config.maxRetries = 1
	}

	hc := config.httpClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
		config:     config,
	}, nil
}

// ChatStream runs one turn and calls fn for every event in order. It returns after
// the terminal event, when fn returns an error, or when the stream breaks. A stream
// that ends without a terminal event is an error.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, fn func(Event) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/chat/stream", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	terminal := false
	err = readEvents(resp.Body, func(e Event) error {
		terminal = e.Terminal()
		return fn(e)
	})
	if err != nil {
		return err
	}
	if !terminal {
		return fmt.Errorf("chat stream ended without a terminal event")
	}
	return nil
}

// readEvents parses a text/event-stream body. Comment lines are skipped and
// multi-line data fields are joined with newlines.
func readEvents(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var name string
	var data []string
	dispatch := func() error {
		defer func() { name, data = "", nil }()
		if len(data) == 0 {
			return nil
		}
		if name == "" {
			name = EventMessage
		}
		return fn(Event{Name: name, Data: json.RawMessage(strings.Join(data, "\n"))})
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := dispatch(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				name = value
			case "data":
				data = append(data, value)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading chat stream: %w", err)
	}
	return dispatch()
}

// OAuthCallback hands an authorization code to the gateway. Either sessionID or
// state must identify the session.
func (c *Client) OAuthCallback(ctx context.Context, provider, code, sessionID, state string) (*CallbackResult, error) {
	q := url.Values{}
	q.Set("code", code)
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	if state != "" {
		q.Set("state", state)
	}
	var result CallbackResult
	path := "/oauth/callback/" + url.PathEscape(provider) + "?" + q.Encode()
	body, err := c.do(ctx, http.MethodPost, path, false)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode callback result: %w", err)
	}
	return &result, nil
}

// GetSession describes a session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	body, err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(sessionID), true)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("failed to decode session: invalid json")
	}
	parsed := gjson.ParseBytes(body)
	info := &SessionInfo{
		SessionID: parsed.Get("session_id").String(),
		UserID:    parsed.Get("user_id").String(),
		Auth:      map[string]bool{},
	}
	parsed.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if strings.HasPrefix(k, "has_") && strings.HasSuffix(k, "_auth") {
			info.Auth[strings.TrimSuffix(strings.TrimPrefix(k, "has_"), "_auth")] = value.Bool()
		}
		return true
	})
	return info, nil
}

// DeleteSession deletes a session. Deleting an unknown session succeeds.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/session/"+url.PathEscape(sessionID), true)
	return err
}

// RevokeProvider drops the session's credential for provider.
func (c *Client) RevokeProvider(ctx context.Context, sessionID, provider string) error {
	_, err := c.do(ctx, http.MethodDelete, "/session/"+url.PathEscape(sessionID)+"/auth/"+url.PathEscape(provider), true)
	return err
}

// UserSession returns the user's most recent session id.
func (c *Client) UserSession(ctx context.Context, userID string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/session", true)
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(body, "session_id").String(), nil
}

// Ready reports the gateway's readiness.
func (c *Client) Ready(ctx context.Context) (*Readiness, error) {
	body, err := c.do(ctx, http.MethodGet, "/ready", true)
	if err != nil {
		return nil, err
	}
	var r Readiness
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("failed to decode readiness: %w", err)
	}
	return &r, nil
}

// Version returns the gateway's version information.
func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	body, err := c.do(ctx, http.MethodGet, "/version", true)
	if err != nil {
		return nil, err
	}
	var v VersionInfo
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("failed to decode version: %w", err)
	}
	return &v, nil
}

// do sends a bodiless request and returns the response body. Idempotent requests
// are retried on transport errors and 5xx answers.
func (c *Client) do(ctx context.Context, method, path string, idempotent bool) ([]byte, error) {
	attempts := uint(1)
	if idempotent {
		attempts = c.config.maxRetries
	}

	var body []byte
	err := retry.Do(func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.config.timeout)
		defer cancel()
		req, err := c.newRequest(reqCtx, method, path, nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			apiErr := decodeError(resp)
			if resp.StatusCode >= 500 {
				return apiErr
			}
			return retry.Unrecoverable(apiErr)
		}
		body, err = io.ReadAll(resp.Body)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(c.config.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(APIVersionHeader, APIVersion)
	return req, nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	e := &Error{StatusCode: resp.StatusCode}
	if gjson.ValidBytes(raw) {
		e.Message = gjson.GetBytes(raw, "detail").String()
		if e.Message == "" {
			e.Message = gjson.GetBytes(raw, "error").String()
		}
		e.Type = gjson.GetBytes(raw, "type").String()
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(raw))
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}

// IsNotFound reports whether err is a 404 from the gateway.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == http.StatusNotFound
}
