// Package httpclient is a small HTTP client for JSON and form-encoded APIs. It is used
// against OAuth token endpoints and against the gateway itself. Responses with a 4xx or
// 5xx status come back as *HTTPError carrying the raw body and the server's message.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPError is a response with a 4xx or 5xx status.
type HTTPError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *HTTPError) Error() string {
	return e.Message
}

// HTTPClient sends requests relative to an optional base URL.
type HTTPClient struct {
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithBaseURL resolves request paths against u.
func WithBaseURL(u string) Option {
	return func(c *HTTPClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout bounds every request end to end. Leave unset for streaming clients.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying client. The timeout of hc is kept.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithHeader sets a header on every request.
func WithHeader(key, value string) Option {
	return func(c *HTTPClient) { c.headers[key] = value }
}

func NewClient(opts ...Option) *HTTPClient {
	c := &HTTPClient{
		headers:    map[string]string{},
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HTTP returns the underlying *http.Client.
func (c *HTTPClient) HTTP() *http.Client {
	return c.httpClient
}

// RequestOptions describes one request. URL, when set, is used as is; otherwise Path
// is joined to the base URL. Form takes precedence over Body.
type RequestOptions struct {
	Method      string
	URL         string
	Path        string
	QueryParams map[string]string
	Headers     map[string]string
	Form        url.Values
	Body        []byte
}

// Response is a successful (status < 400) response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DoRequest sends the request and reads the whole body.
func (c *HTTPClient) DoRequest(ctx context.Context, opts RequestOptions) (*Response, error) {
	resp, err := c.send(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, newHTTPError(resp.StatusCode, body)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// StreamRequest sends the request and hands back the open body. The caller closes it.
func (c *HTTPClient) StreamRequest(ctx context.Context, opts RequestOptions) (io.ReadCloser, error) {
	resp, err := c.send(ctx, opts)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, newHTTPError(resp.StatusCode, body)
	}
	return resp.Body, nil
}

func (c *HTTPClient) send(ctx context.Context, opts RequestOptions) (*http.Response, error) {
	target, err := c.resolve(opts)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	contentType := ""
	switch {
	case opts.Form != nil:
		body = strings.NewReader(opts.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case opts.Body != nil:
		body = bytes.NewReader(opts.Body)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *HTTPClient) resolve(opts RequestOptions) (string, error) {
	raw := opts.URL
	if raw == "" {
		if c.baseURL == "" {
			return "", fmt.Errorf("no URL for request")
		}
		u, err := url.Parse(c.baseURL)
		if err != nil {
			return "", fmt.Errorf("invalid server URL: %w", err)
		}
		u.Path = path.Join(u.Path, opts.Path)
		raw = u.String()
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if len(opts.QueryParams) > 0 {
		q := u.Query()
		for k, v := range opts.QueryParams {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func newHTTPError(status int, body []byte) *HTTPError {
	return &HTTPError{
		StatusCode: status,
		Message:    ErrorMessage(body, http.StatusText(status)),
		Body:       body,
	}
}

// ErrorMessage pulls a human readable message out of an error body. It understands the
// gateway's own shape, OAuth error responses and FastAPI style detail fields.
func ErrorMessage(body []byte, fallback string) string {
	if !gjson.ValidBytes(body) {
		if s := strings.TrimSpace(string(body)); s != "" {
			return s
		}
		return fallback
	}
	for _, key := range []string{"error_description", "detail", "error", "message"} {
		if v := gjson.GetBytes(body, key); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return fallback
}
