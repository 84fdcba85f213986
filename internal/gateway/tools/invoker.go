package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/tansive/agentgateway/internal/gateway/session"
)

const (
	protocolVersion    = "2024-11-05"
	DefaultCallTimeout = 30 * time.Second
)

// Invoker talks to one provider's MCP server over streamable HTTP. Every operation
// opens its own MCP session carrying the calling session's credentials.
type Invoker struct {
	provider   string
	url        string
	headers    map[string]string
	creds      HeaderProvider
	base       http.RoundTripper
	timeout    time.Duration
	clientInfo mcp.Implementation
}

type InvokerOption func(*Invoker)

// WithRoundTripper sets the transport under the credential layer.
func WithRoundTripper(rt http.RoundTripper) InvokerOption {
	return func(i *Invoker) { i.base = rt }
}

// WithCallTimeout bounds each operation, handshake included.
func WithCallTimeout(d time.Duration) InvokerOption {
	return func(i *Invoker) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithClientInfo sets the name and version sent in the MCP handshake.
func WithClientInfo(name, version string) InvokerOption {
	return func(i *Invoker) { i.clientInfo = mcp.Implementation{Name: name, Version: version} }
}

// NewInvoker returns an invoker for provider's server at url. headers are sent on
// every request in addition to the session's credentials.
func NewInvoker(provider, url string, headers map[string]string, creds HeaderProvider, opts ...InvokerOption) *Invoker {
	i := &Invoker{
		provider:   provider,
		url:        url,
		headers:    headers,
		creds:      creds,
		timeout:    DefaultCallTimeout,
		clientInfo: mcp.Implementation{Name: "agentgateway", Version: "0.1.0"},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Invoker) Provider() string {
	return i.provider
}

// ListTools lists the tools the server exposes to sess.
func (i *Invoker) ListTools(ctx context.Context, sess *session.Session) ([]*Tool, error) {
	var out []*Tool
	err := i.withClient(ctx, sess, func(ctx context.Context, c *client.Client) error {
		rsp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			return fmt.Errorf("failed to list tools: %w", err)
		}
		out = make([]*Tool, 0, len(rsp.Tools))
		for _, t := range rsp.Tools {
			out = append(out, i.convertTool(ctx, t))
		}
		return nil
	})
	return out, err
}

// CallTool calls the named tool (unqualified) with args.
func (i *Invoker) CallTool(ctx context.Context, sess *session.Session, name string, args map[string]any) (*Result, error) {
	var result *Result
	err := i.withClient(ctx, sess, func(ctx context.Context, c *client.Client) error {
		rsp, err := c.CallTool(ctx, mcp.CallToolRequest{
			Params: mcp.CallToolParams{
				Name:      name,
				Arguments: args,
			},
		})
		if err != nil {
			return fmt.Errorf("failed to call tool: %w", err)
		}
		result = &Result{Text: contentText(rsp.Content), IsError: rsp.IsError}
		return nil
	})
	return result, err
}

// withClient runs fn against a freshly initialized MCP client whose requests carry
// sess's headers. Rejections for lack of authorization become *AuthRequiredError.
func (i *Invoker) withClient(ctx context.Context, sess *session.Session, fn func(context.Context, *client.Client) error) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	ct := newCredentialTransport(i.base, i.creds.ProvideHeaders(ctx, sess))
	opts := []transport.StreamableHTTPCOption{
		transport.WithHTTPBasicClient(&http.Client{Transport: ct}),
	}
	if len(i.headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(i.headers))
	}

	c, err := client.NewStreamableHttpClient(i.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}
	defer c.Close()

	err = i.initialize(ctx, c)
	if err == nil {
		err = fn(ctx, c)
	}
	if err == nil {
		return nil
	}

	if status := ct.rejectedStatus(); status == http.StatusUnauthorized || (status == http.StatusForbidden && !ct.authenticated()) {
		log.Ctx(ctx).Debug().Str("provider", i.provider).Int("status", status).Bool("had_credential", ct.authenticated()).
			Msg("tool call rejected for lack of authorization")
		return &AuthRequiredError{Provider: i.provider, StatusCode: status}
	}
	return err
}

func (i *Invoker) initialize(ctx context.Context, c *client.Client) error {
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}
	_, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: protocolVersion,
			ClientInfo:      i.clientInfo,
			Capabilities:    mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}
	return nil
}

func (i *Invoker) convertTool(ctx context.Context, t mcp.Tool) *Tool {
	tool := &Tool{Provider: i.provider, Name: t.Name, Description: t.Description}
	raw, err := json.Marshal(t)
	if err != nil {
		return tool
	}
	schema := gjson.GetBytes(raw, "inputSchema")
	if !schema.IsObject() {
		return tool
	}
	tool.InputSchema = json.RawMessage(schema.Raw)
	if compiled, err := compileSchema([]byte(schema.Raw)); err == nil {
		tool.schema = compiled
	} else {
		log.Ctx(ctx).Debug().Str("tool", tool.QualifiedName()).Err(err).Msg("tool schema not usable for validation")
	}
	return tool
}

// contentText flattens tool output to text. Non-text content is passed as JSON.
func contentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if b, err := json.Marshal(v); err == nil {
				parts = append(parts, string(b))
			}
		}
	}
	return strings.Join(parts, "\n")
}
