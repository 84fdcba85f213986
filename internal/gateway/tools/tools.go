// Package tools calls the MCP servers of the configured providers on behalf of a
// session. Credentials are never handed to callers: each outbound request gets its
// headers from the provider's HeaderProvider, and a request the server rejects for
// lack of authorization surfaces as *AuthRequiredError.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tansive/agentgateway/internal/gateway/session"
)

// NameSeparator joins provider and tool names in qualified tool names.
const NameSeparator = "__"

// HeaderProvider supplies the headers for a session's outbound calls to one
// provider. An empty map means "call unauthenticated".
type HeaderProvider interface {
	ProvideHeaders(ctx context.Context, sess *session.Session) map[string]string
}

// Tool is a tool exposed by a provider's MCP server.
type Tool struct {
	Provider    string
	Name        string
	Description string
	InputSchema json.RawMessage

	schema *jsonschema.Schema
}

// QualifiedName returns "<provider>__<tool>".
func (t *Tool) QualifiedName() string {
	return QualifiedName(t.Provider, t.Name)
}

func QualifiedName(provider, tool string) string {
	return provider + NameSeparator + tool
}

// SplitName splits a qualified name into provider and tool.
func SplitName(qualified string) (provider, tool string, ok bool) {
	provider, tool, ok = strings.Cut(qualified, NameSeparator)
	if !ok || provider == "" || tool == "" {
		return "", "", false
	}
	return provider, tool, true
}

// Result is the outcome of a tool call. IsError is set when the tool itself
// reported a failure; the text is still meant for the model.
type Result struct {
	Text    string
	IsError bool
}

// AuthRequiredError is returned when the provider rejected a call for lack of
// authorization.
type AuthRequiredError struct {
	Provider   string
	StatusCode int
}

func (e *AuthRequiredError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: authorization required (%d %s)", e.Provider, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return e.Provider + ": authorization required"
}
