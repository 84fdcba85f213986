package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
format_version = "0.1.0"
server_hostname = "0.0.0.0"
server_port = "8000"
handle_cors = true

[oauth]
request_timeout = "5s"
state_secret = "{{ .ENV.AGENTGW_TEST_STATE_SECRET }}"

[session]
idle_ttl = "2h"

[providers.github]
client_id = "gh-client"
client_secret = "{{ .ENV.AGENTGW_TEST_GH_SECRET }}"

[providers.tracker]
client_id = "tr-client"
auth_url = "https://tracker.example.com/oauth/authorize"
token_url = "https://tracker.example.com/oauth/token"
redirect_uri = "https://gw.example.com/oauth/callback/tracker"
auth_style = "in_header"
`

func TestParseConfig(t *testing.T) {
	t.Setenv("AGENTGW_TEST_STATE_SECRET", "s3cret")
	t.Setenv("AGENTGW_TEST_GH_SECRET", "gh-secret")

	c, err := ParseConfig([]byte(testConfig))
	require.NoError(t, err)

	assert.Equal(t, "8000", c.ServerPort)
	assert.Equal(t, []string{"*"}, c.CORSAllowedOrigins)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, 5*time.Second, c.OAuth.GetRequestTimeout())
	assert.Equal(t, 30*time.Second, c.OAuth.GetExpiryMargin())
	assert.Equal(t, 2*time.Hour, c.Session.GetIdleTTL())
	assert.Equal(t, "s3cret", c.OAuth.StateSecret)
	assert.Equal(t, "echo", c.Engine.Kind)
	assert.Equal(t, []string{"github", "tracker"}, c.ProviderNames())

	gh := c.Providers["github"]
	assert.Equal(t, "gh-secret", gh.ClientSecret)
	assert.Equal(t, "https://github.com/login/oauth/access_token", gh.TokenURL)
	assert.Equal(t, []string{"repo", "user", "read:org"}, gh.Scopes)
	assert.Equal(t, "http://localhost:8000/oauth/callback/github", gh.RedirectURI)
	assert.False(t, gh.SendsGrantType())
	assert.NotEmpty(t, gh.MCPHeaders["X-MCP-Toolsets"])

	tr := c.Providers["tracker"]
	assert.True(t, tr.SendsGrantType())
	assert.Equal(t, "in_header", tr.AuthStyle)
	assert.Equal(t, "https://gw.example.com/oauth/callback/tracker", tr.RedirectURI)
}

func TestProviderTemplateAuthParams(t *testing.T) {
	c, err := ParseConfig([]byte(`
format_version = "0.1.0"
[providers.atlassian]
client_id = "at-client"
[providers.custom]
client_id = "c"
auth_url = "https://c.example.com/authorize"
token_url = "https://c.example.com/token"
auth_params = { audience = "c-api" }
`))
	require.NoError(t, err)

	at := c.Providers["atlassian"]
	assert.Equal(t, "https://auth.atlassian.com/oauth/token", at.TokenURL)
	assert.Equal(t, map[string]string{"audience": "api.atlassian.com", "prompt": "consent"}, at.AuthParams)
	assert.True(t, at.SendsGrantType())
	assert.Contains(t, at.Scopes, "offline_access")

	assert.Equal(t, map[string]string{"audience": "c-api"}, c.Providers["custom"].AuthParams)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "missing env",
			content: "format_version = \"0.1.0\"\nserver_port = \"{{ .ENV.AGENTGW_TEST_UNSET_VAR }}\"\n",
			errMsg:  "missing environment variable: AGENTGW_TEST_UNSET_VAR",
		},
		{
			name:    "format version",
			content: "format_version = \"9.9\"\n",
			errMsg:  "unsupported config file format version",
		},
		{
			name:    "bad duration",
			content: "format_version = \"0.1.0\"\n[oauth]\nrequest_timeout = \"10x\"\n",
			errMsg:  "invalid oauth.request_timeout",
		},
		{
			name:    "zero oauth timeout",
			content: "format_version = \"0.1.0\"\n[oauth]\nrequest_timeout = \"0\"\n",
			errMsg:  "oauth.request_timeout must be greater than zero",
		},
		{
			name:    "unknown provider needs endpoints",
			content: "format_version = \"0.1.0\"\n[providers.acme]\nclient_id = \"x\"\n",
			errMsg:  "AuthURL",
		},
		{
			name:    "openai needs key",
			content: "format_version = \"0.1.0\"\n[engine]\nkind = \"openai\"\n",
			errMsg:  "engine.api_key is required",
		},
		{
			name:    "bad engine kind",
			content: "format_version = \"0.1.0\"\n[engine]\nkind = \"llama\"\n",
			errMsg:  "Kind",
		},
		{
			name:    "provider name",
			content: "format_version = \"0.1.0\"\n[providers.my_github]\nclient_id = \"x\"\nauth_url = \"https://a.example.com\"\ntoken_url = \"https://a.example.com/t\"\n",
			errMsg:  "invalid provider name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRenderEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("AGENTGW_TEST_FROM_FILE=file-value\nAGENTGW_TEST_SHADOWED=file\n"), 0600))
	t.Setenv("AGENTGW_TEST_SHADOWED", "shell")

	out, err := RenderEnv([]byte("{{ .ENV.AGENTGW_TEST_FROM_FILE }} {{ .ENV.AGENTGW_TEST_SHADOWED }}"), envFile, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "file-value shell", string(out))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentgw.conf")
	require.NoError(t, os.WriteFile(path, []byte("format_version = \"0.1.0\"\nserver_port = \"9090\"\n"), 0600))

	require.NoError(t, LoadConfig(path))
	assert.Equal(t, "9090", Config().ServerPort)
	assert.Equal(t, "http://localhost:9090", Config().URL())

	assert.Error(t, LoadConfig(""))
	assert.Error(t, LoadConfig(filepath.Join(dir, "nope.conf")))
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		err  bool
	}{
		{"0", 0, false},
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"2h", 2 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"1y", 365 * 24 * time.Hour, false},
		{"", 0, true},
		{"h", 0, true},
		{"10x", 0, true},
		{"-5s", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
