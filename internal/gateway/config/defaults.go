package config

import "maps"

// providerTemplate carries the well known endpoints for a provider so a config only
// needs client credentials.
type providerTemplate struct {
	AuthURL           string
	TokenURL          string
	Scopes            []string
	GrantTypeRequired bool
	MCPURL            string
	MCPHeaders        map[string]string
	AuthParams        map[string]string
	Description       string
}

var providerTemplates = map[string]providerTemplate{
	"github": {
		AuthURL:  "https://github.com/login/oauth/authorize",
		TokenURL: "https://github.com/login/oauth/access_token",
		Scopes:   []string{"repo", "user", "read:org"},
		MCPURL:   "https://api.githubcopilot.com/mcp/",
		MCPHeaders: map[string]string{
			"X-MCP-Toolsets": "repos,issues,pull_requests,code_security,dependabot,discussions,projects,labels,notifications,users,orgs,stargazers",
			"X-MCP-Readonly": "false",
		},
		Description: "Connect GitHub to browse repositories, issues and pull requests",
	},
	"carbon": {
		AuthURL:           "https://api.carbon.ai/oauth/authorize",
		TokenURL:          "https://api.carbon.ai/oauth/token",
		Scopes:            []string{"files:read", "files:write"},
		GrantTypeRequired: true,
		Description:       "Connect Carbon Voice to read and send messages",
	},
	"atlassian": {
		AuthURL:           "https://auth.atlassian.com/authorize",
		TokenURL:          "https://auth.atlassian.com/oauth/token",
		Scopes:            []string{"read:jira-work", "write:jira-work", "read:confluence-content.all", "offline_access"},
		GrantTypeRequired: true,
		MCPURL:            "https://mcp.atlassian.com/v1/mcp",
		AuthParams:        map[string]string{"audience": "api.atlassian.com", "prompt": "consent"},
		Description:       "Connect Atlassian to search and update Jira issues and Confluence pages",
	},
}

const (
	defaultServerPort     = "8000"
	defaultRequestTimeout = "30s"
	defaultOAuthTimeout   = "10s"
	defaultStateTTL       = "10m"
	defaultExpiryMargin   = "30s"
	defaultIdleTTL        = "0"
	defaultReapInterval   = "1m"
	defaultMaxHistory     = 50
	defaultToolRounds     = 8
	defaultToolTimeout    = "30s"
	defaultModel          = "gpt-4o"
	defaultCallbackRPS    = 5
	defaultCallbackBurst  = 10
)

func applyDefaults(cfg *ConfigParam) {
	if cfg.ServerPort == "" {
		cfg.ServerPort = defaultServerPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RequestTimeout == "" {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	if cfg.Session.IdleTTL == "" {
		cfg.Session.IdleTTL = defaultIdleTTL
	}
	if cfg.Session.ReapInterval == "" {
		cfg.Session.ReapInterval = defaultReapInterval
	}
	if cfg.Session.MaxHistory == 0 {
		cfg.Session.MaxHistory = defaultMaxHistory
	}

	if cfg.OAuth.RequestTimeout == "" {
		cfg.OAuth.RequestTimeout = defaultOAuthTimeout
	}
	if cfg.OAuth.StateTTL == "" {
		cfg.OAuth.StateTTL = defaultStateTTL
	}
	if cfg.OAuth.ExpiryMargin == "" {
		cfg.OAuth.ExpiryMargin = defaultExpiryMargin
	}

	if cfg.RateLimit.CallbackRPS == 0 {
		cfg.RateLimit.CallbackRPS = defaultCallbackRPS
	}
	if cfg.RateLimit.CallbackBurst == 0 {
		cfg.RateLimit.CallbackBurst = defaultCallbackBurst
	}

	if cfg.Engine.Kind == "" {
		cfg.Engine.Kind = "echo"
	}
	if cfg.Engine.Model == "" {
		cfg.Engine.Model = defaultModel
	}
	if cfg.Engine.MaxToolRounds == 0 {
		cfg.Engine.MaxToolRounds = defaultToolRounds
	}
	if cfg.Engine.ToolTimeout == "" {
		cfg.Engine.ToolTimeout = defaultToolTimeout
	}

	for name, p := range cfg.Providers {
		if p == nil {
			p = &ProviderConfig{}
			cfg.Providers[name] = p
		}
		applyProviderDefaults(cfg, name, p)
	}
}

func applyProviderDefaults(cfg *ConfigParam, name string, p *ProviderConfig) {
	if t, ok := providerTemplates[name]; ok {
		if p.AuthURL == "" {
			p.AuthURL = t.AuthURL
		}
		if p.TokenURL == "" {
			p.TokenURL = t.TokenURL
		}
		if p.Scopes == nil {
			p.Scopes = append([]string(nil), t.Scopes...)
		}
		if p.GrantTypeRequired == nil {
			v := t.GrantTypeRequired
			p.GrantTypeRequired = &v
		}
		if p.MCPURL == "" {
			p.MCPURL = t.MCPURL
		}
		if p.MCPHeaders == nil && t.MCPHeaders != nil {
			p.MCPHeaders = make(map[string]string, len(t.MCPHeaders))
			for k, v := range t.MCPHeaders {
				p.MCPHeaders[k] = v
			}
		}
		if p.AuthParams == nil && t.AuthParams != nil {
			p.AuthParams = maps.Clone(t.AuthParams)
		}
		if p.Description == "" {
			p.Description = t.Description
		}
	}
	if p.RedirectURI == "" {
		p.RedirectURI = cfg.URL() + "/oauth/callback/" + name
	}
	if p.AuthStyle == "" {
		p.AuthStyle = "in_params"
	}
}
