// Package oauth implements the client side of the OAuth authorization code flow for
// the gateway's downstream providers: the provider registry, signed state, the
// code exchange and the per-provider credential provider that injects stored
// tokens into outbound tool calls.
package oauth

import (
	"maps"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tansive/agentgateway/internal/gateway/config"
)

// Provider is one configured OAuth provider.
type Provider struct {
	Name              string
	Description       string
	GrantTypeRequired bool
	MCPURL            string
	MCPHeaders        map[string]string
	ClientSecret      Redacted

	oauth2     *oauth2.Config
	authParams []oauth2.AuthCodeOption
}

// DisplayName is the provider name as shown to users, e.g. "Github".
func (p *Provider) DisplayName() string {
	return cases.Title(language.English).String(p.Name)
}

func (p *Provider) ClientID() string    { return p.oauth2.ClientID }
func (p *Provider) TokenURL() string    { return p.oauth2.Endpoint.TokenURL }
func (p *Provider) RedirectURI() string { return p.oauth2.RedirectURL }

// OAuth2 returns a copy of the provider's oauth2 configuration.
func (p *Provider) OAuth2() *oauth2.Config {
	cp := *p.oauth2
	cp.Scopes = append([]string(nil), p.oauth2.Scopes...)
	return &cp
}

func newProvider(name string, pc *config.ProviderConfig) (*Provider, error) {
	if name == "" || strings.ContainsAny(name, " /_") {
		return nil, ErrInvalidProvider.Msg("invalid provider name: " + name)
	}
	for _, raw := range []string{pc.AuthURL, pc.TokenURL} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return nil, ErrInvalidProvider.Msg(name + ": invalid endpoint url " + raw)
		}
	}

	p := &Provider{
		Name:              name,
		Description:       pc.Description,
		GrantTypeRequired: pc.SendsGrantType(),
		MCPURL:            pc.MCPURL,
		MCPHeaders:        maps.Clone(pc.MCPHeaders),
		ClientSecret:      NewRedacted(pc.ClientSecret),
		oauth2: &oauth2.Config{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   pc.AuthURL,
				TokenURL:  pc.TokenURL,
				AuthStyle: authStyle(pc.AuthStyle),
			},
			RedirectURL: pc.RedirectURI,
			Scopes:      append([]string(nil), pc.Scopes...),
		},
	}
	keys := make([]string, 0, len(pc.AuthParams))
	for k := range pc.AuthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.authParams = append(p.authParams, oauth2.SetAuthURLParam(k, pc.AuthParams[k]))
	}
	if p.Description == "" {
		p.Description = "Connect your " + p.DisplayName() + " account to continue"
	}
	return p, nil
}

func authStyle(s string) oauth2.AuthStyle {
	switch s {
	case "in_header":
		return oauth2.AuthStyleInHeader
	case "auto":
		return oauth2.AuthStyleAutoDetect
	default:
		return oauth2.AuthStyleInParams
	}
}

// Registry holds the configured providers and builds authorization URLs for them.
type Registry struct {
	providers map[string]*Provider
	signer    *StateSigner
}

// NewRegistry builds a registry from the providers section of the configuration.
func NewRegistry(providers map[string]*config.ProviderConfig, signer *StateSigner) (*Registry, error) {
	if signer == nil {
		return nil, ErrOAuthError.Msg("state signer is required")
	}
	r := &Registry{
		providers: make(map[string]*Provider, len(providers)),
		signer:    signer,
	}
	for name, pc := range providers {
		if pc == nil {
			continue
		}
		p, err := newProvider(name, pc)
		if err != nil {
			return nil, err
		}
		r.providers[name] = p
	}
	return r, nil
}

// Get returns the named provider.
func (r *Registry) Get(name string) (*Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Lookup is Get reporting ErrUnknownProvider for unknown names.
func (r *Registry) Lookup(name string) (*Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, ErrUnknownProvider.Msg("unknown provider: " + name)
	}
	return p, nil
}

// Names returns the provider names sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Signer returns the registry's state signer.
func (r *Registry) Signer() *StateSigner {
	return r.signer
}

// AuthURL returns the URL the user visits to authorize provider for sessionID. The
// state parameter is a signed token binding the round to the session.
func (r *Registry) AuthURL(provider, sessionID string) (string, error) {
	p, err := r.Lookup(provider)
	if err != nil {
		return "", err
	}
	state, err := r.signer.Sign(sessionID, provider)
	if err != nil {
		return "", err
	}
	return p.oauth2.AuthCodeURL(state, p.authParams...), nil
}
