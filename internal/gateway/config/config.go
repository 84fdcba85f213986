// Package config loads the gateway configuration. The file is TOML rendered through
// text/template first so secrets can be pulled from the environment with
// {{ .ENV.NAME }}. A .env file next to the working directory is honoured.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// ConfigFormatVersion is the current version of the configuration file format.
const ConfigFormatVersion = "0.1.0"

// ServiceName is reported by the health endpoint.
const ServiceName = "agentgateway"

// SessionConfig controls session retention.
type SessionConfig struct {
	IdleTTL      string `toml:"idle_ttl"`      // "0" disables reclamation
	ReapInterval string `toml:"reap_interval"` // how often idle sessions are swept
	MaxHistory   int    `toml:"max_history" validate:"gte=0"`
}

// GetIdleTTL returns the idle TTL, zero when reclamation is disabled.
func (s *SessionConfig) GetIdleTTL() time.Duration {
	return mustDuration(s.IdleTTL)
}

func (s *SessionConfig) GetReapInterval() time.Duration {
	return mustDuration(s.ReapInterval)
}

// OAuthConfig holds settings shared by all providers.
type OAuthConfig struct {
	RequestTimeout string `toml:"request_timeout"` // token exchange and refresh
	StateSecret    string `toml:"state_secret"`
	StateTTL       string `toml:"state_ttl"`
	ExpiryMargin   string `toml:"expiry_margin"` // tokens expiring within the margin count as expired
	RequireState   bool   `toml:"require_state"`
}

func (o *OAuthConfig) GetRequestTimeout() time.Duration {
	return mustDuration(o.RequestTimeout)
}

func (o *OAuthConfig) GetStateTTL() time.Duration {
	return mustDuration(o.StateTTL)
}

func (o *OAuthConfig) GetExpiryMargin() time.Duration {
	return mustDuration(o.ExpiryMargin)
}

// RateLimitConfig limits the OAuth callback per client address.
type RateLimitConfig struct {
	Enabled       bool    `toml:"enabled"`
	CallbackRPS   float64 `toml:"callback_rps" validate:"gte=0"`
	CallbackBurst int     `toml:"callback_burst" validate:"gte=0"`
}

// EngineConfig selects and configures the orchestration engine.
type EngineConfig struct {
	Kind          string `toml:"kind" validate:"omitempty,oneof=openai echo"`
	Model         string `toml:"model"`
	APIKey        string `toml:"api_key"`
	BaseURL       string `toml:"base_url" validate:"omitempty,url"`
	SystemPrompt  string `toml:"system_prompt"`
	MaxToolRounds int    `toml:"max_tool_rounds" validate:"gte=0"`
	ToolTimeout   string `toml:"tool_timeout"`
}

func (e *EngineConfig) GetToolTimeout() time.Duration {
	return mustDuration(e.ToolTimeout)
}

// ProviderConfig describes one downstream OAuth provider and its MCP endpoint.
type ProviderConfig struct {
	ClientID          string            `toml:"client_id" validate:"required"`
	ClientSecret      string            `toml:"client_secret"`
	AuthURL           string            `toml:"auth_url" validate:"required,url"`
	TokenURL          string            `toml:"token_url" validate:"required,url"`
	RedirectURI       string            `toml:"redirect_uri" validate:"omitempty,url"`
	Scopes            []string          `toml:"scopes"`
	GrantTypeRequired *bool             `toml:"grant_type_required"`
	AuthStyle         string            `toml:"auth_style" validate:"omitempty,oneof=auto in_params in_header"`
	MCPURL            string            `toml:"mcp_url" validate:"omitempty,url"`
	MCPHeaders        map[string]string `toml:"mcp_headers"`
	AuthParams        map[string]string `toml:"auth_params"` // extra authorization URL parameters
	Description       string            `toml:"description"`
}

// SendsGrantType reports whether grant_type=authorization_code goes into the exchange body.
func (p *ProviderConfig) SendsGrantType() bool {
	return p.GrantTypeRequired == nil || *p.GrantTypeRequired
}

// ConfigParam holds all configuration parameters for the gateway.
type ConfigParam struct {
	FormatVersion string `toml:"format_version"`

	ServerHostName     string   `toml:"server_hostname"`
	ServerPort         string   `toml:"server_port" validate:"required,numeric"`
	PublicURL          string   `toml:"public_url" validate:"omitempty,url"`
	HandleCORS         bool     `toml:"handle_cors"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
	LogLevel           string   `toml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	RequestTimeout     string   `toml:"request_timeout"` // non-streaming routes

	Session   SessionConfig              `toml:"session"`
	OAuth     OAuthConfig                `toml:"oauth"`
	RateLimit RateLimitConfig            `toml:"ratelimit"`
	Engine    EngineConfig               `toml:"engine"`
	Providers map[string]*ProviderConfig `toml:"providers" validate:"dive"`
}

// GetRequestTimeout returns the timeout for non-streaming routes.
func (c *ConfigParam) GetRequestTimeout() time.Duration {
	return mustDuration(c.RequestTimeout)
}

// ProviderNames returns configured provider names sorted.
func (c *ConfigParam) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// URL is the address the gateway is reachable on.
func (c *ConfigParam) URL() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}
	host := c.ServerHostName
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return "http://" + host + ":" + c.ServerPort
}

var cfg *ConfigParam

// Config returns the loaded configuration.
func Config() *ConfigParam {
	return cfg
}

// SetConfig installs c as the process configuration.
func SetConfig(c *ConfigParam) {
	cfg = c
}

// ParseDuration parses "<number><unit>" with unit one of s, m, h, d, y.
// A bare "0" is accepted and means zero.
func ParseDuration(input string) (time.Duration, error) {
	if input == "0" {
		return 0, nil
	}
	if len(input) < 2 {
		return 0, fmt.Errorf("invalid input format")
	}

	unit := input[len(input)-1:]
	value, err := strconv.Atoi(input[:len(input)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", err)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative duration: %s", input)
	}

	switch unit {
	case "s":
		return time.Duration(value) * time.Second, nil
	case "m":
		return time.Duration(value) * time.Minute, nil
	case "h":
		return time.Duration(value) * time.Hour, nil
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	case "y":
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown time unit: %s", unit)
	}
}

// mustDuration is for fields ValidateConfig already checked.
func mustDuration(s string) time.Duration {
	d, err := ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateConfig fills defaults and checks every field.
func ValidateConfig(cfg *ConfigParam) error {
	if cfg.FormatVersion != ConfigFormatVersion {
		return fmt.Errorf("unsupported config file format version: %s", cfg.FormatVersion)
	}
	applyDefaults(cfg)

	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%s", describeValidation(err))
	}

	durations := map[string]string{
		"request_timeout":       cfg.RequestTimeout,
		"session.idle_ttl":      cfg.Session.IdleTTL,
		"session.reap_interval": cfg.Session.ReapInterval,
		"oauth.request_timeout": cfg.OAuth.RequestTimeout,
		"oauth.state_ttl":       cfg.OAuth.StateTTL,
		"oauth.expiry_margin":   cfg.OAuth.ExpiryMargin,
		"engine.tool_timeout":   cfg.Engine.ToolTimeout,
	}
	for name, v := range durations {
		if _, err := ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %v", name, err)
		}
	}
	if cfg.OAuth.GetRequestTimeout() == 0 {
		return fmt.Errorf("oauth.request_timeout must be greater than zero")
	}

	if cfg.Engine.Kind == "openai" && cfg.Engine.APIKey == "" {
		return fmt.Errorf("engine.api_key is required for the openai engine")
	}
	if cfg.OAuth.RequireState && cfg.OAuth.StateSecret == "" {
		return fmt.Errorf("oauth.state_secret is required when oauth.require_state is set")
	}
	for name := range cfg.Providers {
		if name == "" || strings.ContainsAny(name, " /_") {
			return fmt.Errorf("invalid provider name %q", name)
		}
	}
	return nil
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// LoadConfig reads, renders, decodes and validates filename, then installs the result.
func LoadConfig(filename string, envFiles ...string) error {
	c, err := ReadConfig(filename, envFiles...)
	if err != nil {
		return err
	}
	cfg = c
	return nil
}

// ReadConfig is LoadConfig without installing the result.
func ReadConfig(filename string, envFiles ...string) (*ConfigParam, error) {
	if filename == "" {
		return nil, fmt.Errorf("config filename is required")
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return ParseConfig(content, envFiles...)
}

// ParseConfig renders and decodes raw TOML content.
func ParseConfig(content []byte, envFiles ...string) (*ConfigParam, error) {
	rendered, err := RenderEnv(content, envFiles...)
	if err != nil {
		return nil, fmt.Errorf("error rendering config file: %w", err)
	}
	c := &ConfigParam{}
	if _, err := toml.Decode(string(rendered), c); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := ValidateConfig(c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}
