package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/tansive/agentgateway/internal/common/httpclient"
	"github.com/tansive/agentgateway/internal/gateway/session"
)

const (
	defaultExchangeFailure = "Token exchange failed"
	DefaultRequestTimeout  = 10 * time.Second
)

// Recorder receives exchange and refresh outcomes.
type Recorder interface {
	ExchangeCompleted(provider string, err error)
	RefreshCompleted(provider, result string)
}

type nopRecorder struct{}

func (nopRecorder) ExchangeCompleted(string, error) {}
func (nopRecorder) RefreshCompleted(string, string) {}

// Exchanger turns authorization codes into token bundles.
type Exchanger struct {
	registry *Registry
	client   httpclient.HTTPClientInterface
	timeout  time.Duration
	recorder Recorder
	now      func() time.Time
}

type ExchangerOption func(*Exchanger)

// WithExchangeClient replaces the HTTP client used against token endpoints.
func WithExchangeClient(c httpclient.HTTPClientInterface) ExchangerOption {
	return func(e *Exchanger) { e.client = c }
}

// WithRecorder reports exchange outcomes to r.
func WithRecorder(r Recorder) ExchangerOption {
	return func(e *Exchanger) { e.recorder = r }
}

// NewExchanger returns an exchanger whose calls are bounded by timeout.
func NewExchanger(registry *Registry, timeout time.Duration, opts ...ExchangerOption) *Exchanger {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	e := &Exchanger{
		registry: registry,
		timeout:  timeout,
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = httpclient.NewClient(httpclient.WithTimeout(timeout))
	}
	return e
}

// tokenResponse is the decoded body of a successful token endpoint response.
type tokenResponse struct {
	AccessToken  string `mapstructure:"access_token"`
	TokenType    string `mapstructure:"token_type"`
	RefreshToken string `mapstructure:"refresh_token"`
	ExpiresIn    int64  `mapstructure:"expires_in"`
	Scope        string `mapstructure:"scope"`
}

// Exchange performs one POST to the provider's token endpoint. Every failure, local
// or remote, comes back as *ExchangeError.
func (e *Exchanger) Exchange(ctx context.Context, provider, code string) (*session.TokenBundle, error) {
	bundle, err := e.exchange(ctx, provider, code)
	// unknown names come from the request path and stay out of metric labels
	if _, known := e.registry.Get(provider); known {
		e.recorder.ExchangeCompleted(provider, err)
	}
	if err != nil {
		log.Ctx(ctx).Warn().Str("provider", provider).Str("error", err.Error()).Msg("token exchange failed")
		return nil, err
	}
	log.Ctx(ctx).Info().Str("provider", provider).Bool("refreshable", bundle.Refreshable()).Msg("token exchange succeeded")
	return bundle, nil
}

func (e *Exchanger) exchange(ctx context.Context, provider, code string) (*session.TokenBundle, error) {
	p, ok := e.registry.Get(provider)
	if !ok {
		return nil, &ExchangeError{Provider: provider, Message: "unknown provider: " + provider}
	}
	if code == "" {
		return nil, &ExchangeError{Provider: provider, Message: "authorization code is required"}
	}

	form := url.Values{}
	form.Set("client_id", p.ClientID())
	form.Set("client_secret", p.ClientSecret.Value())
	form.Set("code", code)
	if p.RedirectURI() != "" {
		form.Set("redirect_uri", p.RedirectURI())
	}
	if p.GrantTypeRequired {
		form.Set("grant_type", "authorization_code")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rsp, err := e.client.DoRequest(ctx, httpclient.RequestOptions{
		Method:  http.MethodPost,
		URL:     p.TokenURL(),
		Headers: map[string]string{"Accept": "application/json"},
		Form:    form,
	})
	if err != nil {
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) {
			if xerr := providerError(provider, normalizeBody(httpErr.Body, "")); xerr != nil {
				return nil, xerr
			}
			return nil, &ExchangeError{Provider: provider, Message: httpErr.Message, cause: err}
		}
		msg := defaultExchangeFailure + ": " + err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = defaultExchangeFailure + ": token endpoint timed out"
		}
		return nil, &ExchangeError{Provider: provider, Message: msg, cause: err}
	}

	body := normalizeBody(rsp.Body, rsp.Header.Get("Content-Type"))
	// GitHub reports errors with a 200 status.
	if xerr := providerError(provider, body); xerr != nil {
		return nil, xerr
	}
	return e.decodeBundle(provider, body)
}

func (e *Exchanger) decodeBundle(provider string, body []byte) (*session.TokenBundle, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ExchangeError{Provider: provider, Message: defaultExchangeFailure + ": invalid token response", cause: err}
	}
	var tr tokenResponse
	if err := mapstructure.WeakDecode(raw, &tr); err != nil {
		return nil, &ExchangeError{Provider: provider, Message: defaultExchangeFailure + ": invalid token response", cause: err}
	}
	if tr.AccessToken == "" {
		return nil, &ExchangeError{Provider: provider, Message: defaultExchangeFailure + ": no access_token in response"}
	}

	now := e.now()
	bundle := &session.TokenBundle{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		Scope:        tr.Scope,
		IssuedAt:     now,
	}
	bundle.TokenType = bundle.Type()
	if tr.ExpiresIn > 0 {
		bundle.Expiry = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return bundle, nil
}

// providerError returns the provider-reported error in body, if any. The message is
// error_description when present, otherwise the error code.
func providerError(provider string, body []byte) *ExchangeError {
	if !gjson.ValidBytes(body) {
		return nil
	}
	field := gjson.GetBytes(body, "error")
	if !field.Exists() || field.Type == gjson.Null {
		return nil
	}

	var code, msg string
	if field.IsObject() {
		code = field.Get("code").String()
		msg = field.Get("message").String()
	} else {
		code = field.String()
	}
	if desc := gjson.GetBytes(body, "error_description").String(); desc != "" {
		msg = desc
	}
	if code == "" && msg == "" {
		return nil
	}
	if msg == "" {
		msg = code
	}
	return &ExchangeError{Provider: provider, Code: code, Message: msg}
}

// normalizeBody turns a form encoded token response into JSON so both shapes go
// through the same decoding.
func normalizeBody(body []byte, contentType string) []byte {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType != "application/x-www-form-urlencoded" && (contentType != "" || gjson.ValidBytes(body)) {
		return body
	}
	values, err := url.ParseQuery(string(body))
	if err != nil || len(values) == 0 {
		return body
	}
	flat := make(map[string]string, len(values))
	for k := range values {
		flat[k] = values.Get(k)
	}
	out, err := json.Marshal(flat)
	if err != nil {
		return body
	}
	return out
}
