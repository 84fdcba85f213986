package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tansive/agentgateway/internal/gateway/config"
	"github.com/tansive/agentgateway/internal/gateway/engine"
	"github.com/tansive/agentgateway/internal/gateway/metrics"
	"github.com/tansive/agentgateway/internal/gateway/oauth"
	"github.com/tansive/agentgateway/internal/gateway/session"
	"github.com/tansive/agentgateway/internal/gateway/tools"
	"github.com/tansive/agentgateway/internal/gateway/turn"
)

// Gateway is a fully wired gateway: sessions, credentials, tools, the turn engine
// and the HTTP server in front of them.
type Gateway struct {
	Server   *GatewayServer
	Sessions *session.Manager
	Registry *oauth.Registry
	Catalog  *tools.Catalog
	Metrics  *metrics.Metrics

	cfg *config.ConfigParam
}

// NewGateway builds a gateway from cfg. Nothing is started.
func NewGateway(cfg *config.ConfigParam) (*Gateway, error) {
	m := metrics.New()

	signer, err := oauth.NewStateSigner(cfg.OAuth.StateSecret, cfg.OAuth.GetStateTTL())
	if err != nil {
		return nil, fmt.Errorf("creating state signer: %w", err)
	}
	if cfg.OAuth.StateSecret == "" {
		log.Warn().Msg("oauth.state_secret not set; authorization links will not survive a restart")
	}
	registry, err := oauth.NewRegistry(cfg.Providers, signer)
	if err != nil {
		return nil, fmt.Errorf("loading providers: %w", err)
	}

	sessions := session.NewManager(
		session.WithIdleTTL(cfg.Session.GetIdleTTL()),
		session.WithObserver(m),
	)

	creds := oauth.NewCredentialProviders(registry,
		oauth.WithExpiryMargin(cfg.OAuth.GetExpiryMargin()),
		oauth.WithRefreshTimeout(cfg.OAuth.GetRequestTimeout()),
		oauth.WithRefreshRecorder(m),
	)

	var invokers []*tools.Invoker
	for _, name := range registry.Names() {
		p, _ := registry.Get(name)
		if p.MCPURL == "" {
			continue
		}
		invokers = append(invokers, tools.NewInvoker(name, p.MCPURL, p.MCPHeaders, creds[name],
			tools.WithCallTimeout(cfg.Engine.GetToolTimeout()),
			tools.WithClientInfo(config.ServiceName, Version),
		))
	}
	catalog := tools.NewCatalog(invokers...)

	eng, desc, err := newEngine(cfg, catalog, registry)
	if err != nil {
		return nil, err
	}

	exchanger := oauth.NewExchanger(registry, cfg.OAuth.GetRequestTimeout(), oauth.WithRecorder(m))
	runner := turn.NewRunner(sessions, eng, exchanger, turn.WithObserver(m))

	s, err := CreateNewServer(Deps{
		Config:   cfg,
		Sessions: sessions,
		Runner:   runner,
		Registry: registry,
		Metrics:  m,
		Engine:   desc,
	})
	if err != nil {
		return nil, err
	}
	s.MountHandlers()

	return &Gateway{
		Server:   s,
		Sessions: sessions,
		Registry: registry,
		Catalog:  catalog,
		Metrics:  m,
		cfg:      cfg,
	}, nil
}

func newEngine(cfg *config.ConfigParam, catalog *tools.Catalog, registry *oauth.Registry) (turn.Engine, string, error) {
	switch cfg.Engine.Kind {
	case "openai":
		if cfg.Engine.APIKey == "" {
			return nil, "", fmt.Errorf("engine.api_key is required for the openai engine")
		}
		e := engine.NewOpenAI(engine.OpenAIConfig{
			APIKey:        cfg.Engine.APIKey,
			BaseURL:       cfg.Engine.BaseURL,
			Model:         cfg.Engine.Model,
			SystemPrompt:  cfg.Engine.SystemPrompt,
			MaxToolRounds: cfg.Engine.MaxToolRounds,
			MaxHistory:    cfg.Session.MaxHistory,
		}, catalog, registry)
		return e, e.Describe(), nil
	case "echo", "":
		return engine.NewEcho(catalog, registry), "echo", nil
	}
	return nil, "", fmt.Errorf("unknown engine kind %q", cfg.Engine.Kind)
}

// Run serves HTTP on the configured port and reaps idle sessions until ctx is done,
// then shuts the server down.
func (g *Gateway) Run(ctx context.Context) error {
	slog := log.With().Str("state", "serve").Logger()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g.Sessions.StartReaper(ctx, g.cfg.Session.GetReapInterval())

	srv := &http.Server{
		Addr:              g.cfg.ServerHostName + ":" + g.cfg.ServerPort,
		Handler:           g.Server.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info().Str("addr", srv.Addr).Str("url", g.cfg.URL()).Msg("gateway started")
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	// Give outstanding requests 5 seconds to complete.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error().Err(err).Msg("could not stop server gracefully")
		if err := srv.Close(); err != nil {
			slog.Error().Err(err).Msg("could not stop server")
		}
	}
	slog.Info().Msg("gateway stopped")
	return nil
}
