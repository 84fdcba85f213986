// Package server provides the gateway's HTTP surface: the streaming chat endpoint,
// the OAuth callback that stores a provider credential in a session, session
// inspection and deletion, and the usual health, readiness, version and metrics
// endpoints.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/tansive/agentgateway/internal/common/httpx"
	"github.com/tansive/agentgateway/internal/common/logtrace"
	"github.com/tansive/agentgateway/internal/common/middleware"
	"github.com/tansive/agentgateway/internal/gateway/config"
	"github.com/tansive/agentgateway/internal/gateway/metrics"
	"github.com/tansive/agentgateway/internal/gateway/oauth"
	"github.com/tansive/agentgateway/internal/gateway/session"
	"github.com/tansive/agentgateway/internal/gateway/turn"
)

// Deps are the collaborators the handlers call into.
type Deps struct {
	Config   *config.ConfigParam
	Sessions session.SessionManager
	Runner   *turn.Runner
	Registry *oauth.Registry
	Metrics  *metrics.Metrics
	// Engine describes the turn engine on /version. Optional.
	Engine string
}

// GatewayServer routes requests to the gateway handlers.
type GatewayServer struct {
	Router *chi.Mux

	cfg      *config.ConfigParam
	sessions session.SessionManager
	runner   *turn.Runner
	registry *oauth.Registry
	metrics  *metrics.Metrics
	engine   string
	limiter  *middleware.RateLimiter
	started  time.Time
}

// CreateNewServer validates deps and returns an unmounted server.
func CreateNewServer(deps Deps) (*GatewayServer, error) {
	if deps.Config == nil || deps.Sessions == nil || deps.Runner == nil || deps.Registry == nil {
		return nil, fmt.Errorf("server: config, sessions, runner and registry are required")
	}
	s := &GatewayServer{
		Router:   chi.NewRouter(),
		cfg:      deps.Config,
		sessions: deps.Sessions,
		runner:   deps.Runner,
		registry: deps.Registry,
		metrics:  deps.Metrics,
		engine:   deps.Engine,
		started:  time.Now(),
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if rl := deps.Config.RateLimit; rl.Enabled {
		s.limiter = middleware.NewRateLimiter(rl.CallbackRPS, rl.CallbackBurst)
	}
	return s, nil
}

// MountHandlers installs middleware and routes.
func (s *GatewayServer) MountHandlers() {
	s.Router.Use(middleware.RequestLogger)
	s.Router.Use(middleware.PanicHandler)
	s.Router.Use(s.metrics.Middleware)
	if s.cfg.HandleCORS {
		s.Router.Use(s.HandleCORS)
	}
	s.Router.Use(checkAPIVersion)

	// streaming routes must not sit behind the request timeout
	s.Router.Post("/chat/stream", s.chatStream)

	s.Router.Group(func(r chi.Router) {
		r.Use(middleware.SetTimeout(s.cfg.GetRequestTimeout()))
		s.mountResourceHandlers(r)
	})

	if logtrace.IsTraceEnabled() {
		fmt.Println("Routes in gateway router")
		walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			fmt.Printf("%s %s\n", method, route)
			return nil
		}
		if err := chi.Walk(s.Router, walkFunc); err != nil {
			log.Error().Err(err).Msg("Error walking router")
		}
	}
}

func (s *GatewayServer) mountResourceHandlers(r chi.Router) {
	r.Get("/", s.getHealth)
	r.Get("/ready", s.getReadiness)
	r.Get("/version", s.getVersion)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/oauth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Handler)
			}
			r.Post("/callback/{provider}", httpx.WrapHttpRsp(s.oauthCallback))
		})
		r.Get("/authorize/{provider}", httpx.WrapHttpRsp(s.authorize))
	})

	r.Route("/session/{session_id}", func(r chi.Router) {
		r.Get("/", httpx.WrapHttpRsp(s.getSession))
		r.Delete("/", httpx.WrapHttpRsp(s.deleteSession))
		r.Delete("/auth/{provider}", httpx.WrapHttpRsp(s.revokeProvider))
	})
	r.Get("/users/{user_id}/session", httpx.WrapHttpRsp(s.getUserSession))
}

type healthRsp struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

func (s *GatewayServer) getHealth(w http.ResponseWriter, r *http.Request) {
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, &healthRsp{
		Status:  "ok",
		Service: config.ServiceName,
		Version: Version,
	})
}

// GetVersionRsp is the /version body.
type GetVersionRsp struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
	Engine        string `json:"engine,omitempty"`
}

func (s *GatewayServer) getVersion(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("GetVersion")
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, &GetVersionRsp{
		ServerVersion: "Agent Gateway: " + Version,
		ApiVersion:    APIVersion,
		Engine:        s.engine,
	})
}

type readinessRsp struct {
	Status    string   `json:"status"`
	Sessions  int      `json:"sessions"`
	Providers []string `json:"providers"`
	Uptime    string   `json:"uptime"`
}

func (s *GatewayServer) getReadiness(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("Readiness check")
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, &readinessRsp{
		Status:    "ready",
		Sessions:  s.sessions.Count(),
		Providers: s.registry.Names(),
		Uptime:    time.Since(s.started).Truncate(time.Second).String(),
	})
}

// HandleCORS applies the configured CORS policy.
func (s *GatewayServer) HandleCORS(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID", middleware.RequestIDHeader, APIVersionHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)
}
