// Package api exposes the platform's HTTP surface: account lifecycle,
// sessions, developer credentials, app associations, and data exports.
// Handlers run a fixed pipeline: structural field checks first, with
// every missing field collected, then credential verification, then the
// service call. Responses follow the platform contract of JSON bodies on
// success and a sorted errors array on failure.
package api

import (
	"context"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/appmantle/appmantle/pkg/app"
	"github.com/appmantle/appmantle/pkg/archive"
	"github.com/appmantle/appmantle/pkg/audit"
	"github.com/appmantle/appmantle/pkg/auth"
	"github.com/appmantle/appmantle/pkg/config"
	"github.com/appmantle/appmantle/pkg/dev"
	"github.com/appmantle/appmantle/pkg/middleware"
	"github.com/appmantle/appmantle/pkg/observability"
	"github.com/appmantle/appmantle/pkg/session"
	"github.com/appmantle/appmantle/pkg/store"
	"github.com/appmantle/appmantle/pkg/user"
)

// Deps carries everything the server wires together.
type Deps struct {
	Users    *user.Service
	Sessions *session.Service
	Devs     *dev.Service
	Apps     *app.Service
	Archives *archive.Service

	DevStore store.DevStore
	Issuer   *auth.TokenIssuer
	Audit    *audit.Logger
	Limiter  middleware.Limiter

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server is the public API server.
type Server struct {
	cfg    config.ServerConfig
	router *mux.Router
	srv    *http.Server
	logger *observability.Logger
}

// NewServer builds the router, middleware chain, and handlers.
func NewServer(cfg config.ServerConfig, rateCfg config.RateLimitConfig, deps Deps) *Server {
	g := &guard{
		devs:    deps.DevStore,
		issuer:  deps.Issuer,
		audit:   deps.Audit,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.Metrics(deps.Metrics))
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(credentialRateLimit(rateCfg, deps.Limiter))

	NewUserHandlers(deps.Users, g).RegisterRoutes(router)
	NewSessionHandlers(deps.Sessions, g).RegisterRoutes(router)
	NewDevHandlers(deps.Devs, g).RegisterRoutes(router)
	NewAppHandlers(deps.Apps, g).RegisterRoutes(router)
	NewArchiveHandlers(deps.Archives, g).RegisterRoutes(router)

	return &Server{
		cfg:    cfg,
		router: router,
		logger: deps.Logger,
		srv: &http.Server{
			Addr: net.JoinHostPort(cfg.Host, cfg.Port),
			// The global tracer provider is a no-op unless OTel is
			// configured at startup.
			Handler:      otelhttp.NewHandler(router, "appmantle-api"),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Router returns the configured router, used by tests and by the health
// server to share handlers.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.srv.Addr).Info("api server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// credentialRateLimit applies the rate limiter only to the endpoints
// that accept passwords or mint accounts, leaving token-authenticated
// traffic unthrottled.
func credentialRateLimit(cfg config.RateLimitConfig, limiter middleware.Limiter) mux.MiddlewareFunc {
	limit := middleware.RateLimit(cfg, limiter)
	return func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isCredentialRoute(r) {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isCredentialRoute(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	switch r.URL.Path {
	case "/v1/users", "/v1/users/login", "/v1/sessions":
		return true
	}
	return false
}
