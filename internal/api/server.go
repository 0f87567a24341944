package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog/log"

	"github.com/org/authcore/internal/audit"
	"github.com/org/authcore/internal/auth"
	"github.com/org/authcore/internal/observer"
	"github.com/org/authcore/internal/permission"
	"github.com/org/authcore/internal/secure"
	"github.com/org/authcore/internal/session"
	"github.com/org/authcore/internal/storage"
	"github.com/org/authcore/pkg/models"
)

// TokenHeader carries the session token on authenticated requests.
const TokenHeader = "X-Auth-Token"

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	RateLimit   int
	RateWindow  time.Duration
	// Session tunes the per-request watchdog used for recency checks.
	Session session.Options
	// ObserverInterval is advertised to clients that run a permission observer.
	ObserverInterval time.Duration
}

// Server is the API server.
type Server struct {
	store   storage.Backend
	catalog *permission.Catalog
	tokens  *auth.Service
	auditor *audit.Writer
	cfg     Config
	httpSrv *http.Server

	viewAuditLog          *secure.Action[storage.AuditFilter, []*models.AuditEvent]
	viewAlerts            *secure.Action[int, []*models.SecurityAlert]
	createPrincipalAction *secure.Action[createPrincipalRequest, string]
}

// NewServer creates a fully wired Server.
func NewServer(store storage.Backend, catalog *permission.Catalog, tokens *auth.Service, auditor *audit.Writer, exec *secure.Executor, cfg Config) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Second
	}
	if cfg.ObserverInterval <= 0 {
		cfg.ObserverInterval = observer.DefaultInterval
	}
	s := &Server{
		store:   store,
		catalog: catalog,
		tokens:  tokens,
		auditor: auditor,
		cfg:     cfg,
	}
	s.viewAuditLog = secure.Define(exec, "view_audit_log", secure.Policy{
		RequiredPermissions: []models.Permission{models.PermAuditView},
		Resource:            "audit_log",
	}, s.queryEvents, secure.WithDetails[storage.AuditFilter, []*models.AuditEvent](filterDetails))
	s.viewAlerts = secure.Define(exec, "view_security_alerts", secure.Policy{
		RequiredPermissions: []models.Permission{models.PermAuditView},
		Resource:            "security_alerts",
		RequireRecentAuth:   true,
	}, s.queryAlerts)
	s.createPrincipalAction = secure.Define(exec, "admin_create_principal", secure.Policy{
		RequiredPermissions: []models.Permission{models.PermAdminUsers},
		Resource:            "principal",
		RequireRecentAuth:   true,
	}, s.createPrincipal, secure.WithDetails[createPrincipalRequest, string](func(req createPrincipalRequest) map[string]any {
		return map[string]any{"principal_id": req.PrincipalID, "role": req.Role}
	}))
	return s
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(httprate.Limit(s.cfg.RateLimit, s.cfg.RateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			log.Warn().Str("ip", r.RemoteAddr).Msg("rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	))

	r.Handle("/metrics", MetricsHandler())

	r.Group(func(r chi.Router) {
		r.Get("/v1/sys/health", s.HealthHandler)
		r.Post("/v1/auth/login", s.LoginHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.tokens))

		r.Post("/v1/auth/logout", s.LogoutHandler)
		r.Post("/v1/auth/reauthenticate", s.ReauthenticateHandler)
		r.Get("/v1/auth/token/lookup-self", s.TokenLookupSelfHandler)
		r.Post("/v1/auth/token/renew-self", s.TokenRenewHandler)
		r.Get("/v1/auth/permissions", s.PermissionsHandler)

		r.Get("/v1/audit/events", s.AuditEventsHandler)
		r.Get("/v1/audit/alerts", s.AuditAlertsHandler)

		r.Post("/v1/admin/principals", s.CreatePrincipalHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.BuildRouter(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion:       tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{tls.CurveP256, tls.X25519},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// sessionFor returns a watchdog over the request's identity. It is never
// started; handlers use it for principal lookup and recency checks.
func (s *Server) sessionFor(r *http.Request) *session.Watchdog {
	return session.NewWatchdog(identityFromCtx(r.Context()), s.cfg.Session)
}
