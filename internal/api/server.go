// Package api provides the HTTP API server and handlers for the Grimoire catalog.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grimoireapp/grimoire-server/internal/auth"
	"github.com/grimoireapp/grimoire-server/internal/metrics"
	"github.com/grimoireapp/grimoire-server/internal/ratelimit"
	"github.com/grimoireapp/grimoire-server/internal/service"
)

// Rate limits per client IP.
const (
	authRateLimit  = 10
	authRateWindow = 15 * time.Minute
	apiRateLimit   = 100
	apiRateWindow  = time.Minute
)

// multipartOverhead is the room left for the form fields next to the image.
const multipartOverhead = 1 << 20

// CoverReader serves stored cover images.
type CoverReader interface {
	Get(ref string) ([]byte, error)
}

// Services groups the collaborators the handlers call into.
type Services struct {
	Auth  *service.AuthService
	Books *service.BookService
}

// Options configures the server.
type Options struct {
	Version        string
	BaseURL        string   // prefix of the imageUrl field
	AllowedOrigins []string // CORS
	Verbose        bool     // expose 500 details; off in production
	RequestTimeout time.Duration
	MaxUploadBytes int64
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	services    *Services
	gate        *auth.Gate
	covers      CoverReader
	metrics     metrics.Recorder
	gatherer    prometheus.Gatherer
	opts        Options
	router      *chi.Mux
	api         huma.API
	authLimiter *ratelimit.KeyedRateLimiter
	apiLimiter  *ratelimit.KeyedRateLimiter
	logger      *slog.Logger
}

// Deps are the server's collaborators.
type Deps struct {
	Services   *Services
	Gate       *auth.Gate
	Covers     CoverReader
	Metrics    metrics.Recorder
	Gatherer   prometheus.Gatherer // nil disables /metrics
	Logger     *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(deps Deps, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	if opts.BaseURL != "" {
		opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}

	s := &Server{
		services:    deps.Services,
		gate:        deps.Gate,
		covers:      deps.Covers,
		metrics:     deps.Metrics,
		gatherer:    deps.Gatherer,
		opts:        opts,
		router:      chi.NewRouter(),
		authLimiter: ratelimit.New(authRateLimit, authRateWindow),
		apiLimiter:  ratelimit.New(apiRateLimit, apiRateWindow),
		logger:      deps.Logger,
	}

	s.setupMiddleware()
	s.setupHuma()
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the rate limiter sweepers.
func (s *Server) Close() {
	s.authLimiter.Stop()
	s.apiLimiter.Stop()
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
		NoColor: true,
	}))
	s.router.Use(s.scopeLogger)
	s.router.Use(s.recoverer)
	s.router.Use(securityHeaders)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"ETag", "Retry-After"},
		MaxAge:         300,
	}))
	s.router.Use(s.observe)
	s.router.Use(s.rateLimit("/api/", s.apiLimiter))
	s.router.Use(s.rateLimit("/api/auth/", s.authLimiter))
	s.router.Use(s.requestTimeout)
}

// setupHuma mounts the JSON operations. The id check runs inline so it sees
// the matched route's {id} parameter.
func (s *Server) setupHuma() {
	config := huma.DefaultConfig("Grimoire API", s.opts.Version)
	config.Info.Description = "Book catalog with per-user ratings."
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "PASETO",
		},
	}
	// Keep response bodies to the envelope, without a $schema link.
	config.CreateHooks = nil

	s.api = humachi.New(s.router.With(s.validateID), config)
	RegisterErrorHandler(s.opts.Verbose)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.registerAuthRoutes()
	s.registerBookRoutes()

	s.router.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		s.router.Method(http.MethodGet, "/metrics", metrics.Handler(s.gatherer))
	}
	s.router.Get("/images/{ref}", s.handleServeImage)

	s.router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, notFound("route not found"))
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeStatus(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}
