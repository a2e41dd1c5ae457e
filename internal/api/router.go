package api

import (
	"net/http"

	"github.com/Rrens/live-assist/internal/api/handler"
	customMiddleware "github.com/Rrens/live-assist/internal/api/middleware"
	"github.com/Rrens/live-assist/internal/config"
	"github.com/Rrens/live-assist/internal/llm"
	"github.com/Rrens/live-assist/internal/quota"
	"github.com/Rrens/live-assist/internal/search"
	"github.com/Rrens/live-assist/internal/security"
	"github.com/Rrens/live-assist/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the services the router exposes. Gatherer may be nil when
// metrics are disabled.
type Deps struct {
	JWT      *security.JWTManager
	Auth     *service.AuthService
	Sessions *service.SessionService
	Search   *search.Service
	Ledger   *quota.Ledger
	LLM      *llm.Router
	Ready    map[string]handler.Pinger
	Gatherer prometheus.Gatherer
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.Metrics.Enabled && deps.Gatherer != nil {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	authHandler := handler.NewAuthHandler(deps.Auth)
	sessionHandler := handler.NewSessionHandler(deps.Sessions)
	uploadHandler := handler.NewUploadHandler(deps.Sessions)
	realtimeHandler := handler.NewRealtimeHandler(deps.Sessions, cfg.Server.AllowOrigins)
	searchHandler := handler.NewSearchHandler(deps.Search)
	usageHandler := handler.NewUsageHandler(deps.Ledger)

	authMiddleware := customMiddleware.NewAuthMiddleware(deps.JWT)
	timeout := middleware.Timeout(cfg.Server.RequestTimeout)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.With(timeout).Get("/health", handler.HealthCheck)
		r.With(timeout).Get("/ready", handler.ReadyCheck(deps.Ready))

		// Auth routes
		r.Route("/auth", func(r chi.Router) {
			r.Use(timeout)
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.With(authMiddleware.Authenticate).Get("/me", authHandler.Me)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.With(timeout).Get("/llm/status", handler.LLMStatus(deps.LLM))
			r.With(timeout).Post("/search", searchHandler.Search)

			r.Route("/usage", func(r chi.Router) {
				r.Use(timeout)
				r.Get("/", usageHandler.Summary)
				r.Post("/check", usageHandler.Check)
			})

			r.Route("/sessions", func(r chi.Router) {
				r.With(timeout).Get("/", sessionHandler.List)
				r.With(timeout).Post("/", sessionHandler.Create)

				r.Route("/{id}", func(r chi.Router) {
					// The stream outlives any request timeout.
					r.Get("/realtime", realtimeHandler.Serve)

					r.Group(func(r chi.Router) {
						r.Use(timeout)
						r.Get("/", sessionHandler.Get)
						r.Delete("/", sessionHandler.Delete)
						r.Get("/history", sessionHandler.History)
						r.Post("/restore", sessionHandler.Restore)
						r.Post("/text", sessionHandler.SendText)
						r.Post("/audio", sessionHandler.SendAudio)
						r.Post("/image", sessionHandler.SendImage)
						r.Post("/frame", uploadHandler.UploadFrame)
					})
				})
			})
		})
	})

	return r
}
