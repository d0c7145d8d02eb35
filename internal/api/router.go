package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mhelail/real-time-communication-platform/internal/api/middleware"
	"github.com/mhelail/real-time-communication-platform/internal/config"
	"github.com/mhelail/real-time-communication-platform/internal/handlers"
	"github.com/mhelail/real-time-communication-platform/internal/realtime"
	"github.com/mhelail/real-time-communication-platform/internal/store"
)

// NewRouter creates and configures the HTTP router. redisStore may be nil,
// which disables rate limiting and presence lookups.
func NewRouter(cfg *config.Config, logger zerolog.Logger, db store.DataStore, redisStore *store.RedisStore, hub *realtime.Hub) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore.Client(), logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
		r.Use(limiter.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(db, redisStore, cfg.JWTSecret)
	auth := middleware.NewAuthMiddleware(db, cfg.JWTSecret, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Post("/api/auth/register", h.Register)
	r.Post("/api/auth/login", h.Login)

	// Realtime endpoint; authenticates via token query parameter because
	// browser WebSocket clients cannot set headers.
	r.Get("/ws", realtime.ServeWS(hub, cfg.JWTSecret, cfg.AllowedOrigins, logger))

	// Authenticated routes (require bearer token)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/api/users", h.ListUsers)
		r.Get("/api/users/{username}", h.GetUser)
		r.Post("/api/conversations", h.CreateConversation)
		r.Get("/api/conversations", h.ListConversations)
		r.Get("/api/conversations/{id}/messages", h.GetMessages)
		r.Get("/api/calls", h.CallHistory)
	})

	return r
}
