package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"admin-auth/internal/config"
	"admin-auth/internal/util"
)

// HealthChecker reports whether the credential store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(authHandler *AuthHandler, health HealthChecker, server config.ServerConfig, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	prefixes, err := server.TrustedProxyPrefixes()
	if err != nil {
		util.Warn("Ignoring trusted proxy list", util.ErrorField(err))
	}
	proxies := trustedProxies(prefixes)

	// Enforce HTTPS-only
	if server.EnableTLS {
		router.Use(proxies.requireHTTPS)
	}

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(proxies.realIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if err := health.HealthCheck(ctx); err != nil {
			util.Warn("Health check failed", util.ErrorField(err))
			respondWithJSON(w, http.StatusServiceUnavailable, Response{Success: false, Error: msgUnavailable})
			return
		}
		respondWithJSON(w, http.StatusOK, successResponse(map[string]string{"status": "healthy", "service": "admin-auth"}, ""))
	})

	// API routes
	router.Route("/api/v1", func(r chi.Router) {
		authHandler.RegisterRoutes(r)
	})

	// 404 handler
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusNotFound, Response{Success: false, Error: "endpoint not found"})
	})

	// Method not allowed handler
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusMethodNotAllowed, Response{Success: false, Error: "method not allowed"})
	})

	return router
}
