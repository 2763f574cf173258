package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"collab-auth/internal/obs"
	"collab-auth/internal/util"
)

// HealthChecker reports the health of every backing store.
type HealthChecker interface {
	HealthCheck() map[string]string
}

// NewRouter assembles the chi router with the full middleware stack.
func NewRouter(authHandler *AuthHandler, adminHandler *AdminHandler, sessions *SessionMiddleware, health HealthChecker) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(loggerMiddleware)
	router.Use(middleware.Recoverer)
	router.Use(obs.Instrument)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if health == nil {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"healthy","service":"collab-auth"}`))
			return
		}

		checks := health.HealthCheck()
		status := http.StatusOK
		for _, state := range checks {
			if state == "unhealthy" {
				status = http.StatusServiceUnavailable
				break
			}
		}

		w.WriteHeader(status)
		body := `{"status":"healthy","service":"collab-auth"}`
		if status != http.StatusOK {
			body = `{"status":"degraded","service":"collab-auth"}`
		}
		w.Write([]byte(body))
	})

	router.Method(http.MethodGet, "/metrics", obs.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		authHandler.RegisterRoutes(r, sessions)
		adminHandler.RegisterRoutes(r, sessions)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"error":"method not allowed"}`))
	})

	return router
}

func loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			util.Info("HTTP request",
				util.String("method", r.Method),
				util.String("path", r.URL.Path),
				util.String("remote_addr", r.RemoteAddr),
				util.Int("status", ww.Status()),
				util.Duration("duration", time.Since(start)),
				util.String("user_agent", r.UserAgent()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
