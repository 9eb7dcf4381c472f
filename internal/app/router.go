// Package app wires the HTTP router and readiness checks.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/media-task-broker/internal/adapter/httpserver"
	"github.com/fairyhunter13/media-task-broker/internal/config"
	"github.com/fairyhunter13/media-task-broker/internal/observability"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty input allows every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(60 * time.Second))
	r.Use(httpserver.Tracing())
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		// Rate limit mutating endpoints.
		r.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
			wr.Post("/missions", srv.CreateMissionHandler())
			wr.Post("/missions/{id}/cancel", srv.CancelMissionHandler())
			wr.Post("/missions/{id}/retry", srv.RetryMissionHandler())
			wr.Delete("/missions/{id}", srv.DeleteMissionHandler())
			wr.Post("/media/upload", srv.UploadMediaHandler())
			wr.Post("/templates", srv.CreateTemplateHandler())
			wr.Delete("/templates/{id}", srv.DeleteTemplateHandler())
		})

		r.Get("/missions", srv.ListMissionsHandler())
		r.Get("/missions/scheduled", srv.ListScheduledHandler())
		r.Get("/missions/{id}", srv.GetMissionHandler())
		r.Get("/missions/{id}/items", srv.ListMissionItemsHandler())
		r.Get("/missions/{id}/download", srv.DownloadMissionHandler())
		r.Get("/media/files", srv.ListMediaHandler())
		r.Get("/media/files/by-names", srv.MediaByNamesHandler())
		r.Get("/media/file/{id}", srv.ServeMediaHandler())
		r.Get("/templates", srv.ListTemplatesHandler())
		r.Get("/queue/status", srv.QueueStatusHandler())
	})

	r.Get("/healthz", srv.HealthHandler())
	r.Get("/readyz", srv.ReadyHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return r
}
