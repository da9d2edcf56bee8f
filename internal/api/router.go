package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fleetlink/internal/infrastructure/logging"
	"github.com/nerrad567/fleetlink/internal/panel"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Control page (embedded via go:embed)
	page := panel.Handler(s.cfg.PanelDir)
	r.Get("/", page.ServeHTTP)
	r.Get("/panel/config.js", s.handlePanelConfig)
	r.Handle("/panel/*", http.StripPrefix("/panel", page))

	r.Get("/health", s.handleHealth)

	// Realtime viewers
	r.Get(s.websocketPath(), s.handleWebSocket)

	// Direct device channel
	r.Route("/devices/{ip}", func(r chi.Router) {
		r.Get("/state", s.handleDirectState)
		r.Post("/{action}", s.handleDirectCommand)
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/state", func(r chi.Router) {
			r.Get("/", s.handleGetState)
			r.Get("/{deviceId}", s.handleGetDeviceState)
			r.Post("/{deviceId}/command", s.handleDeviceCommand)
		})
	})

	return r
}

func (s *Server) websocketPath() string {
	if s.wsCfg.Path == "" {
		return "/realtime"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   logging.ServiceName,
		"version":   s.version,
	}
	if s.mqtt != nil {
		resp["mqtt_connected"] = s.mqtt.IsConnected()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePanelConfig tells the control page where the realtime endpoint is.
func (s *Server) handlePanelConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, must-revalidate")
	//nolint:errcheck // Best-effort write to response
	w.Write(panel.ConfigScript(s.websocketPath()))
}
