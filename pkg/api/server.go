// Bridge gateway HTTP surface: backend event ingestion, the SSE stream
// for widgets, and platform webhook endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pocketping/bridge-gateway/pkg/config"
	"github.com/pocketping/bridge-gateway/pkg/logger"
	"github.com/pocketping/bridge-gateway/pkg/router"
	"github.com/pocketping/bridge-gateway/pkg/uafilter"
)

// Server is the gateway's HTTP server.
type Server struct {
	cfg       *config.Config
	router    *router.Router
	filter    *uafilter.Filter
	startTime time.Time
	server    *http.Server
	log       zerolog.Logger

	// sseHeartbeat is the keepalive comment interval; tests shrink it.
	sseHeartbeat time.Duration
}

// NewServer creates the HTTP server over a router.
func NewServer(cfg *config.Config, rt *router.Router) *Server {
	return &Server{
		cfg:          cfg,
		router:       rt,
		filter:       uafilter.New(cfg.UAFilter),
		startTime:    time.Now(),
		log:          logger.Component("api"),
		sseHeartbeat: 30 * time.Second,
	}
}

// Handler builds the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Generic event envelope plus convenience routes mapping onto it.
	mux.HandleFunc("POST /api/events", s.handleEvents)
	mux.HandleFunc("POST /api/sessions", s.handleTyped("new_session"))
	mux.HandleFunc("POST /api/messages", s.handleTyped("visitor_message"))
	mux.HandleFunc("POST /api/operator/status", s.handleTyped("operator_status"))
	mux.HandleFunc("POST /api/custom-events", s.handleTyped("custom_event"))
	mux.HandleFunc("POST /api/disconnect", s.handleTyped("visitor_disconnect"))

	mux.HandleFunc("GET /api/events/stream", s.handleEventStream)

	// Platform webhooks; the platforms cannot send our bearer token.
	mux.HandleFunc("POST /webhooks/telegram", s.handleTelegramWebhook)
	mux.HandleFunc("POST /webhooks/slack", s.handleSlackWebhook)
	mux.HandleFunc("POST /webhooks/discord", s.handleDiscordWebhook)

	return s.uaFilterMiddleware(authMiddleware(s.cfg.APIKey, mux))
}

// Start begins listening. Non-blocking; errors after startup are logged.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: the SSE stream is long-lived.
		IdleTimeout: 120 * time.Second,
	}

	s.log.Info().Str("addr", addr).Strs("bridges", s.router.Bridges()).Msg("server starting")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"bridges":   s.router.Bridges(),
		"uptime":    int(time.Since(s.startTime).Seconds()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
