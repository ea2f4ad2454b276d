// Package ops implements the operational HTTP endpoint: health and
// stats introspection, a live WebSocket event stream, rendered help,
// and a QR code linking to the bot's chat.
package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
	"github.com/yuin/goldmark"

	"github.com/fmarino/despierto/internal/catalog"
	"github.com/fmarino/despierto/internal/events"
)

// Stats is implemented by components that expose counters for the
// /api/stats endpoint.
type Stats interface {
	Stats() map[string]any
}

// ServerConfig holds the dependencies for a Server.
type ServerConfig struct {
	Address     string
	Port        int
	Registry    Stats
	Engine      Stats
	Scheduler   Stats
	Bus         *events.Bus
	Msgs        *catalog.Catalog
	BotUsername string
	Logger      *slog.Logger
}

// Server is the operational HTTP server.
type Server struct {
	cfg      ServerConfig
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
	started  time.Time
}

// NewServer creates an ops server. It does not listen until Start.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			// The endpoint is bind-address-protected, not origin-protected.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes builds the handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.withLogging)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/events", s.handleEvents)
	r.Get("/help", s.handleHelp)
	r.Get("/qr.png", s.handleQR)
	return r
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.started = time.Now()
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:     s.Routes(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: the event stream holds its connection open.
	}

	s.logger.Info("starting ops server", "address", s.cfg.Address, "port", s.cfg.Port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// writeJSON encodes v to w, logging encode errors at debug level.
// Failures here usually mean the client disconnected mid-response.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "healthy"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}
	if s.cfg.Registry != nil {
		stats["alarms"] = s.cfg.Registry.Stats()
	}
	if s.cfg.Engine != nil {
		stats["conversations"] = s.cfg.Engine.Stats()
	}
	if s.cfg.Scheduler != nil {
		stats["scheduler"] = s.cfg.Scheduler.Stats()
	}
	stats["event_subscribers"] = s.cfg.Bus.SubscriberCount()
	s.writeJSON(w, stats)
}

// handleEvents upgrades to a WebSocket and streams bus events as JSON
// until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.cfg.Bus.Subscribe(64)
	defer s.cfg.Bus.Unsubscribe(ch)
	s.logger.Info("event stream subscriber connected", "remote", r.RemoteAddr)

	// Drain reads so close frames and pings are processed; a read error
	// means the client went away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			s.logger.Info("event stream subscriber disconnected", "remote", r.RemoteAddr)
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		}
	}
}

// handleHelp renders the catalog help text as HTML.
func (s *Server) handleHelp(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(s.cfg.Msgs.Help), &buf); err != nil {
		s.logger.Error("help markdown conversion failed", "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html><html><body>%s</body></html>", buf.String())
}

// handleQR serves a QR code pointing at the bot's Telegram chat.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	if s.cfg.BotUsername == "" {
		http.Error(w, "bot username not configured", http.StatusNotFound)
		return
	}
	png, err := qrcode.Encode("https://t.me/"+s.cfg.BotUsername, qrcode.Medium, 256)
	if err != nil {
		s.logger.Error("qr encoding failed", "error", err)
		http.Error(w, "qr encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}
