// Package server exposes the coordinator over HTTP and WebSocket so other
// processes can drive the avatar and follow its events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/normanking/cortexlipsync/internal/avatar3d"
	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/config"
	"github.com/normanking/cortexlipsync/internal/logging"
	"github.com/normanking/cortexlipsync/internal/metrics"
)

const maxBodySize = 64 * 1024

// Controller is the part of the coordinator the server drives. Everything
// here is safe to call from HTTP goroutines.
type Controller interface {
	Commands() *bus.CommandQueue
	Events() *bus.EventBus
	Status() avatar3d.Status
}

// Server handles the HTTP API and WebSocket connections
type Server struct {
	cfg        config.ServerConfig
	ctrl       Controller
	logger     *logging.Logger
	hub        *hub
	httpServer *http.Server
}

// SpeakBody is the body of POST /speak.
type SpeakBody struct {
	Text string `json:"text"`
}

// New creates a server and starts forwarding coordinator events to
// WebSocket clients.
func New(cfg config.ServerConfig, ctrl Controller, logger *logging.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		ctrl:   ctrl,
		logger: logger,
		hub:    newHub(logger),
	}
	ctrl.Events().SubscribeMultiple(bus.AllEventTypes, s.hub.broadcast)
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/logs", s.handleLogs)
	r.Post("/speak", s.handleSpeak)
	r.Post("/commands", s.handleCommand)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWebSocket)
	return r
}

// allowedOrigins defaults to localhost only.
func (s *Server) allowedOrigins() []string {
	if len(s.cfg.AllowedOrigins) > 0 {
		return s.cfg.AllowedOrigins
	}
	return []string{"http://localhost:*", "http://127.0.0.1:*"}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("server", "request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
			"id":       chimw.GetReqID(r.Context()),
		})
	})
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s.Router(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	s.logger.Info("server", "Starting control server", map[string]interface{}{"addr": s.cfg.Addr})

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.closeAll()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.logger.GetHistory(limit))
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var body SpeakBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(w, http.StatusBadRequest, avatar3d.ErrEmptyInput)
		return
	}
	s.post(w, "http", bus.Command{Type: bus.CommandSpeak, Text: body.Text})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd bus.Command
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.post(w, "http", cmd)
}

func (s *Server) post(w http.ResponseWriter, source string, cmd bus.Command) {
	if err := s.ctrl.Commands().Post(cmd); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, bus.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}
	metrics.CommandsReceived.WithLabelValues(source, string(cmd.Type)).Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "type": string(cmd.Type)})
}
