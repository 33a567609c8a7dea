package web

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/asheshgoplani/term-deck/internal/logging"
	"github.com/asheshgoplani/term-deck/internal/session"
)

// DefaultListenAddr is used when Config.ListenAddr is empty.
const DefaultListenAddr = "127.0.0.1:8420"

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr string
	ReadOnly   bool
	Token      string
	Version    string
	Manager    *session.Manager
	// ErrorLog receives net/http's internal errors. Nil uses the log
	// package's standard logger.
	ErrorLog *log.Logger
}

// Server exposes the session manager over HTTP, SSE and WebSocket.
type Server struct {
	cfg        Config
	manager    *session.Manager
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc
	log        *slog.Logger
}

// NewServer creates a new web server with routes and middleware.
func NewServer(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}

	s := &Server{
		cfg:     cfg,
		manager: cfg.Manager,
		log:     logging.ForComponent(logging.CompWeb),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionRoutes)
	mux.HandleFunc("/api/control", s.handleControl)
	mux.HandleFunc("/events/sessions/", s.handleBlockEvents)
	mux.HandleFunc("/ws/session/", s.handleSessionWS)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.withRecover(s.withRequestLog(mux)),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          cfg.ErrorLog,
	}

	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until shutdown or error.
// Returns nil on graceful shutdown.
func (s *Server) Start() error {
	s.log.Info("web_listening", slog.String("addr", s.cfg.ListenAddr), slog.Bool("read_only", s.cfg.ReadOnly))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	// Cancelling the base context ends SSE and websocket handlers.
	s.cancelBase()

	err := s.httpServer.Shutdown(ctx)
	if err == nil || !(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return err
	}
	if closeErr := s.httpServer.Close(); closeErr != nil {
		return fmt.Errorf("force close after shutdown timeout: %w", closeErr)
	}
	return nil
}

type healthResponse struct {
	OK       bool   `json:"ok"`
	Version  string `json:"version"`
	ReadOnly bool   `json:"readOnly"`
	Sessions int    `json:"sessions"`
	Time     string `json:"time"`
}

// handleHealthz is unauthenticated so supervisors can probe it.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		OK:       true,
		Version:  s.cfg.Version,
		ReadOnly: s.cfg.ReadOnly,
		Sessions: s.manager.SessionCount(),
		Time:     time.Now().UTC().Format(time.RFC3339),
	})
}

// withRecover turns a handler panic into a logged INTERNAL_ERROR response.
func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("handler_panic",
					slog.String("recover", fmt.Sprint(rec)),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path))
				writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withRequestLog logs completed requests at debug level and counts 5xx
// responses in the event aggregator.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		if sw.status >= http.StatusInternalServerError {
			logging.Aggregate(logging.CompWeb, "server_error", slog.String("path", r.URL.Path))
		}
		s.log.Debug("http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Duration("elapsed", time.Since(start)))
	})
}

// statusWriter records the response status. It forwards Flush and Hijack
// so SSE and websocket upgrades keep working behind it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	return h.Hijack()
}

func (s *Server) String() string {
	return fmt.Sprintf("web-server(addr=%s, readOnly=%t)", s.cfg.ListenAddr, s.cfg.ReadOnly)
}
