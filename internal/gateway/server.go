package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/zmcp/odata-gateway/internal/constants"
	"github.com/zmcp/odata-gateway/internal/metrics"
	"github.com/zmcp/odata-gateway/internal/models"
	"github.com/zmcp/odata-gateway/internal/requestid"
)

// ServerConfig configures Run
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Server owns the routes, the middleware chain and the readiness state
type Server struct {
	handlers *Handlers
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	ready    atomic.Bool
}

// NewServer wires handlers and metrics into a server. m may be nil, in which
// case /metrics is not served.
func NewServer(service *Service, m *metrics.Metrics, logger zerolog.Logger) *Server {
	s := &Server{
		handlers: NewHandlers(service, logger),
		metrics:  m,
		logger:   logger,
	}
	s.ready.Store(true)
	return s
}

// Handler returns the routed handler with the middleware chain applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+constants.RouteMetadata, s.handlers.Metadata)
	mux.HandleFunc(constants.RouteMetadata, MethodNotAllowed(http.MethodPost))
	mux.HandleFunc("POST "+constants.RouteQuery, s.handlers.Query)
	mux.HandleFunc(constants.RouteQuery, MethodNotAllowed(http.MethodPost))
	mux.HandleFunc("GET "+constants.RouteHealthz, s.healthz)
	mux.HandleFunc("GET "+constants.RouteReadyz, s.readyz)
	if s.metrics != nil {
		mux.Handle("GET "+constants.RouteMetrics, s.metrics.Handler())
	}
	mux.HandleFunc("/", NotFound)

	var h http.Handler = mux
	if s.metrics != nil {
		h = metricsMiddleware(s.metrics, h)
	}
	return recoverMiddleware(s.logger, requestLogMiddleware(s.logger, requestIDMiddleware(h)))
}

// Run serves until ctx is cancelled, then drains: readiness flips to
// not_ready and in-flight requests get ShutdownTimeout to finish.
func (s *Server) Run(ctx context.Context, cfg ServerConfig) error {
	if cfg.Addr == "" {
		return errors.New("addr is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = time.Duration(constants.DefaultShutdownTimeout) * time.Second
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	return s.Serve(ctx, ln, cfg.ShutdownTimeout)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("event", "server_start").
			Str("addr", ln.Addr().String()).
			Msg("http server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		s.ready.Store(false)
		s.logger.Info().Str("event", "server_shutdown").Msg("http server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": constants.ServiceName,
		"status":  "ok",
	})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"service": constants.ServiceName,
			"status":  "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": constants.ServiceName,
		"status":  "ready",
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := requestid.Sanitize(r.Header.Get(constants.RequestID))
		if id == "" {
			id = requestid.New()
		}

		r.Header.Set(constants.RequestID, id)
		w.Header().Set(constants.RequestID, id)
		next.ServeHTTP(w, r.WithContext(requestid.WithID(r.Context(), id)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.status = statusCode
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacker not supported")
	}
	return hijacker.Hijack()
}

func (w *statusWriter) ReadFrom(r io.Reader) (int64, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	if rf, ok := w.ResponseWriter.(io.ReaderFrom); ok {
		return rf.ReadFrom(r)
	}
	return io.Copy(w.ResponseWriter, r)
}

// quietPaths are logged at debug level; probes would drown everything else
var quietPaths = map[string]bool{
	constants.RouteHealthz: true,
	constants.RouteReadyz:  true,
	constants.RouteMetrics: true,
}

func requestLogMiddleware(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		var event *zerolog.Event
		switch {
		case sw.status >= http.StatusInternalServerError:
			event = logger.Error()
		case quietPaths[r.URL.Path]:
			event = logger.Debug()
		default:
			event = logger.Info()
		}
		event.
			Str("request_id", r.Header.Get(constants.RequestID)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http request")
	})
}

func metricsMiddleware(m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		m.ObserveRequest(routeLabel(r), r.Method, sw.status, time.Since(start))
	})
}

// routeLabel keeps metric cardinality bounded: the matched pattern without its
// method, never the raw path
func routeLabel(r *http.Request) string {
	pattern := r.Pattern
	if _, path, ok := strings.Cut(pattern, " "); ok {
		pattern = path
	}
	if pattern == "" {
		return "unmatched"
	}
	return pattern
}

func recoverMiddleware(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				id := requestid.FromContext(r.Context())
				if id == "" {
					id = r.Header.Get(constants.RequestID)
				}
				logger.Error().
					Str("request_id", id).
					Interface("panic", v).
					Msg("panic recovered")
				writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
					Error:     constants.ErrCodeInternal,
					Message:   "an unexpected error occurred",
					RequestID: id,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
