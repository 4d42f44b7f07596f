// Package api - HTTP intake for video work, the alarm receiver and the proof gallery.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/nvr-ai/traywatch/alarm"
	"github.com/nvr-ai/traywatch/metrics"
	"github.com/nvr-ai/traywatch/queue"
)

// enqueueTimeout bounds how long a request waits on a full queue.
const enqueueTimeout = 2 * time.Second

// Server routes HTTP requests to the queue, the journal and the receiver.
type Server struct {
	queue    queue.Queue
	journal  alarm.Reader
	proofDir string
	metrics  *metrics.Metrics
	clock    clock.Clock
	receiver *Receiver
	logger   *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithJournal enables GET /journal/{transaction}.
func WithJournal(r alarm.Reader) Option {
	return func(s *Server) { s.journal = r }
}

// WithProofDir serves proof images under /proofs/.
func WithProofDir(dir string) Option {
	return func(s *Server) { s.proofDir = dir }
}

// WithMetrics exposes m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock sets the clock used for default origin times.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// NewServer creates a server enqueueing onto q.
func NewServer(q queue.Queue, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		queue:    q,
		clock:    clock.New(),
		receiver: NewReceiver(),
		logger:   logger.Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Receiver returns the in-memory alarm receiver.
func (s *Server) Receiver() *Receiver {
	return s.receiver
}

// ServeMux registers every route.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /video-task", s.enqueueVideoTask)
	mux.HandleFunc("POST /video-task/{$}", s.enqueueVideoTask)
	mux.HandleFunc("POST /trigger", s.trigger)
	mux.HandleFunc("GET /journal/{transaction}", s.listJournal)

	mux.HandleFunc("POST /alarm", s.receiveAlarm)
	mux.HandleFunc("POST /alarm/{$}", s.receiveAlarm)
	mux.HandleFunc("GET /alarms", s.listAlarms)
	mux.HandleFunc("GET /alarms/{$}", s.listAlarms)
	mux.HandleFunc("DELETE /alarms/clear", s.clearAlarms)
	mux.HandleFunc("GET /proofs-list", s.showProofs)

	if s.proofDir != "" {
		mux.Handle("GET /proofs/", http.StripPrefix("/proofs/", http.FileServer(http.Dir(s.proofDir))))
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// Handler is ServeMux wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.logger, s.ServeMux())
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
			zap.Int("status", lrw.statusCode),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
