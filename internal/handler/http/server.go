// Package http implements the webhook ingress: the IFTTT tweet intake,
// the broadcast intake with HMAC verification, and the health/stats
// endpoints. Handlers only validate and enqueue; all processing happens
// in the queue worker.
package http

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"mirrorpost/internal/handler/http/requestid"
	"mirrorpost/internal/infra/queue"
	"mirrorpost/internal/observability/metrics"
	"mirrorpost/internal/observability/tracing"
)

// Environments the ingress can enqueue into.
const (
	EnvProd = "prod"
	EnvTest = "test"
)

// Server is the ingress HTTP server.
type Server struct {
	queues    map[string]*queue.Queue // env → tweet queue
	broadcast *queue.Queue
	secret    []byte // broadcast HMAC secret; empty disables verification
	logger    *slog.Logger

	startedAt time.Time
	requests  atomic.Int64
}

// NewServer creates the ingress over the per-environment queues.
// broadcast may be nil when the broadcast intake is not deployed;
// secret empty disables HMAC verification (dev only).
func NewServer(queues map[string]*queue.Queue, broadcast *queue.Queue, secret string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		queues:    queues,
		broadcast: broadcast,
		secret:    []byte(secret),
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Router builds the chi router with the ingress middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(tracing.Middleware)
	r.Use(s.measure)

	r.Post("/api/ifttt/twitter", s.handleIFTTT)
	r.Post("/api/mastodon/broadcast", s.handleBroadcast)
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	return r
}

// measure counts requests and records HTTP metrics.
func (s *Server) measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.RecordHTTPRequest(r.Method, r.URL.Path,
			http.StatusText(recorder.status), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// queueFor picks the environment queue for a request; the default is
// prod, ?env=test selects the test environment.
func (s *Server) queueFor(r *http.Request) (*queue.Queue, string, bool) {
	env := r.URL.Query().Get("env")
	if env == "" {
		env = EnvProd
	}
	q, ok := s.queues[env]
	return q, env, ok
}
