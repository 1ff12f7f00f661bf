// Package server exposes the presay HTTP surface: the OpenAI-compatible
// chat and speech endpoints, cache administration, health, and metrics.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/presay/internal/api"
	"github.com/MrWong99/presay/internal/balancer"
	"github.com/MrWong99/presay/internal/cache"
	"github.com/MrWong99/presay/internal/config"
	"github.com/MrWong99/presay/internal/observe"
	"github.com/MrWong99/presay/internal/orchestrator"
	"github.com/MrWong99/presay/internal/upstream"
)

// Version is reported by the health and root routes.
const Version = "1.0.0"

// Server routes client requests to the upstream provider, the TTS cache,
// and the balancer.
type Server struct {
	cfg     *config.Config
	cache   *cache.Cache
	bal     *balancer.Balancer
	up      *upstream.Client
	orch    *orchestrator.Orchestrator
	metrics *observe.Metrics
	started time.Time
}

// Deps are the collaborators a Server needs. Metrics may be nil, in which
// case the process-wide instance is used.
type Deps struct {
	Config   *config.Config
	Cache    *cache.Cache
	Balancer *balancer.Balancer
	Upstream *upstream.Client
	Metrics  *observe.Metrics
}

// New creates a Server. The prefetch orchestrator is built here, bound to
// the cache and the configured splitter window.
func New(d Deps) *Server {
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}
	return &Server{
		cfg:   d.Config,
		cache: d.Cache,
		bal:   d.Balancer,
		up:    d.Upstream,
		orch: orchestrator.New(d.Cache,
			d.Config.SplitterMinLen, d.Config.SplitterMaxLen,
			orchestrator.WithMetrics(d.Metrics)),
		metrics: d.Metrics,
		started: time.Now(),
	}
}

// Handler returns the full route tree wrapped in the middleware chain:
// panic recovery outermost, then CORS, then tracing and request metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("POST /v1/audio/speech", s.handleSpeech)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /cache/stats", s.handleCacheStats)
	mux.HandleFunc("POST /cache/clear", s.handleCacheClear)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("/", s.handleNotFound)

	var h http.Handler = mux
	h = observe.Middleware(s.metrics)(h)
	h = corsMiddleware(h)
	h = recoverMiddleware(h)
	return h
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

// writeError writes the OpenAI-style error envelope.
func writeError(w http.ResponseWriter, status int, message, errType, code string) {
	writeJSON(w, status, api.NewError(message, errType, code))
}
