// Package httpapi implements the gateway's HTTP surface from spec.md §6:
// POST /api/voice/turn, GET/POST /api/settings, and the /healthz/-/readyz
// probes. Routing follows the teacher's net/http.ServeMux method-pattern
// style (see internal/health.Handler.Register); CORS, rate limiting, and
// request tracing/metrics are plain middleware wrapping the mux.
package httpapi

import (
	"net/http"

	"github.com/glyphgate/voicegate/internal/config"
	"github.com/glyphgate/voicegate/internal/health"
	"github.com/glyphgate/voicegate/internal/observe"
	"github.com/glyphgate/voicegate/internal/orchestrator"
	"github.com/glyphgate/voicegate/internal/ratelimit"
)

// Server wires the orchestrator, config store, rate limiter, and health
// handler into a single http.Handler.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	store        *config.Store
	limiter      *ratelimit.Limiter
	health       *health.Handler

	mux http.Handler
}

// New builds a Server and registers all routes. The mux is wrapped with
// observe.Middleware using the package-level DefaultMetrics instance, inside
// the rate-limit and CORS layers: every request that passes both checks gets
// an HTTPRequestDuration sample and a trace span, while requests rejected
// with 429 or 403 are not recorded.
func New(orch *orchestrator.Orchestrator, store *config.Store, limiter *ratelimit.Limiter, h *health.Handler) *Server {
	s := &Server{orchestrator: orch, store: store, limiter: limiter, health: h}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/voice/turn", s.handleVoiceTurn)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handlePostSettings)
	h.Register(mux)

	traced := observe.Middleware(observe.DefaultMetrics())(mux)
	s.mux = rateLimited(limiter, corsGuard(store, traced))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
