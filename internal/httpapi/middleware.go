package httpapi

import (
	"net/http"
	"strings"

	"github.com/glyphgate/voicegate/internal/config"
	"github.com/glyphgate/voicegate/internal/ratelimit"
	"github.com/glyphgate/voicegate/pkg/gwerr"
)

// probePaths are exempt from rate limiting and CORS enforcement; orchestrator
// health must stay observable even under a misconfigured or saturated limit.
var probePaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
}

// rateLimited gates every non-probe request through limiter, keyed by the
// caller's remote address, per spec.md §4.5.
func rateLimited(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if probePaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if !limiter.Check(callerKey(r)) {
			writeError(w, gwerr.New(gwerr.CodeRateLimited, "too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerKey derives the rate-limit bucket key from the request, preferring
// the RemoteAddr as recorded by net/http (host:port of the TCP peer).
func callerKey(r *http.Request) string {
	return r.RemoteAddr
}

// corsGuard enforces the allowlist from spec.md §6: when server.corsOrigins
// is non-empty, a cross-origin request whose Origin is not in the list is
// rejected with CORS_REJECTED. An empty allowlist leaves the gateway open
// only to same-origin traffic (no Origin header, or no enforcement at all),
// matching "otherwise the gateway is open to same-origin traffic only".
func corsGuard(store *config.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if probePaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		origin := r.Header.Get("Origin")
		origins := store.Get().Server.CORSOrigins
		if origin == "" || len(origins) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		if !originAllowed(origin, origins) {
			writeError(w, gwerr.New(gwerr.CodeCORSRejected, "origin not permitted"))
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
