package middleware

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/emberchat/ember/internal/metrics"
	"github.com/emberchat/ember/internal/ratelimit"
)

// BlockedIP rejects requests from IPs the blocker has temporarily blocked.
// Whitelisted IPs bypass the check entirely.
func BlockedIP(blocker *ratelimit.Blocker, whitelist *ratelimit.Whitelist, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := RealIP(r)

			if whitelist.Contains(ip) {
				next.ServeHTTP(w, r)
				return
			}

			if blocker.IsBlocked(r.Context(), ip) {
				metrics.BlockedRequests.Inc()
				logger.Warn().
					Str("type", "security").
					Str("event", "blocked_request").
					Str("ip", ip).
					Str("endpoint", r.URL.Path).
					Msg("blocked IP attempted request")
				http.Error(w, `{"error":"temporarily blocked"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
