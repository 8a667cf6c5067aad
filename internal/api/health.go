package api

import (
	"context"
	"net/http"
	"time"

	"github.com/quarry0/quarry/internal/log"
)

// Pinger reports whether a backing dependency is reachable. The
// PostgreSQL store satisfies this; nil means no dependency to probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// health answers liveness probes.
func health(logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// readiness answers readiness probes, pinging the store when one is
// configured.
func readiness(pinger Pinger, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pinger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if err := pinger.Ping(ctx); err != nil {
				logger.Warn("readiness probe failed", "error", err)
				writeError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable", logger)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, logger)
	}
}
