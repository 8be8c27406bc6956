package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/florian-lahitte-uvi/Test-stripe/internal/logger"
)

// Pinger checks a backing dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health responds 200 while the database answers pings and 503 otherwise. A nil db
// skips the check.
func Health(db Pinger, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				log.Warnw("health check: database unreachable", "error", err)
				payload["status"] = "degraded"
				writeJSON(w, log, http.StatusServiceUnavailable, payload)
				return
			}
		}

		writeJSON(w, log, http.StatusOK, payload)
	}
}
