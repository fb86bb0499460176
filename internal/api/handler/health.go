package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/api/response"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/queue"
)

const healthTimeout = 3 * time.Second

// Checker is a dependency probed by the health endpoint.
type Checker interface {
	Ping(ctx context.Context) error
}

// QueueStats reports queue depth for the health payload.
type QueueStats interface {
	Counts(ctx context.Context, name string) (*queue.Counts, error)
}

// NewHealthHandler returns an http.HandlerFunc for GET /health. It answers
// 503 when any dependency fails its ping. stats may be nil.
func NewHealthHandler(checks map[string]Checker, stats QueueStats, queues []string) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		results := make(map[string]string, len(names))
		healthy := true
		for _, name := range names {
			if err := checks[name].Ping(ctx); err != nil {
				slog.Warn("health check failed", "dependency", name, "error", err)
				results[name] = "unavailable"
				healthy = false
				continue
			}
			results[name] = "ok"
		}

		if !healthy {
			response.Error(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE",
				"One or more dependencies are unavailable", map[string]any{"checks": results})
			return
		}

		body := map[string]any{"status": "ok", "checks": results}
		if stats != nil {
			depth := make(map[string]*queue.Counts, len(queues))
			for _, name := range queues {
				c, err := stats.Counts(ctx, name)
				if err != nil {
					slog.Debug("queue counts", "queue", name, "error", err)
					continue
				}
				depth[name] = c
			}
			body["queues"] = depth
		}
		response.JSON(w, body)
	}
}
