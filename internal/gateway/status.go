package gateway

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/flemzord/apmd/internal/telemetry"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Version     string              `json:"version"`
	PID         int                 `json:"pid"`
	Uptime      int64               `json:"uptime_seconds"`
	Rounds      int64               `json:"rounds"`
	Jobs        map[string]int      `json:"jobs"`
	Metrics     *telemetry.Snapshot `json:"metrics,omitempty"`
	Subscribers int                 `json:"event_subscribers"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := g.startedAt
		resp := StatusResponse{
			Version: g.deps.Version,
			PID:     os.Getpid(),
			Jobs:    map[string]int{},
		}

		if g.deps.Daemon != nil {
			resp.Rounds = g.deps.Daemon.Rounds()
			if t := g.deps.Daemon.StartedAt(); !t.IsZero() {
				started = t
			}
		}
		resp.Uptime = int64(time.Since(started) / time.Second)

		if g.deps.Metrics != nil {
			snap := g.deps.Metrics.Snapshot()
			resp.Metrics = &snap
		}
		if g.deps.Events != nil {
			resp.Subscribers = g.deps.Events.Len()
		}

		counts, err := g.deps.Jobs.CountsByState(r.Context())
		if err != nil {
			g.logger.Error("status: count jobs failed", "error", err)
			http.Error(w, "failed to count jobs", http.StatusInternalServerError)
			return
		}
		for st, n := range counts {
			resp.Jobs[string(st)] = n
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
