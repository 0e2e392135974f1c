package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/flemzord/apmd/internal/job"
	"github.com/go-chi/chi/v5"
)

// rescheduleRequest is the optional body of POST /api/jobs/{id}/reschedule.
type rescheduleRequest struct {
	DelaySecs   int `json:"delay_secs"`
	MaxAttempts int `json:"max_attempts"`
	RetrySecs   int `json:"retry_secs"`
}

// handleListJobs returns the records in ?state=, or in every state.
func (g *Gateway) handleListJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		states := job.States
		if s := r.URL.Query().Get("state"); s != "" && s != "all" {
			st, err := job.ParseState(s)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			states = []job.State{st}
		}

		jobs := []job.Record{}
		for _, st := range states {
			recs, err := g.deps.Jobs.JobsByState(r.Context(), st)
			if err != nil {
				g.logger.Error("list jobs failed", "state", st, "error", err)
				http.Error(w, "failed to list jobs", http.StatusInternalServerError)
				return
			}
			jobs = append(jobs, recs...)
		}

		writeJSON(w, http.StatusOK, jobs)
	}
}

// handleJobCounts returns the number of records in each state.
func (g *Gateway) handleJobCounts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := g.deps.Jobs.CountsByState(r.Context())
		if err != nil {
			g.logger.Error("count jobs failed", "error", err)
			http.Error(w, "failed to count jobs", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	}
}

// handleGetJob returns one record by ID.
func (g *Gateway) handleGetJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := g.deps.Jobs.Job(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, job.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		if err != nil {
			g.logger.Error("get job failed", "error", err)
			http.Error(w, "failed to get job", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// handleRescheduleJob puts a record back into the waiting state.
func (g *Gateway) handleRescheduleJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req rescheduleRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.DelaySecs < 0 || req.MaxAttempts < 0 || req.RetrySecs < 0 {
			http.Error(w, "values must be non-negative", http.StatusBadRequest)
			return
		}

		err := g.deps.Jobs.RescheduleJob(r.Context(), id, job.RescheduleOptions{
			Delay:         time.Duration(req.DelaySecs) * time.Second,
			MaxAttempts:   req.MaxAttempts,
			RetryInterval: time.Duration(req.RetrySecs) * time.Second,
		})
		if errors.Is(err, job.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		if err != nil {
			g.logger.Error("reschedule job failed", "id", id, "error", err)
			http.Error(w, "failed to reschedule job", http.StatusInternalServerError)
			return
		}

		rec, err := g.deps.Jobs.Job(r.Context(), id)
		if err != nil {
			http.Error(w, "failed to get job", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// handleCleanQueue deletes every finished record.
func (g *Gateway) handleCleanQueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := g.deps.Jobs.CleanQueue(r.Context())
		if err != nil {
			g.logger.Error("clean queue failed", "error", err)
			http.Error(w, "failed to clean queue", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
