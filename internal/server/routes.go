package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mnemora/retain/internal/engine"
)

// handleRunJob is the synchronous "run now" entry point for each retention
// job. Idempotent: running a job twice in succession creates nothing new the
// second time.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")

	dryRun := r.URL.Query().Get("dry_run") == "1" || r.URL.Query().Get("dry_run") == "true"
	opts := engine.SweepOpts{DryRun: dryRun}
	if b := r.URL.Query().Get("batch"); b != "" {
		n, err := strconv.Atoi(b)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid batch size %q", b))
			return
		}
		opts.BatchSize = n
	}

	ctx := r.Context()

	switch job {
	case "decay":
		summary, err := s.eng.DecaySweep(ctx, opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)

	case "quality":
		summary, err := s.eng.PromoteSweep(ctx, opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)

	case "relate":
		lookback := s.eng.Relate.Lookback
		if h := r.URL.Query().Get("lookback_hours"); h != "" {
			hours, err := strconv.ParseFloat(h, 64)
			if err != nil || hours <= 0 {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid lookback_hours %q", h))
				return
			}
			lookback = time.Duration(hours * float64(time.Hour))
		}
		result, err := s.eng.InferRelationships(ctx, time.Now().Add(-lookback))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case "consolidate":
		result, err := s.eng.SweepSessions(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown job %q", job))
	}
}

func (s *Server) handleReinforce(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "recordID")

	var req struct {
		Boost float64 `json:"boost"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json"))
			return
		}
	}

	strength, err := s.eng.Reinforce(recordID, req.Boost)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":       recordID,
		"strength": strength,
	})
}

func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "recordID")

	var req struct {
		Rating float64 `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json"))
		return
	}

	score, err := s.eng.AddRating(recordID, req.Rating)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      recordID,
		"quality": score,
	})
}

func (s *Server) handleSessionContext(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	context, err := s.eng.ExtractContext(sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"context":    context,
	})
}
