package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/hoopmetrics/learning-engine/internal/learn"
	"github.com/hoopmetrics/learning-engine/internal/models"
	"github.com/hoopmetrics/learning-engine/internal/worker"
)

// StartTrainingRequest controls one run. All fields are optional.
type StartTrainingRequest struct {
	MaxGames        int    `json:"max_games" validate:"gte=0"`
	StartFromGameID string `json:"start_from_game_id" validate:"omitempty,uuid"`
}

// lastRunHolder retains the most recent run summary for the status endpoint.
type lastRunHolder struct {
	mu      sync.Mutex
	summary *models.RunSummary
	err     string
}

func (l *lastRunHolder) set(s *models.RunSummary, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summary = s
	l.err = ""
	if err != nil {
		l.err = err.Error()
	}
}

func (l *lastRunHolder) get() (*models.RunSummary, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.summary, l.err
}

// StartTraining launches a run in the background and returns immediately.
// A second start while a run is active is rejected with 409.
func (h *Handler) StartTraining(w http.ResponseWriter, r *http.Request) {
	var req StartTrainingRequest
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.errorResponse(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
	}
	if err := h.validator.Struct(&req); err != nil {
		h.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := worker.StartOptions{MaxGames: req.MaxGames}
	if req.StartFromGameID != "" {
		id, err := uuid.Parse(req.StartFromGameID)
		if err != nil {
			h.errorResponse(w, http.StatusBadRequest, "Invalid start_from_game_id")
			return
		}
		opts.StartFromGameID = id
	}

	// Reject synchronously while holding no run, so the caller gets a clean
	// 409 instead of a background failure.
	if st := h.engine.State(); st == worker.StateRunning || st == worker.StateStopping {
		h.errorResponse(w, http.StatusConflict, "A training run is already active")
		return
	}

	go func() {
		// The run outlives the request; it stops via /training/stop.
		summary, err := h.engine.Start(context.Background(), opts)
		if errors.Is(err, learn.ErrAlreadyRunning) {
			// Lost a race past the state pre-check; the active run's summary
			// must not be clobbered.
			return
		}
		if err != nil {
			h.logger.Errorw("training run ended with error", "error", err)
		}
		h.lastRun.set(summary, err)
	}()

	h.jsonResponse(w, http.StatusAccepted, map[string]interface{}{
		"status":    "started",
		"max_games": req.MaxGames,
	})
}

// StopTraining requests a cooperative halt of the active run.
func (h *Handler) StopTraining(w http.ResponseWriter, r *http.Request) {
	if h.engine.State() != worker.StateRunning {
		h.errorResponse(w, http.StatusConflict, "No training run is active")
		return
	}
	h.engine.Stop()
	h.jsonResponse(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// TrainingStats returns aggregate learning statistics.
func (h *Handler) TrainingStats(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.GetTrainingStats()
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"state": h.engine.State().String(),
		"stats": stats,
	})
}

// PerformanceReport returns the monitor's rolling report.
func (h *Handler) PerformanceReport(w http.ResponseWriter, r *http.Request) {
	opts := learn.ReportOptions{
		IncludeAlerts: r.URL.Query().Get("alerts") != "false",
		IncludeTrends: r.URL.Query().Get("trends") != "false",
	}
	h.jsonResponse(w, http.StatusOK, h.reporter.GeneratePerformanceReport(opts))
}

// LastRun returns the summary of the most recently finished run.
func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	summary, errMsg := h.lastRun.get()
	if summary == nil {
		h.errorResponse(w, http.StatusNotFound, "No completed run")
		return
	}
	resp := map[string]interface{}{"summary": summary}
	if errMsg != "" {
		resp["error"] = errMsg
	}
	h.jsonResponse(w, http.StatusOK, resp)
}
