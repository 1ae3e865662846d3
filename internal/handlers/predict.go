package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hoopmetrics/learning-engine/internal/learn"
	"github.com/hoopmetrics/learning-engine/internal/models"
)

// PredictRequest asks for an event distribution for a hypothetical matchup.
type PredictRequest struct {
	HomeTeamID  string `json:"home_team_id" validate:"required"`
	AwayTeamID  string `json:"away_team_id" validate:"required"`
	NeutralSite bool   `json:"neutral_site"`
	Postseason  bool   `json:"postseason"`
}

// PredictGame runs inference against the current team posteriors without
// mutating any learning state.
func (h *Handler) PredictGame(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		h.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.HomeTeamID == req.AwayTeamID {
		h.errorResponse(w, http.StatusBadRequest, "Home and away teams must differ")
		return
	}

	gameCtx := models.NewGameContext(req.NeutralSite, req.Postseason)
	probs, err := h.engine.PredictGame(r.Context(), req.HomeTeamID, req.AwayTeamID, gameCtx)
	if err != nil {
		if errors.Is(err, learn.ErrPosteriorUnavailable) {
			h.errorResponse(w, http.StatusNotFound, "No posterior for one or both teams")
			return
		}
		h.logger.Errorw("prediction failed", "home", req.HomeTeamID, "away", req.AwayTeamID, "error", err)
		h.errorResponse(w, http.StatusInternalServerError, "Prediction failed")
		return
	}

	byName := make(map[string]float64, models.EventDim)
	for i, name := range models.EventNames {
		byName[name] = probs[i]
	}
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"home_team_id":  req.HomeTeamID,
		"away_team_id":  req.AwayTeamID,
		"probabilities": byName,
	})
}
