package botapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"faceseek/services/orchestrator"
	"faceseek/services/session"
)

func (a *API) handlePhoto(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(a.config.MaxPhotoBytes); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	userID, err := strconv.ParseInt(r.FormValue("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		respondError(w, http.StatusBadRequest, errors.New("valid user_id is required"))
		return
	}

	file, _, err := r.FormFile("photo")
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("photo file is required"))
		return
	}
	defer file.Close()

	photo, err := io.ReadAll(io.LimitReader(file, a.config.MaxPhotoBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	// No deadline here: the search polls the provider until it completes.
	outcome, err := a.search.HandlePhoto(r.Context(), userID, photo)
	if err != nil {
		if outcome.Status == orchestrator.StatusFailed {
			respondJSON(w, http.StatusBadGateway, map[string]any{
				"status": outcome.Status,
				"error":  err.Error(),
			})
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	status := http.StatusOK
	if outcome.Status == orchestrator.StatusPaymentRequired {
		status = http.StatusPaymentRequired
	}
	respondJSON(w, status, outcome)
}

func (a *API) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    int64  `json:"user_id"`
		SearchID  string `json:"search_id"`
		ItemIndex int    `json:"item_index"`
		All       bool   `json:"all"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID <= 0 {
		respondError(w, http.StatusBadRequest, errors.New("valid user_id is required"))
		return
	}

	err := a.search.Unlock(r.Context(), req.UserID, req.SearchID, req.ItemIndex, req.All)
	switch {
	case errors.Is(err, orchestrator.ErrSessionExpired):
		respondError(w, http.StatusGone, err)
	case err != nil:
		respondError(w, http.StatusBadRequest, err)
	default:
		respondJSON(w, http.StatusOK, map[string]any{"unlocked": true})
	}
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	searchID := chi.URLParam(r, "searchID")

	entry, err := a.search.Session(searchID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, err)
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"search_id":  entry.SearchID,
		"user_id":    entry.UserID,
		"was_free":   entry.WasFree,
		"unlocked":   entry.Unlocked,
		"created_at": entry.CreatedAt,
		"items":      len(entry.Result.Output.Items),
	})
}
