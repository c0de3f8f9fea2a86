package botapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"faceseek/services/ledger"
)

func userIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("valid user id is required")
	}
	return id, nil
}

func (a *API) handleCredits(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if _, err := a.credits.GetOrCreateUser(ctx, userID); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	free, paid, err := a.credits.Credits(ctx, userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"free":    free,
		"paid":    paid,
	})
}

func (a *API) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64  `json:"user_id"`
		Code   string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID <= 0 {
		respondError(w, http.StatusBadRequest, errors.New("valid user_id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if _, err := a.credits.GetOrCreateUser(ctx, req.UserID); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	searches, err := a.credits.RedeemGiftCard(ctx, req.UserID, req.Code)
	if err != nil {
		var already *ledger.AlreadyRedeemedError
		switch {
		case errors.Is(err, ledger.ErrInvalidCode):
			respondError(w, http.StatusBadRequest, err)
		case errors.Is(err, ledger.ErrCodeNotFound):
			respondError(w, http.StatusNotFound, err)
		case errors.As(err, &already):
			respondError(w, http.StatusConflict, err)
		default:
			respondError(w, http.StatusInternalServerError, err)
		}
		return
	}

	message, err := a.renderer.Render("redeem_success", map[string]any{"Searches": searches})
	if err != nil {
		a.logger.Printf("ERROR render redeem_success: %v", err)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"searches": searches,
		"message":  message,
	})
}

func (a *API) handleRedemptions(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	redemptions, err := a.credits.UserRedemptions(ctx, userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if redemptions == nil {
		redemptions = []ledger.Redemption{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"redemptions": redemptions})
}

func (a *API) handleCardStats(w http.ResponseWriter, r *http.Request) {
	if a.config.AdminToken == "" || r.Header.Get("X-Admin-Token") != a.config.AdminToken {
		respondError(w, http.StatusForbidden, errors.New("admin token required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	stats, err := a.credits.Stats(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
