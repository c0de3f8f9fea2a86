package botapi

import (
	"errors"
	"net/http"

	"faceseek/pkg/bus"
	"faceseek/services/orchestrator"
)

// handlePaymentConfirm is the payment-provider webhook. It validates the
// event and hands it to the bus; the orchestrator consumes it from there, so
// a crash between ack and processing is replayed rather than lost.
func (a *API) handlePaymentConfirm(w http.ResponseWriter, r *http.Request) {
	var evt orchestrator.PaymentEvent
	if err := decodeJSON(r, &evt); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	if evt.UserID <= 0 {
		respondError(w, http.StatusBadRequest, errors.New("valid user_id is required"))
		return
	}
	switch evt.Kind {
	case orchestrator.PaymentKindSearch, orchestrator.PaymentKindUnlockItem, orchestrator.PaymentKindUnlockAll:
	default:
		respondError(w, http.StatusBadRequest, errors.New("unknown payment kind"))
		return
	}
	if evt.ExternalPaymentID == "" {
		respondError(w, http.StatusBadRequest, errors.New("external_payment_id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.bus.Publish(ctx, bus.PaymentConfirmedSubject, evt); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}
