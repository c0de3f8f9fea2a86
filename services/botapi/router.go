package botapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes constructs the chi router containing all API endpoints. The photo
// route carries no timeout: a provider search polls until it finishes and
// only the client disconnecting cancels it.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if a.config.Ready != nil {
			if err := a.config.Ready(req.Context()); err != nil {
				a.logger.Printf("ERROR readiness check: %v", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/photo", a.handlePhoto)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/redeem", a.handleRedeem)
			r.Get("/credits/{userID}", a.handleCredits)
			r.Get("/redemptions/{userID}", a.handleRedemptions)
			r.Post("/unlock", a.handleUnlock)
			r.Get("/sessions/{searchID}", a.handleSession)
			r.Post("/payments/confirm", a.handlePaymentConfirm)
			r.Get("/cards/stats", a.handleCardStats)
		})
	})

	return r, nil
}
