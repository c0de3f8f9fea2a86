package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faceseek_searches_started_total",
		Help: "Searches submitted to the face-search provider.",
	})

	searchesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceseek_searches_completed_total",
		Help: "Searches delivered to users, by credit tier.",
	}, []string{"tier"})

	searchesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faceseek_searches_failed_total",
		Help: "Searches that ended with a provider error.",
	})

	paymentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceseek_payments_total",
		Help: "Confirmed payments processed, by kind.",
	}, []string{"kind"})

	unlocksDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceseek_unlocks_total",
		Help: "Unlock deliveries, by scope.",
	}, []string{"scope"})

	remindersFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faceseek_reminders_fired_total",
		Help: "Expiry reminders actually sent.",
	})
)
