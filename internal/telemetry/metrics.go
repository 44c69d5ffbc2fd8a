package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "duelhub"

var (
	// DuelTransitions counts duels entering a status.
	DuelTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duel_transitions_total",
		Help:      "Number of duels that entered a status.",
	}, []string{"status"})

	ScoreReconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "score_reconciliations_total",
		Help:      "Number of reconciled game results, by whether the high score changed.",
	}, []string{"result"})

	AuthVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_verifications_total",
		Help:      "Number of one-time code verifications, by flow step and outcome.",
	}, []string{"step", "result"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Number of push notifications attempted, by provider and outcome.",
	}, []string{"provider", "result"})
)
