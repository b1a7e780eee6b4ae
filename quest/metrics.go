package quest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	questsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidequest_quests_started_total",
		Help: "Quests started.",
	})
	questsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sidequest_quest_starts_rejected_total",
		Help: "Quest starts rejected, by reason.",
	}, []string{"reason"})
	checkIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sidequest_checkins_total",
		Help: "Check-ins by outcome.",
	}, []string{"outcome"})
	questsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidequest_quests_completed_total",
		Help: "Quests completed.",
	})
	questsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidequest_quests_abandoned_total",
		Help: "Quests abandoned.",
	})
	pointsAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidequest_points_awarded_total",
		Help: "Points awarded for completed quests.",
	})
	conflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidequest_progress_conflicts_total",
		Help: "Optimistic-concurrency conflicts on active quest rows.",
	})
)
