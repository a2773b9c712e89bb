package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Core pipeline and sweep metrics.
var (
	SafetyEventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safety_events_ingested_total",
			Help: "Safety events persisted by the pipeline, by severity.",
		},
		[]string{"severity"},
	)

	SafetyEventsDeduped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "safety_events_deduped_total",
		Help: "Signals dropped because their natural key was already ingested.",
	})

	ApprovalsAutoApproved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "approvals_auto_approved_total",
		Help: "Approval requests granted without parent action.",
	})

	ApprovalsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "approvals_expired_total",
		Help: "Pending approvals expired by the sweep.",
	})

	TransitionPhaseChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transition_phase_changes_total",
			Help: "Independence transition phase changes, by target phase.",
		},
		[]string{"phase"},
	)

	SweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Background sweep executions, by sweep name.",
		},
		[]string{"sweep"},
	)
)

// Init registers the metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		SafetyEventsIngested,
		SafetyEventsDeduped,
		ApprovalsAutoApproved,
		ApprovalsExpired,
		TransitionPhaseChanges,
		SweepRuns,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
