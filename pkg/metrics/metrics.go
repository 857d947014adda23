package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trustcore"

var (
	// Verdicts counts click and view decisions by kind (click|view) and verdict.
	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verdicts_total",
		Help:      "Validation verdicts by event kind and outcome.",
	}, []string{"kind", "verdict"})

	RiskScore = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "risk_score",
		Help:      "Distribution of computed risk scores.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	}, []string{"kind"})

	AdvisoryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "advisory_failures_total",
		Help:      "Advisory lookups that failed or timed out and were treated as zero.",
	})

	Credits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_credits_total",
		Help:      "Ledger credits by reason.",
	}, []string{"reason"})

	TierUpgrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tier_upgrades_total",
		Help:      "Account tier upgrades by target tier.",
	}, []string{"tier"})

	CampaignsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "campaigns_completed_total",
		Help:      "Campaigns transitioned to COMPLETED.",
	})

	SweepProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_processed_total",
		Help:      "Rows handled by batch sweeps.",
	}, []string{"sweep", "outcome"})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Background job executions by task and final status.",
	}, []string{"task", "status"})
)

// Handler serves the default registry on a gin route.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
