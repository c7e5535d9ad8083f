package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "walletpay"

var (
	WithdrawalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "withdrawals_total",
			Help:      "Withdrawal requests partitioned by the state they left the request handler in.",
		},
		[]string{"result"},
	)

	GatewayCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Provider calls partitioned by provider, operation and normalized outcome.",
		},
		[]string{"provider", "op", "outcome"},
	)

	GatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Provider call latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "op"},
	)

	ReconcileRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Reconciliation sweeps partitioned by result.",
		},
		[]string{"result"},
	)

	ReconcileResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "resolved_total",
			Help:      "Requests handled by the poller partitioned by resulting action.",
		},
		[]string{"action"},
	)

	ManualReviewTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "manual_review_total",
			Help:      "Requests flagged for manual review after exhausting reconciliation.",
		},
	)

	DepositsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "deposits_total",
			Help:      "Deposit confirmations partitioned by result.",
		},
		[]string{"result"},
	)

	OutboxSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "messages_total",
			Help:      "Outbox deliveries partitioned by result.",
		},
		[]string{"result"},
	)

	AuditMismatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "audit_mismatches",
			Help:      "Wallets whose balance disagreed with the transaction log in the most recent audit.",
		},
	)

	AuditLastRunUnix = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "audit_last_run_unix",
			Help:      "Unix time of the most recent ledger audit.",
		},
	)
)
