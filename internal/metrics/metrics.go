package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersTotal counts initiated transfers by protocol and final status
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_transfers_total",
			Help: "Total number of bridge transfers",
		},
		[]string{"protocol", "status"},
	)

	// TransferAmount tracks the amount of tokens transferred
	TransferAmount = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_transfer_amount",
			Help:    "Amount of tokens transferred",
			Buckets: []float64{1, 10, 100, 1000, 10000, 100000, 1000000},
		},
		[]string{"protocol", "destination_chain"},
	)

	// FeesCollected counts protocol fees collected per protocol and origin chain
	FeesCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_fees_collected_total",
			Help: "Protocol fees collected",
		},
		[]string{"protocol", "origin_chain"},
	)

	// FinalizeReplays counts duplicate inbound finalize messages dropped
	FinalizeReplays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_finalize_replays_total",
			Help: "Duplicate finalize deliveries suppressed by the processed set",
		},
		[]string{"protocol"},
	)

	// RateLimitRejections counts transfers rejected by rate limit scope
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_rate_limit_rejections_total",
			Help: "Transfers rejected by rate limiting",
		},
		[]string{"scope"},
	)

	// SuspiciousAccounts counts advisory suspicious-activity flags raised
	SuspiciousAccounts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_suspicious_flags_total",
			Help: "Accounts flagged by suspicious-activity detection",
		},
	)

	// OracleUpdates counts oracle supply submissions by chain and result
	OracleUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_oracle_updates_total",
			Help: "Supply oracle submissions",
		},
		[]string{"chain", "result"},
	)

	// ChainSupply tracks committed per-chain supply
	ChainSupply = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_chain_supply",
			Help: "Committed per-chain supply by kind (total, locked)",
		},
		[]string{"chain", "kind"},
	)

	// SupplyDeviationBps tracks the current deviation from the expected ceiling
	SupplyDeviationBps = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_supply_deviation_bps",
			Help: "Absolute deviation of global supply from the expected ceiling in basis points",
		},
	)

	// ComponentPaused tracks pause state per component (1 paused, 0 running)
	ComponentPaused = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_component_paused",
			Help: "Pause state by component",
		},
		[]string{"component"},
	)

	// ErrorsTotal counts errors by component and type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)
