package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsTotal counts finished sessions by termination reason.
	// Labels: termination (DONE, FAILED, BLOCKED_STALLED, CANCELLED, MAX_ITERATIONS)
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordd",
			Subsystem: "coordinator",
			Name:      "sessions_total",
			Help:      "Total number of coordination sessions by termination reason",
		},
		[]string{"termination"},
	)

	// IterationsPerSession tracks how many iterations sessions take.
	IterationsPerSession = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "coordd",
			Subsystem: "coordinator",
			Name:      "iterations_per_session",
			Help:      "Distribution of loop iterations per session",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	// AgentExecutionsTotal counts agent executions by agent and result.
	// Labels: agent, result (SUCCESS, FAILURE, PARTIAL, error)
	AgentExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordd",
			Subsystem: "coordinator",
			Name:      "agent_executions_total",
			Help:      "Total number of agent executions",
		},
		[]string{"agent", "result"},
	)

	// RecoveriesTotal counts in-loop recoveries by cause.
	// Labels: cause (unknown_agent, agent_error, malformed_delta, backend_timeout)
	RecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordd",
			Subsystem: "coordinator",
			Name:      "recoveries_total",
			Help:      "Total number of recovered in-loop failures",
		},
		[]string{"cause"},
	)
)
