// Package coordinator runs the single-threaded handoff loop that moves a
// pipeline of agents toward completion. The loop inspects the shared
// status record each iteration, consults the decision requesters when
// control is ambiguous, executes exactly one agent, and merges the
// agent's result back into the record. Every in-loop failure degrades
// the session to a blocked state instead of aborting it.
package coordinator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coordd/internal/agent"
	"github.com/fyrsmithlabs/coordd/internal/backend"
	"github.com/fyrsmithlabs/coordd/internal/decision"
	"github.com/fyrsmithlabs/coordd/internal/logging"
	"github.com/fyrsmithlabs/coordd/internal/status"
)

const instrumentationName = "github.com/fyrsmithlabs/coordd/internal/coordinator"

// Config controls one coordinator instance.
type Config struct {
	// MaxIterations bounds every session run by this coordinator.
	MaxIterations int

	// FinalizerAgent runs when the final decision requires commit.
	FinalizerAgent string

	// RemediationAgent runs on ROUTE_REASONER triage outcomes.
	RemediationAgent string

	// TesterAgent runs on ROUTE_TESTER triage outcomes.
	TesterAgent string

	// ThresholdBuild and ThresholdTest gate the final decision.
	ThresholdBuild float64
	ThresholdTest  float64
}

// DefaultConfig returns coordinator defaults matching the builtin pipeline.
func DefaultConfig() Config {
	return Config{
		MaxIterations:    25,
		FinalizerAgent:   "finalizer",
		RemediationAgent: "reasoner",
		TesterAgent:      "tester",
		ThresholdBuild:   decision.DefaultBuildThreshold,
		ThresholdTest:    decision.DefaultTestThreshold,
	}
}

// Coordinator owns the loop. It is not safe for concurrent Run calls on
// the same status; each Run creates its own store from the initial
// status, so distinct sessions are independent.
type Coordinator struct {
	registry   *agent.Registry
	requesters *decision.Requesters
	cfg        Config
	logger     *logging.Logger
	tracer     trace.Tracer
}

// New creates a coordinator. Registry and requesters are required; an
// empty registry is a construction error since no session could ever
// dispatch an agent.
func New(registry *agent.Registry, requesters *decision.Requesters, cfg Config, logger *logging.Logger) (*Coordinator, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if registry.Len() == 0 {
		return nil, fmt.Errorf("registry has no agents")
	}
	if requesters == nil {
		return nil, fmt.Errorf("decision requesters are required")
	}
	if cfg.MaxIterations <= 0 {
		return nil, fmt.Errorf("max iterations must be positive, got %d", cfg.MaxIterations)
	}
	if cfg.FinalizerAgent == "" || cfg.RemediationAgent == "" || cfg.TesterAgent == "" {
		return nil, fmt.Errorf("finalizer, remediation, and tester agent names are required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Coordinator{
		registry:   registry,
		requesters: requesters,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
	}, nil
}

// Run executes one coordination session from the initial status until a
// terminal state, a stall, cancellation, or iteration exhaustion. The
// only error it returns is an invalid initial status; everything that
// happens inside the loop is recovered and reflected in the report.
func (c *Coordinator) Run(ctx context.Context, initial status.GlobalStatus) (*Report, error) {
	store, err := status.NewStore(initial)
	if err != nil {
		return nil, fmt.Errorf("invalid initial status: %w", err)
	}

	sessionID := uuid.NewString()
	ctx = logging.WithSessionID(ctx, sessionID)
	ctx, span := c.tracer.Start(ctx, "coordinator.session",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	report := &Report{SessionID: sessionID}
	c.logger.Info(ctx, "session started",
		zap.String("ai_state", string(initial.State)),
		zap.String("ai_queue_status", string(initial.QueueStatus)),
		zap.Int("max_iterations", c.cfg.MaxIterations))

	for i := 1; i <= c.cfg.MaxIterations; i++ {
		report.Iterations = i

		if err := ctx.Err(); err != nil {
			store.Merge(status.Delta{State: status.StateCancelled})
			c.trace(report, i, "", TraceEntry{Note: "context cancelled"}, store.Snapshot())
			return c.finish(ctx, span, report, store, TerminationCancelled), nil
		}

		snap := store.Snapshot()

		switch snap.State {
		case status.StateDone:
			return c.finish(ctx, span, report, store, TerminationDone), nil
		case status.StateFailed:
			return c.finish(ctx, span, report, store, TerminationFailed), nil
		case status.StateCancelled:
			return c.finish(ctx, span, report, store, TerminationCancelled), nil
		}

		name, note, stop := c.selectAgent(ctx, store, snap, report, i)
		if stop {
			return c.finish(ctx, span, report, store, TerminationBlockedStalled), nil
		}
		if name == "" {
			// Selection already degraded the status; revisit next turn.
			c.trace(report, i, "", TraceEntry{Note: note}, store.Snapshot())
			continue
		}

		c.dispatch(ctx, store, report, i, name, note)
	}

	return c.finish(ctx, span, report, store, TerminationMaxIterations), nil
}

// selectAgent decides which agent the iteration executes. It returns an
// empty name when the iteration already resolved by mutating the status
// (abandonment, manual review), and stop=true on a routing stall.
func (c *Coordinator) selectAgent(ctx context.Context, store *status.Store, snap status.GlobalStatus, report *Report, iteration int) (name, note string, stop bool) {
	forced := snap.State == status.StateBlocked || snap.State == status.StatePaused

	// A completed queue outranks the handoff flag: the final decision
	// itself names where control goes next.
	if snap.QueueStatus == status.QueueCompleted && !forced {
		fin := c.requesters.Finalize(ctx, decision.FinalRequest{
			BuildSuccessRate: snap.BuildSuccessRate,
			TestSuccessRate:  snap.TestSuccessRate,
			ThresholdBuild:   c.cfg.ThresholdBuild,
			ThresholdTest:    c.cfg.ThresholdTest,
		})
		if fin.CommitRequired {
			return c.cfg.FinalizerAgent, "final decision: commit", false
		}
		return fin.NextAgent, "final decision: " + fin.Rationale, false
	}

	if forced || snap.HandoffRequested {
		routing := c.requesters.Route(ctx, decision.NewRoutingRequest(snap, c.registry.Names()))
		if routing.NextAgent == decision.RouteNone {
			return "", "", c.stall(ctx, store, report, iteration, routing.Rationale)
		}
		return routing.NextAgent, "routed: " + routing.Rationale, false
	}

	switch snap.QueueStatus {
	case status.QueueQueued, status.QueueAssigned, status.QueueInProgress:
		if snap.LastAgent != "" {
			if _, err := c.registry.Resolve(snap.LastAgent); err == nil {
				return snap.LastAgent, "continuing with last agent", false
			}
		}
	case status.QueueRejected:
		if snap.ErrorCount > 0 {
			tri := c.requesters.Triage(ctx, decision.NewTriageRequest(snap))
			switch tri.Action {
			case decision.ActionRouteReasoner:
				return c.cfg.RemediationAgent, "triage: " + tri.ContextFocus, false
			case decision.ActionRouteTester:
				return c.cfg.TesterAgent, "triage: " + tri.ContextFocus, false
			case decision.ActionRouteFinalizer:
				return c.cfg.FinalizerAgent, "triage: " + tri.ContextFocus, false
			case decision.ActionManualReview:
				c.block(ctx, store, fmt.Errorf("triage requires manual review: %s", tri.ContextFocus))
				return "", "manual review required: " + tri.ContextFocus, false
			}
		}
	case status.QueueAbandoned:
		c.block(ctx, store, fmt.Errorf("work item abandoned"))
		return "", "work item abandoned", false
	}

	// No dispatch rule matched; ask for a route.
	routing := c.requesters.Route(ctx, decision.NewRoutingRequest(snap, c.registry.Names()))
	if routing.NextAgent == decision.RouteNone {
		return "", "", c.stall(ctx, store, report, iteration, routing.Rationale)
	}
	return routing.NextAgent, "routed: " + routing.Rationale, false
}

// block degrades the session to a blocked state with a handoff request.
func (c *Coordinator) block(ctx context.Context, store *status.Store, cause error) {
	c.logger.Warn(ctx, "session degraded", zap.Error(cause))
	store.Merge(status.Delta{
		State:            status.StateBlocked,
		HandoffRequested: status.Bool(true),
	})
}

// stall records a routing stall and blocks the session. It always
// returns true so callers can hand the decision straight back.
func (c *Coordinator) stall(ctx context.Context, store *status.Store, report *Report, iteration int, rationale string) bool {
	c.block(ctx, store, fmt.Errorf("routing stalled: %s", rationale))
	c.trace(report, iteration, "", TraceEntry{Note: "routing stalled: " + rationale}, store.Snapshot())
	return true
}

// dispatch resolves and executes one agent and merges its result. Every
// failure mode recovers by blocking the session with a handoff request.
func (c *Coordinator) dispatch(parent context.Context, store *status.Store, report *Report, iteration int, name, note string) {
	ctx := logging.WithAgent(parent, name)
	ctx, span := c.tracer.Start(ctx, "coordinator.iteration",
		trace.WithAttributes(
			attribute.Int("iteration", iteration),
			attribute.String("agent", name),
		))
	defer span.End()

	cap, err := c.registry.Resolve(name)
	if err != nil {
		RecoveriesTotal.WithLabelValues("unknown_agent").Inc()
		c.recover(ctx, store, report, iteration, name, note, err)
		return
	}

	snap := store.Snapshot()
	delta, err := cap.Execute(ctx, snap)
	store.SetAgent(name)
	if err != nil {
		cause := "agent_error"
		if backend.IsTimeout(err) {
			cause = "backend_timeout"
		}
		RecoveriesTotal.WithLabelValues(cause).Inc()
		AgentExecutionsTotal.WithLabelValues(name, "error").Inc()
		c.recover(ctx, store, report, iteration, name, note, err)
		return
	}

	updated, err := store.Merge(delta)
	if err != nil {
		RecoveriesTotal.WithLabelValues("malformed_delta").Inc()
		AgentExecutionsTotal.WithLabelValues(name, "error").Inc()
		c.recover(ctx, store, report, iteration, name, note, err)
		return
	}

	AgentExecutionsTotal.WithLabelValues(name, string(delta.Result)).Inc()
	c.logger.Info(ctx, "agent executed",
		zap.Int("iteration", iteration),
		zap.String("action", delta.Action),
		zap.String("result", string(delta.Result)),
		zap.String("ai_state", string(updated.State)),
		zap.String("ai_queue_status", string(updated.QueueStatus)))

	c.trace(report, iteration, name, TraceEntry{
		Action: updated.LastAction,
		Result: updated.LastResult,
		Note:   note,
	}, updated)
}

// recover degrades the session after an in-loop failure: the status is
// blocked with a handoff request so the next iteration routes fresh.
func (c *Coordinator) recover(ctx context.Context, store *status.Store, report *Report, iteration int, name, note string, cause error) {
	c.logger.Warn(ctx, "recovering from iteration failure",
		zap.Int("iteration", iteration),
		zap.String("agent", name),
		zap.Error(cause))
	updated, _ := store.Merge(status.Delta{
		State:            status.StateBlocked,
		HandoffRequested: status.Bool(true),
	})
	c.trace(report, iteration, name, TraceEntry{
		Note: note + " (recovered: " + cause.Error() + ")",
	}, updated)
}

func (c *Coordinator) trace(report *Report, iteration int, agentName string, entry TraceEntry, snap status.GlobalStatus) {
	entry.Iteration = iteration
	entry.Agent = agentName
	entry.State = snap.State
	entry.QueueStatus = snap.QueueStatus
	report.Trace = append(report.Trace, entry)
}

func (c *Coordinator) finish(ctx context.Context, span trace.Span, report *Report, store *status.Store, reason TerminationReason) *Report {
	report.Termination = reason
	report.FinalStatus = store.Snapshot()

	SessionsTotal.WithLabelValues(string(reason)).Inc()
	IterationsPerSession.Observe(float64(report.Iterations))
	span.SetAttributes(
		attribute.String("termination", string(reason)),
		attribute.Int("iterations", report.Iterations),
	)

	c.logger.Info(ctx, "session finished",
		zap.String("termination", string(reason)),
		zap.Int("iterations", report.Iterations),
		zap.String("ai_state", string(report.FinalStatus.State)))
	return report
}
