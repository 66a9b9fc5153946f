package coordinator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/coordd/internal/agent"
	"github.com/fyrsmithlabs/coordd/internal/backend"
	"github.com/fyrsmithlabs/coordd/internal/decision"
	"github.com/fyrsmithlabs/coordd/internal/logging"
	"github.com/fyrsmithlabs/coordd/internal/status"
)

type backendFunc func(ctx context.Context, prompt string) (string, error)

func (f backendFunc) Invoke(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func newRequesters(t *testing.T, b backend.Backend) *decision.Requesters {
	t.Helper()
	r, err := decision.New(b, decision.Config{
		FinalizerAgent:   "finalizer",
		RemediationAgent: "reasoner",
	}, nil)
	require.NoError(t, err)
	return r
}

func newCoordinator(t *testing.T, reg *agent.Registry, b backend.Backend, cfg Config) *Coordinator {
	t.Helper()
	c, err := New(reg, newRequesters(t, b), cfg, logging.Nop())
	require.NoError(t, err)
	return c
}

func fullRegistry(t *testing.T, buildOK bool, buildErrs []string, testsTotal, testsPassed int) *agent.Registry {
	t.Helper()
	reg := agent.NewRegistry()
	require.NoError(t, reg.Register("builder", agent.NewBuilder(func(ctx context.Context) (bool, []string) {
		return buildOK, buildErrs
	})))
	require.NoError(t, reg.Register("tester", agent.NewTester(func(ctx context.Context) (int, int, []string) {
		return testsTotal, testsPassed, nil
	})))
	require.NoError(t, reg.Register("reasoner", agent.NewReasoner()))
	require.NoError(t, reg.Register("finalizer", agent.NewFinalizer(0.95, 0.90)))
	return reg
}

func TestNew_Validation(t *testing.T) {
	reg := agent.NewRegistry()
	require.NoError(t, reg.Register("a", agent.Func(func(ctx context.Context, s status.GlobalStatus) (status.Delta, error) {
		return status.Delta{}, nil
	})))
	req := newRequesters(t, backend.NewStub(backend.DefaultStubConfig()))

	_, err := New(nil, req, DefaultConfig(), nil)
	require.Error(t, err)

	_, err = New(agent.NewRegistry(), req, DefaultConfig(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no agents")

	_, err = New(reg, nil, DefaultConfig(), nil)
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxIterations = 0
	_, err = New(reg, req, cfg, nil)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.TesterAgent = ""
	_, err = New(reg, req, cfg, nil)
	require.Error(t, err)
}

func TestRun_InvalidInitialStatus(t *testing.T) {
	reg := fullRegistry(t, true, nil, 10, 10)
	c := newCoordinator(t, reg, backend.NewStub(backend.DefaultStubConfig()), DefaultConfig())

	_, err := c.Run(context.Background(), status.GlobalStatus{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid initial status")
}

func TestRun_FullPipelineToDone(t *testing.T) {
	reg := fullRegistry(t, true, nil, 10, 10)
	// Rejected final decisions hand control to the tester so the test
	// success rate can catch up to the build success rate.
	stub := backend.NewStub(backend.StubConfig{
		Builder:    "builder",
		Remediator: "tester",
		Finalizer:  "finalizer",
	})
	c := newCoordinator(t, reg, stub, DefaultConfig())

	report, err := c.Run(context.Background(), status.GlobalStatus{
		State:       status.StateReady,
		QueueStatus: status.QueueQueued,
	})
	require.NoError(t, err)

	assert.Equal(t, TerminationDone, report.Termination)
	assert.Equal(t, 4, report.Iterations)
	assert.NotEmpty(t, report.SessionID)
	assert.Equal(t, status.StateDone, report.FinalStatus.State)
	assert.Equal(t, status.QueueCompleted, report.FinalStatus.QueueStatus)
	assert.Equal(t, 1.0, report.FinalStatus.BuildSuccessRate)
	assert.Equal(t, 1.0, report.FinalStatus.TestSuccessRate)
	assert.Equal(t, "finalizer", report.FinalStatus.LastAgent)
	assert.Equal(t, true, report.FinalStatus.Context["commit_ready"])

	require.Len(t, report.Trace, 3)
	assert.Equal(t, "builder", report.Trace[0].Agent)
	assert.Equal(t, "tester", report.Trace[1].Agent)
	assert.Equal(t, "finalizer", report.Trace[2].Agent)
}

func TestRun_BuildFailureRemediatedToDone(t *testing.T) {
	reg := fullRegistry(t, false, []string{"syntax error in parser.go"}, 10, 10)
	c := newCoordinator(t, reg, backend.NewStub(backend.DefaultStubConfig()), DefaultConfig())

	report, err := c.Run(context.Background(), status.GlobalStatus{
		State:       status.StateReady,
		QueueStatus: status.QueueQueued,
	})
	require.NoError(t, err)

	assert.Equal(t, TerminationDone, report.Termination)
	assert.Equal(t, status.StateDone, report.FinalStatus.State)
	assert.Zero(t, report.FinalStatus.ErrorCount)

	// builder fails, the reasoner drains the error, then signs off.
	require.GreaterOrEqual(t, len(report.Trace), 3)
	assert.Equal(t, "builder", report.Trace[0].Agent)
	assert.Equal(t, "reasoner", report.Trace[1].Agent)
}

func TestRun_TriageRoutesReasoner(t *testing.T) {
	reg := fullRegistry(t, true, nil, 10, 10)
	c := newCoordinator(t, reg, backend.NewStub(backend.DefaultStubConfig()), DefaultConfig())

	report, err := c.Run(context.Background(), status.GlobalStatus{
		State:       status.StateReady,
		QueueStatus: status.QueueRejected,
		ErrorCount:  2,
		TopErrors:   []string{"undefined symbol foo", "missing import bar"},
	})
	require.NoError(t, err)

	assert.Equal(t, TerminationDone, report.Termination)
	require.NotEmpty(t, report.Trace)
	assert.Equal(t, "reasoner", report.Trace[0].Agent)
	assert.Contains(t, report.Trace[0].Note, "triage")
	assert.Zero(t, report.FinalStatus.ErrorCount)
}

func TestRun_RoutingStallTerminatesBlocked(t *testing.T) {
	reg := fullRegistry(t, true, nil, 10, 10)
	// A backend that never produces parseable output forces the routing
	// fallback, which names no agent.
	garbage := backendFunc(func(ctx context.Context, prompt string) (string, error) {
		return "i refuse to answer in json", nil
	})
	c := newCoordinator(t, reg, garbage, DefaultConfig())

	report, err := c.Run(context.Background(), status.GlobalStatus{
		State: status.StateBlocked,
	})
	require.NoError(t, err)

	assert.Equal(t, TerminationBlockedStalled, report.Termination)
	assert.Equal(t, 1, report.Iterations)
	assert.Equal(t, status.StateBlocked, report.FinalStatus.State)
	assert.True(t, report.FinalStatus.HandoffRequested)
	require.Len(t, report.Trace, 1)
	assert.Contains(t, report.Trace[0].Note, "stalled")
}

func TestRun_HandoffToNonexistentAgentStalls(t *testing.T) {
	reg := fullRegistry(t, true, nil, 10, 10)
	// The backend insists on an agent nobody registered, so routing
	// validation rejects it on both attempts and falls back to NONE.
	ghost := backendFunc(func(ctx context.Context, prompt string) (string, error) {
		return `{"next_agent": "ghost", "rationale": "ghost knows best"}`, nil
	})
	c := newCoordinator(t, reg, ghost, DefaultConfig())

	report, err := c.Run(context.Background(), status.GlobalStatus{
		State:            status.StateReady,
		QueueStatus:      status.QueueInProgress,
		HandoffRequested: true,
	})
	require.NoError(t, err)

	assert.Equal(t, TerminationBlockedStalled, report.Termination)
	assert.Equal(t, 1, report.Iterations)
	assert.Equal(t, status.StateBlocked, report.FinalStatus.State)
}

func TestRun_AgentErrorRecovered(t *testing.T) {
	calls := 0
	reg := agent.NewRegistry()
	require.NoError(t, reg.Register("flaky", agent.Func(func(ctx context.Context, s status.GlobalStatus) (status.Delta, error) {
		calls++
		if calls == 1 {
			return status.Delta{}, errors.New("transient tool failure")
		}
		return status.Delta{
			Action:      "RETRY",
			Result:      status.ResultSuccess,
			State:       status.StateDone,
			QueueStatus: status.QueueCompleted,
		}, nil
	})))

	scripted := backendFunc(func(ctx context.Context, prompt string) (string, error) {
		return `{"next_agent": "flaky", "rationale": "retry the failed step"}`, nil
	})
	c := newCoordinator(t, reg, scripted, DefaultConfig())

	report, err := c.Run(context.Background(), status.GlobalStatus{
		State:       status.StateProcessing,
		QueueStatus: status.QueueInProgress,
		LastAgent:   "flaky",
	})
	require.NoError(t, err)

	assert.Equal(t, TerminationDone, report.Termination)
	assert.Equal(t, 3, report.Iterations)
	assert.Equal(t, 2, calls)
	require.GreaterOrEqual(t, len(report.Trace), 2)
	assert.Contains(t, report.Trace[0].Note, "recovered")
	assert.Equal(t, status.StateBlocked, report.Trace[0].State)
}

func TestRun_MalformedDeltaRecovered(t *testing.T) {
	reg := agent.NewRegistry()
	require.NoError(t, reg.Register("rogue", agent.Func(func(ctx context.Context, s status.GlobalStatus) (status.Delta, error) {
		return status.Delta{State: "ENLIGHTENED"}, nil
	})))

	garbage := backendFunc(func(ctx context.Context, prompt string) (string, error) {
		return "no", nil
	})
	c := newCoordinator(t, reg, garbage, DefaultConfig())

	report, err := c.Run(context.Background(), status.GlobalStatus{
		State:       status.StateProcessing,
		QueueStatus: status.QueueInProgress,
		LastAgent:   "rogue",
	})
	require.NoError(t, err)

	// Iteration 1 recovers the malformed result, iteration 2 stalls.
	assert.Equal(t, TerminationBlockedStalled, report.Termination)
	assert.Equal(t, 2, report.Iterations)
	assert.Equal(t, status.StateBlocked, report.FinalStatus.State)
	assert.True(t, report.FinalStatus.HandoffRequested)
	assert.Contains(t, report.Trace[0].Note, "malformed delta")
}

func TestRun_ManualReviewBlocksSession(t *testing.T) {
	reg := fullRegistry(t, true, nil, 10, 10)
	scripted := backendFunc(func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "fix_triage") {
			return `{"action": "MANUAL_REVIEW", "context_focus": "flaky integration suite"}`, nil
		}
		return "nope", nil
	})
	c := newCoordinator(t, reg, scripted, DefaultConfig())

	report, err := c.Run(context.Background(), status.GlobalStatus{
		State:       status.StateReady,
		QueueStatus: status.QueueRejected,
		ErrorCount:  1,
		TopErrors:   []string{"integration suite timeout"},
	})
	require.NoError(t, err)

	assert.Equal(t, TerminationBlockedStalled, report.Termination)
	assert.Equal(t, 2, report.Iterations)
	require.GreaterOrEqual(t, len(report.Trace), 1)
	assert.Contains(t, report.Trace[0].Note, "manual review")
	assert.Empty(t, report.Trace[0].Agent)
}

func TestRun_AbandonedWorkBlocks(t *testing.T) {
	reg := fullRegistry(t, true, nil, 10, 10)
	garbage := backendFunc(func(ctx context.Context, prompt string) (string, error) {
		return "nope", nil
	})
	c := newCoordinator(t, reg, garbage, DefaultConfig())

	report, err := c.Run(context.Background(), status.GlobalStatus{
		State:       status.StateReady,
		QueueStatus: status.QueueAbandoned,
	})
	require.NoError(t, err)

	assert.Equal(t, TerminationBlockedStalled, report.Termination)
	assert.Contains(t, report.Trace[0].Note, "abandoned")
}

func TestRun_MaxIterations(t *testing.T) {
	reg := agent.NewRegistry()
	require.NoError(t, reg.Register("spinner", agent.Func(func(ctx context.Context, s status.GlobalStatus) (status.Delta, error) {
		return status.Delta{
			Action:      "SPIN",
			Result:      status.ResultPartial,
			State:       status.StateProcessing,
			QueueStatus: status.QueueInProgress,
		}, nil
	})))

	cfg := DefaultConfig()
	cfg.MaxIterations = 3
	c := newCoordinator(t, reg, backend.NewStub(backend.DefaultStubConfig()), cfg)

	report, err := c.Run(context.Background(), status.GlobalStatus{
		State:       status.StateProcessing,
		QueueStatus: status.QueueInProgress,
		LastAgent:   "spinner",
	})
	require.NoError(t, err)

	assert.Equal(t, TerminationMaxIterations, report.Termination)
	assert.Equal(t, 3, report.Iterations)
	assert.Len(t, report.Trace, 3)
}

func TestRun_ContextCancelled(t *testing.T) {
	reg := fullRegistry(t, true, nil, 10, 10)
	c := newCoordinator(t, reg, backend.NewStub(backend.DefaultStubConfig()), DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := c.Run(ctx, status.GlobalStatus{
		State:       status.StateReady,
		QueueStatus: status.QueueQueued,
	})
	require.NoError(t, err)

	assert.Equal(t, TerminationCancelled, report.Termination)
	assert.Equal(t, 1, report.Iterations)
	assert.Equal(t, status.StateCancelled, report.FinalStatus.State)
}

func TestRun_TerminalStatesShortCircuit(t *testing.T) {
	reg := fullRegistry(t, true, nil, 10, 10)
	c := newCoordinator(t, reg, backend.NewStub(backend.DefaultStubConfig()), DefaultConfig())

	cases := []struct {
		state status.AgentState
		want  TerminationReason
	}{
		{status.StateDone, TerminationDone},
		{status.StateFailed, TerminationFailed},
		{status.StateCancelled, TerminationCancelled},
	}
	for _, tc := range cases {
		report, err := c.Run(context.Background(), status.GlobalStatus{State: tc.state})
		require.NoError(t, err)
		assert.Equal(t, tc.want, report.Termination)
		assert.Equal(t, 1, report.Iterations)
		assert.Empty(t, report.Trace)
	}
}

func TestRun_SessionsAreIndependent(t *testing.T) {
	reg := fullRegistry(t, true, nil, 10, 10)
	stub := backend.NewStub(backend.StubConfig{
		Builder:    "builder",
		Remediator: "tester",
		Finalizer:  "finalizer",
	})
	c := newCoordinator(t, reg, stub, DefaultConfig())

	initial := status.GlobalStatus{
		State:       status.StateReady,
		QueueStatus: status.QueueQueued,
	}
	first, err := c.Run(context.Background(), initial)
	require.NoError(t, err)
	second, err := c.Run(context.Background(), initial)
	require.NoError(t, err)

	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.Termination, second.Termination)
	assert.Equal(t, first.Iterations, second.Iterations)
}
