package backend

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invokeStub(t *testing.T, prompt string) map[string]any {
	t.Helper()
	s := NewStub(StubConfig{})

	raw, err := s.Invoke(context.Background(), prompt)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func TestStub_Invoke_RoutingQueuedPicksBuilder(t *testing.T) {
	out := invokeStub(t, `{
		"task": "state_routing",
		"input": {
			"ai_state": "READY",
			"ai_queue_status": "QUEUED",
			"ai_handoff_requested": false,
			"available_agents": ["builder", "reasoner", "finalizer"]
		}
	}`)
	assert.Equal(t, "builder", out["next_agent"])
	assert.NotEmpty(t, out["rationale"])
}

func TestStub_Invoke_RoutingApprovedPicksFinalizer(t *testing.T) {
	out := invokeStub(t, `{
		"task": "state_routing",
		"input": {
			"ai_state": "READY",
			"ai_queue_status": "APPROVED",
			"available_agents": ["builder", "reasoner", "finalizer"]
		}
	}`)
	assert.Equal(t, "finalizer", out["next_agent"])
}

func TestStub_Invoke_RoutingFallsBackToFirstAvailable(t *testing.T) {
	out := invokeStub(t, `{
		"task": "state_routing",
		"input": {
			"ai_state": "READY",
			"ai_queue_status": "QUEUED",
			"available_agents": ["BuilderAgent"]
		}
	}`)
	assert.Equal(t, "BuilderAgent", out["next_agent"])
}

func TestStub_Invoke_RoutingEmptyRegistryReturnsNone(t *testing.T) {
	out := invokeStub(t, `{
		"task": "state_routing",
		"input": {"ai_state": "READY", "ai_queue_status": "QUEUED", "available_agents": []}
	}`)
	assert.Equal(t, "NONE", out["next_agent"])
}

func TestStub_Invoke_TriageBandsOnErrorCount(t *testing.T) {
	out := invokeStub(t, `{"task": "fix_triage", "input": {"errors": ["a","b","c","d"], "error_count": 4}}`)
	assert.Equal(t, "ROUTE_REASONER", out["action"])

	out = invokeStub(t, `{"task": "fix_triage", "input": {"errors": [], "error_count": 0}}`)
	assert.Equal(t, "ROUTE_TESTER", out["action"])
	assert.NotEmpty(t, out["context_focus"])
}

func TestStub_Invoke_FinalDecisionThresholds(t *testing.T) {
	out := invokeStub(t, `{
		"task": "final_decision",
		"input": {"build_success_rate": 0.96, "test_success_rate": 0.91, "threshold_build": 0.95, "threshold_test": 0.90}
	}`)
	assert.Equal(t, true, out["commit_required"])
	assert.Equal(t, "finalizer", out["next_agent"])

	out = invokeStub(t, `{
		"task": "final_decision",
		"input": {"build_success_rate": 0.90, "test_success_rate": 0.91, "threshold_build": 0.95, "threshold_test": 0.90}
	}`)
	assert.Equal(t, false, out["commit_required"])
	assert.Equal(t, "reasoner", out["next_agent"])
}

func TestStub_Invoke_UnknownTask(t *testing.T) {
	s := NewStub(StubConfig{})
	_, err := s.Invoke(context.Background(), `{"task": "fortune_telling", "input": {}}`)
	require.Error(t, err)
}

func TestStub_Invoke_RespectsCancelledContext(t *testing.T) {
	s := NewStub(StubConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Invoke(ctx, `{"task": "fix_triage", "input": {}}`)
	require.ErrorIs(t, err, context.Canceled)
}
