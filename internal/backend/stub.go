package backend

import (
	"context"
	"encoding/json"
	"fmt"
)

// StubConfig names the agents the stub steers toward for each pipeline
// stage. Names that are not currently registered degrade to the first
// available agent, keeping the routing contract intact.
type StubConfig struct {
	Builder    string
	Remediator string
	Finalizer  string
}

// DefaultStubConfig returns the builtin pipeline role names.
func DefaultStubConfig() StubConfig {
	return StubConfig{
		Builder:    "builder",
		Remediator: "reasoner",
		Finalizer:  "finalizer",
	}
}

// Stub is a deterministic in-process backend that satisfies all three
// decision output contracts. It is the default when no live oracle is
// configured, so the coordination loop is fully testable offline.
type Stub struct {
	cfg StubConfig
}

// NewStub creates a stub backend. Zero-value config fields fall back to
// the defaults.
func NewStub(cfg StubConfig) *Stub {
	def := DefaultStubConfig()
	if cfg.Builder == "" {
		cfg.Builder = def.Builder
	}
	if cfg.Remediator == "" {
		cfg.Remediator = def.Remediator
	}
	if cfg.Finalizer == "" {
		cfg.Finalizer = def.Finalizer
	}
	return &Stub{cfg: cfg}
}

// promptEnvelope is the slice of the request payload the stub needs.
type promptEnvelope struct {
	Task  string          `json:"task"`
	Input json.RawMessage `json:"input"`
}

type routingInput struct {
	LastAgent        string   `json:"last_agent"`
	State            string   `json:"ai_state"`
	QueueStatus      string   `json:"ai_queue_status"`
	HandoffRequested bool     `json:"ai_handoff_requested"`
	AvailableAgents  []string `json:"available_agents"`
}

type triageInput struct {
	Errors     []string `json:"errors"`
	ErrorCount int      `json:"error_count"`
}

type finalInput struct {
	BuildSuccessRate float64 `json:"build_success_rate"`
	TestSuccessRate  float64 `json:"test_success_rate"`
	ThresholdBuild   float64 `json:"threshold_build"`
	ThresholdTest    float64 `json:"threshold_test"`
}

// Invoke dispatches on the task named in the prompt.
func (s *Stub) Invoke(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var env promptEnvelope
	if err := json.Unmarshal([]byte(prompt), &env); err != nil {
		return "", fmt.Errorf("stub: unparseable prompt: %w", err)
	}

	switch env.Task {
	case "state_routing":
		return s.routing(env.Input)
	case "fix_triage":
		return s.triage(env.Input)
	case "final_decision":
		return s.final(env.Input)
	default:
		return "", fmt.Errorf("stub: unknown task %q", env.Task)
	}
}

func (s *Stub) routing(raw json.RawMessage) (string, error) {
	var in routingInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return "", fmt.Errorf("stub: bad routing input: %w", err)
	}

	pick := func(preferred string) string {
		for _, a := range in.AvailableAgents {
			if a == preferred {
				return preferred
			}
		}
		if len(in.AvailableAgents) == 0 {
			return "NONE"
		}
		return in.AvailableAgents[0]
	}

	var next string
	switch in.QueueStatus {
	case "QUEUED", "ASSIGNED":
		next = pick(s.cfg.Builder)
	case "APPROVED":
		next = pick(s.cfg.Finalizer)
	case "REVIEW_PENDING", "REVIEW_IN_PROGRESS", "REJECTED":
		next = pick(s.cfg.Remediator)
	case "IN_PROGRESS":
		if in.HandoffRequested {
			next = pick(s.cfg.Remediator)
		} else {
			next = pick(in.LastAgent)
		}
	default:
		next = pick(s.cfg.Remediator)
	}

	return marshal(map[string]any{
		"next_agent": next,
		"rationale":  fmt.Sprintf("selected %s for queue status %s", next, in.QueueStatus),
	})
}

func (s *Stub) triage(raw json.RawMessage) (string, error) {
	var in triageInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return "", fmt.Errorf("stub: bad triage input: %w", err)
	}

	action, focus := "ROUTE_TESTER", "no errors, proceed to testing"
	switch {
	case in.ErrorCount > 3:
		action, focus = "ROUTE_REASONER", "multiple errors detected"
	case in.ErrorCount > 0:
		action, focus = "ROUTE_REASONER", "single error needs fixing"
	}

	return marshal(map[string]any{
		"action":        action,
		"context_focus": focus,
	})
}

func (s *Stub) final(raw json.RawMessage) (string, error) {
	var in finalInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return "", fmt.Errorf("stub: bad final input: %w", err)
	}

	commit := in.BuildSuccessRate >= in.ThresholdBuild && in.TestSuccessRate >= in.ThresholdTest
	next := s.cfg.Remediator
	rationale := "success rates below threshold, more work needed"
	if commit {
		next = s.cfg.Finalizer
		rationale = "build and test success rates meet thresholds"
	}

	return marshal(map[string]any{
		"commit_required": commit,
		"next_agent":      next,
		"rationale":       rationale,
	})
}

func marshal(v map[string]any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

var _ Backend = (*Stub)(nil)
