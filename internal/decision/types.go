// Package decision implements the three request/response protocols the
// coordination loop consults: state routing, fix triage, and the final
// commit decision. Each requester builds a bounded prompt, validates the
// backend's answer, retries once with a repair instruction, and falls
// back to a deterministic default rather than failing the session.
package decision

import (
	"github.com/fyrsmithlabs/coordd/internal/status"
)

// RouteNone is the routing answer that no agent should run next. The
// loop treats it as a stall and terminates the session as blocked.
const RouteNone = "NONE"

// Routing names the next agent to execute.
type Routing struct {
	NextAgent string `json:"next_agent"`
	Rationale string `json:"rationale"`
}

// TriageAction is the remediation routing chosen by fix triage.
type TriageAction string

const (
	ActionRouteReasoner  TriageAction = "ROUTE_REASONER"
	ActionRouteTester    TriageAction = "ROUTE_TESTER"
	ActionRouteFinalizer TriageAction = "ROUTE_FINALIZER"
	ActionManualReview   TriageAction = "MANUAL_REVIEW"
)

// Valid reports whether the action is one of the four enumerated values.
func (a TriageAction) Valid() bool {
	switch a {
	case ActionRouteReasoner, ActionRouteTester, ActionRouteFinalizer, ActionManualReview:
		return true
	}
	return false
}

// Triage names a remediation action and the area needing attention.
type Triage struct {
	Action       TriageAction `json:"action"`
	ContextFocus string       `json:"context_focus"`
}

// Final is the commit-readiness determination.
type Final struct {
	CommitRequired bool   `json:"commit_required"`
	NextAgent      string `json:"next_agent"`
	Rationale      string `json:"rationale"`
}

// RoutingRequest is the bounded input to the state routing protocol.
type RoutingRequest struct {
	LastAction       string             `json:"last_action"`
	LastAgent        string             `json:"last_agent"`
	LastResult       status.ResultKind  `json:"last_result"`
	State            status.AgentState  `json:"ai_state"`
	QueueStatus      status.QueueStatus `json:"ai_queue_status"`
	HandoffRequested bool               `json:"ai_handoff_requested"`
	AvailableAgents  []string           `json:"available_agents"`
}

// NewRoutingRequest builds a routing request from a status snapshot and
// the currently registered agent names.
func NewRoutingRequest(snapshot status.GlobalStatus, available []string) RoutingRequest {
	return RoutingRequest{
		LastAction:       snapshot.LastAction,
		LastAgent:        snapshot.LastAgent,
		LastResult:       snapshot.LastResult,
		State:            snapshot.State,
		QueueStatus:      snapshot.QueueStatus,
		HandoffRequested: snapshot.HandoffRequested,
		AvailableAgents:  available,
	}
}

// TriageRequest is the bounded input to the fix triage protocol.
type TriageRequest struct {
	Errors     []string `json:"errors"`
	ErrorCount int      `json:"error_count"`
}

// NewTriageRequest builds a triage request, truncating the error list to
// the status bound while keeping the full count.
func NewTriageRequest(snapshot status.GlobalStatus) TriageRequest {
	errs := snapshot.TopErrors
	if len(errs) > status.MaxTopErrors {
		errs = errs[:status.MaxTopErrors]
	}
	return TriageRequest{
		Errors:     errs,
		ErrorCount: snapshot.ErrorCount,
	}
}

// FinalRequest is the bounded input to the final decision protocol. The
// thresholds travel with the request so the oracle and the validator see
// the same rule.
type FinalRequest struct {
	BuildSuccessRate float64 `json:"build_success_rate"`
	TestSuccessRate  float64 `json:"test_success_rate"`
	ThresholdBuild   float64 `json:"threshold_build"`
	ThresholdTest    float64 `json:"threshold_test"`
}
