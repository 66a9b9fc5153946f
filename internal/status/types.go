// Package status holds the single mutable global status record for a
// coordination session and the merge rules that agents' result deltas
// are applied under.
package status

import "fmt"

// AgentState drives loop continuation. It reflects the execution state of
// the agent pipeline as a whole, not of any individual agent.
type AgentState string

const (
	StateProcessing AgentState = "PROCESSING"
	StateReady      AgentState = "READY"
	StateDone       AgentState = "DONE"
	StateBlocked    AgentState = "BLOCKED"
	StatePaused     AgentState = "PAUSED"
	StateFailed     AgentState = "FAILED"
	StateCancelled  AgentState = "CANCELLED"
)

// Valid reports whether the state is a recognized value.
func (s AgentState) Valid() bool {
	switch s {
	case StateProcessing, StateReady, StateDone, StateBlocked,
		StatePaused, StateFailed, StateCancelled:
		return true
	}
	return false
}

// QueueStatus drives intra-stage routing while the session is live.
type QueueStatus string

const (
	QueueQueued           QueueStatus = "QUEUED"
	QueueAssigned         QueueStatus = "ASSIGNED"
	QueueInProgress       QueueStatus = "IN_PROGRESS"
	QueueReviewPending    QueueStatus = "REVIEW_PENDING"
	QueueReviewInProgress QueueStatus = "REVIEW_IN_PROGRESS"
	QueueApproved         QueueStatus = "APPROVED"
	QueueRejected         QueueStatus = "REJECTED"
	QueueCompleted        QueueStatus = "COMPLETED"
	QueueAbandoned        QueueStatus = "ABANDONED"
)

// Valid reports whether the queue status is a recognized value.
func (q QueueStatus) Valid() bool {
	switch q {
	case QueueQueued, QueueAssigned, QueueInProgress, QueueReviewPending,
		QueueReviewInProgress, QueueApproved, QueueRejected,
		QueueCompleted, QueueAbandoned:
		return true
	}
	return false
}

// ResultKind classifies the outcome of a single agent execution.
type ResultKind string

const (
	ResultSuccess ResultKind = "SUCCESS"
	ResultFailure ResultKind = "FAILURE"
	ResultPartial ResultKind = "PARTIAL"
)

// Valid reports whether the result kind is a recognized value.
func (r ResultKind) Valid() bool {
	switch r {
	case ResultSuccess, ResultFailure, ResultPartial:
		return true
	}
	return false
}

// MaxTopErrors bounds the error list carried in the global status.
const MaxTopErrors = 5

// GlobalStatus is the single mutable record owned by the coordination loop
// for the duration of a session. It is always passed by value; the loop
// replaces it atomically after each merge.
type GlobalStatus struct {
	LastAction       string         `json:"last_action"`
	LastAgent        string         `json:"last_agent"`
	LastResult       ResultKind     `json:"last_result"`
	State            AgentState     `json:"ai_state"`
	QueueStatus      QueueStatus    `json:"ai_queue_status"`
	HandoffRequested bool           `json:"ai_handoff_requested"`
	BuildSuccessRate float64        `json:"build_success_rate"`
	TestSuccessRate  float64        `json:"test_success_rate"`
	ErrorCount       int            `json:"error_count"`
	TopErrors        []string       `json:"top_errors,omitempty"`
	Context          map[string]any `json:"context,omitempty"`
}

// Clone returns a deep copy so callers can never alias the store's record.
func (g GlobalStatus) Clone() GlobalStatus {
	out := g
	if g.TopErrors != nil {
		out.TopErrors = make([]string, len(g.TopErrors))
		copy(out.TopErrors, g.TopErrors)
	}
	if g.Context != nil {
		out.Context = make(map[string]any, len(g.Context))
		for k, v := range g.Context {
			out.Context[k] = v
		}
	}
	return out
}

// Validate checks the enum fields against their domains. A status with
// neither a state nor a queue status is rejected; the loop cannot derive
// a control state from it.
func (g GlobalStatus) Validate() error {
	if g.State == "" && g.QueueStatus == "" {
		return fmt.Errorf("status requires at least one of ai_state, ai_queue_status")
	}
	if g.State != "" && !g.State.Valid() {
		return &MalformedDeltaError{Field: "ai_state", Value: string(g.State)}
	}
	if g.QueueStatus != "" && !g.QueueStatus.Valid() {
		return &MalformedDeltaError{Field: "ai_queue_status", Value: string(g.QueueStatus)}
	}
	if g.LastResult != "" && !g.LastResult.Valid() {
		return &MalformedDeltaError{Field: "last_result", Value: string(g.LastResult)}
	}
	return nil
}

// Delta is the structured result an agent returns from one execution.
// Required protocol fields are typed; absent fields (zero values, nil
// pointers) leave the corresponding status fields untouched on merge.
// Free-form context keys are merged verbatim without schema validation.
type Delta struct {
	Action           string         `json:"action"`
	Result           ResultKind     `json:"result"`
	State            AgentState     `json:"ai_state"`
	QueueStatus      QueueStatus    `json:"ai_queue_status"`
	HandoffRequested *bool          `json:"ai_handoff_requested,omitempty"`
	BuildSuccessRate *float64       `json:"build_success_rate,omitempty"`
	TestSuccessRate  *float64       `json:"test_success_rate,omitempty"`
	Errors           []string       `json:"errors,omitempty"`
	Context          map[string]any `json:"context,omitempty"`
}

// IsEmpty reports whether merging the delta would be a no-op.
func (d Delta) IsEmpty() bool {
	return d.Action == "" && d.Result == "" && d.State == "" &&
		d.QueueStatus == "" && d.HandoffRequested == nil &&
		d.BuildSuccessRate == nil && d.TestSuccessRate == nil &&
		d.Errors == nil && len(d.Context) == 0
}

// MalformedDeltaError reports an agent result field whose value is outside
// its enum domain. The coordination loop recovers from it by forcing the
// session into BLOCKED with a handoff request.
type MalformedDeltaError struct {
	Field string
	Value string
}

func (e *MalformedDeltaError) Error() string {
	return fmt.Sprintf("malformed delta: field %s has out-of-domain value %q", e.Field, e.Value)
}

// Bool returns a pointer suitable for Delta's optional boolean field.
func Bool(v bool) *bool { return &v }

// Float returns a pointer suitable for Delta's optional rate fields.
func Float(v float64) *float64 { return &v }
