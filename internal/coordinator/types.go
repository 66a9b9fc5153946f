package coordinator

import (
	"github.com/fyrsmithlabs/coordd/internal/status"
)

// TerminationReason explains why a coordination session ended.
type TerminationReason string

const (
	// TerminationDone means the pipeline completed its objective.
	TerminationDone TerminationReason = "DONE"
	// TerminationFailed means an agent marked the session unrecoverable.
	TerminationFailed TerminationReason = "FAILED"
	// TerminationBlockedStalled means routing produced no next agent
	// while the session was blocked.
	TerminationBlockedStalled TerminationReason = "BLOCKED_STALLED"
	// TerminationCancelled covers both an agent-set CANCELLED state and
	// context cancellation from the caller.
	TerminationCancelled TerminationReason = "CANCELLED"
	// TerminationMaxIterations means the iteration budget ran out.
	TerminationMaxIterations TerminationReason = "MAX_ITERATIONS"
)

// TraceEntry records one loop iteration for the session report.
type TraceEntry struct {
	Iteration   int                `json:"iteration"`
	Agent       string             `json:"agent,omitempty"`
	Action      string             `json:"action,omitempty"`
	Result      status.ResultKind  `json:"result,omitempty"`
	State       status.AgentState  `json:"ai_state,omitempty"`
	QueueStatus status.QueueStatus `json:"ai_queue_status,omitempty"`
	Note        string             `json:"note,omitempty"`
}

// Report is the outcome of one coordination session.
type Report struct {
	SessionID   string              `json:"session_id"`
	Termination TerminationReason   `json:"termination"`
	Iterations  int                 `json:"iterations"`
	FinalStatus status.GlobalStatus `json:"final_status"`
	Trace       []TraceEntry        `json:"trace"`
}
