package decision

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

const triageTask = "fix_triage"

const triageInstruction = "Analyze errors and determine routing action. Respond ONLY with valid JSON."

// Triage runs the fix triage protocol. The deterministic default after a
// failed repair retry is MANUAL_REVIEW, which the loop maps to a blocked
// session rather than to an agent.
func (r *Requesters) Triage(ctx context.Context, req TriageRequest) Triage {
	ctx, span := r.tracer.Start(ctx, "decision.triage")
	defer span.End()
	span.SetAttributes(attribute.Int("error_count", req.ErrorCount))

	instruction := triageInstruction
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			instruction = repairInstruction(triageInstruction, lastErr)
		}

		prompt, err := buildPrompt(promptPayload{
			Task:        triageTask,
			Instruction: instruction,
			Input:       req,
			OutputFormat: map[string]string{
				"action":        "string (ROUTE_REASONER, ROUTE_TESTER, ROUTE_FINALIZER, or MANUAL_REVIEW)",
				"context_focus": "string (area needing attention)",
			},
			Constraints: []string{
				"Response must be valid JSON",
				"action must be one of: ROUTE_REASONER, ROUTE_TESTER, ROUTE_FINALIZER, MANUAL_REVIEW",
				"context_focus must identify specific code area or phase",
			},
		})
		if err != nil {
			lastErr = err
			continue
		}

		raw, err := r.invoke(ctx, triageTask, prompt)
		if err != nil {
			lastErr = err
			continue
		}

		var parsed Triage
		if err := parseInto(raw, &parsed); err != nil {
			lastErr = err
			continue
		}
		if err := validateTriage(parsed); err != nil {
			lastErr = err
			continue
		}

		parsed.ContextFocus = truncate(parsed.ContextFocus)
		span.SetAttributes(attribute.String("action", string(parsed.Action)))
		return parsed
	}

	r.recordFallback(ctx, triageTask, lastErr)
	span.SetAttributes(attribute.Bool("fallback", true))
	return Triage{
		Action:       ActionManualReview,
		ContextFocus: "triage unavailable, manual review required",
	}
}

func validateTriage(d Triage) error {
	if !d.Action.Valid() {
		return fmt.Errorf("action %q is not a recognized triage action", d.Action)
	}
	if d.ContextFocus == "" {
		return fmt.Errorf("context_focus is empty")
	}
	return nil
}
