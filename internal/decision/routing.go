package decision

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

const routingTask = "state_routing"

const routingInstruction = "Determine the next agent to execute based on current state. Respond ONLY with valid JSON."

// Route runs the state routing protocol. It never fails: after one repair
// retry the deterministic default (NONE) is returned, which the loop
// treats as a stall.
func (r *Requesters) Route(ctx context.Context, req RoutingRequest) Routing {
	ctx, span := r.tracer.Start(ctx, "decision.route")
	defer span.End()
	span.SetAttributes(
		attribute.String("ai_state", string(req.State)),
		attribute.String("ai_queue_status", string(req.QueueStatus)),
		attribute.Bool("ai_handoff_requested", req.HandoffRequested),
		attribute.Int("available_agents", len(req.AvailableAgents)),
	)

	instruction := routingInstruction
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			instruction = repairInstruction(routingInstruction, lastErr)
		}

		prompt, err := buildPrompt(promptPayload{
			Task:        routingTask,
			Instruction: instruction,
			Input:       req,
			OutputFormat: map[string]string{
				"next_agent": "string (one of available_agents or 'NONE')",
				"rationale":  "string (brief explanation)",
			},
			Constraints: []string{
				"Response must be valid JSON",
				"next_agent must be from available_agents or 'NONE'",
				"rationale must be under 200 characters",
			},
		})
		if err != nil {
			lastErr = err
			continue
		}

		raw, err := r.invoke(ctx, routingTask, prompt)
		if err != nil {
			lastErr = err
			continue
		}

		var parsed Routing
		if err := parseInto(raw, &parsed); err != nil {
			lastErr = err
			continue
		}
		if err := validateRouting(parsed, req.AvailableAgents); err != nil {
			lastErr = err
			continue
		}

		parsed.Rationale = truncate(parsed.Rationale)
		span.SetAttributes(attribute.String("next_agent", parsed.NextAgent))
		return parsed
	}

	r.recordFallback(ctx, routingTask, lastErr)
	span.SetAttributes(attribute.Bool("fallback", true))
	return Routing{
		NextAgent: RouteNone,
		Rationale: "routing decision unavailable, terminating as blocked",
	}
}

// validateRouting enforces that next_agent is one of available_agents
// or the NONE sentinel.
func validateRouting(d Routing, available []string) error {
	if d.NextAgent == "" {
		return fmt.Errorf("next_agent is empty")
	}
	if d.NextAgent == RouteNone {
		return nil
	}
	for _, a := range available {
		if a == d.NextAgent {
			return nil
		}
	}
	return fmt.Errorf("next_agent %q is not in available_agents", d.NextAgent)
}
