package decision

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

const finalTask = "final_decision"

const finalInstruction = "Determine if work is ready to commit. Respond ONLY with valid JSON."

// Finalize runs the final decision protocol. commit_required is a pure
// function of the two rates and thresholds; a backend contradicting that
// rule, naming the wrong finalizer, or failing to name a remediation
// agent is a validation failure and the deterministic value is
// substituted. The returned decision therefore always satisfies the rule.
func (r *Requesters) Finalize(ctx context.Context, req FinalRequest) Final {
	ctx, span := r.tracer.Start(ctx, "decision.finalize")
	defer span.End()

	if req.ThresholdBuild == 0 {
		req.ThresholdBuild = r.cfg.ThresholdBuild
	}
	if req.ThresholdTest == 0 {
		req.ThresholdTest = r.cfg.ThresholdTest
	}
	span.SetAttributes(
		attribute.Float64("build_success_rate", req.BuildSuccessRate),
		attribute.Float64("test_success_rate", req.TestSuccessRate),
	)

	instruction := finalInstruction
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			instruction = repairInstruction(finalInstruction, lastErr)
		}

		prompt, err := buildPrompt(promptPayload{
			Task:        finalTask,
			Instruction: instruction,
			Input:       req,
			OutputFormat: map[string]string{
				"commit_required": "boolean",
				"next_agent":      "string (agent to handle next step)",
				"rationale":       "string (brief explanation)",
			},
			Constraints: []string{
				"Response must be valid JSON",
				"commit_required based on thresholds",
				fmt.Sprintf("If commit_required is true, next_agent must be %q", r.cfg.FinalizerAgent),
				"If commit_required is false, next_agent must suggest remediation",
			},
		})
		if err != nil {
			lastErr = err
			continue
		}

		raw, err := r.invoke(ctx, finalTask, prompt)
		if err != nil {
			lastErr = err
			continue
		}

		var parsed Final
		if err := parseInto(raw, &parsed); err != nil {
			lastErr = err
			continue
		}
		if err := r.validateFinal(parsed, req); err != nil {
			lastErr = err
			continue
		}

		parsed.Rationale = truncate(parsed.Rationale)
		span.SetAttributes(attribute.Bool("commit_required", parsed.CommitRequired))
		return parsed
	}

	r.recordFallback(ctx, finalTask, lastErr)
	span.SetAttributes(attribute.Bool("fallback", true))
	return r.deterministicFinal(req)
}

// CommitRequired is the threshold rule itself, exposed so callers and
// tests can assert against it directly.
func CommitRequired(req FinalRequest) bool {
	return req.BuildSuccessRate >= req.ThresholdBuild && req.TestSuccessRate >= req.ThresholdTest
}

// validateFinal checks the backend's answer against the deterministic rule.
func (r *Requesters) validateFinal(d Final, req FinalRequest) error {
	expected := CommitRequired(req)
	if d.CommitRequired != expected {
		return fmt.Errorf("commit_required %v contradicts threshold rule (expected %v)", d.CommitRequired, expected)
	}
	if expected {
		if d.NextAgent != r.cfg.FinalizerAgent {
			return fmt.Errorf("commit requires finalizer %q, got next_agent %q", r.cfg.FinalizerAgent, d.NextAgent)
		}
		return nil
	}
	if d.NextAgent == "" || d.NextAgent == RouteNone || d.NextAgent == r.cfg.FinalizerAgent {
		return fmt.Errorf("next_agent %q is not a remediation-capable agent", d.NextAgent)
	}
	return nil
}

// deterministicFinal is the fallback decision computed from the rule.
func (r *Requesters) deterministicFinal(req FinalRequest) Final {
	if CommitRequired(req) {
		return Final{
			CommitRequired: true,
			NextAgent:      r.cfg.FinalizerAgent,
			Rationale:      "build and test success rates meet thresholds",
		}
	}
	return Final{
		CommitRequired: false,
		NextAgent:      r.cfg.RemediationAgent,
		Rationale:      "success rates below threshold, remediation required",
	}
}
