package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coordd/internal/backend"
)

const instrumentationName = "github.com/fyrsmithlabs/coordd/internal/decision"

const (
	// DefaultBuildThreshold is the minimum build success rate for commit.
	DefaultBuildThreshold = 0.95
	// DefaultTestThreshold is the minimum test success rate for commit.
	DefaultTestThreshold = 0.90

	// maxRationaleLen bounds free-text fields in request and response.
	maxRationaleLen = 200

	// attempts per protocol: one normal call plus one repair call.
	maxAttempts = 2

	defaultBackendTimeout = 10 * time.Second
)

// Config configures the decision requesters.
type Config struct {
	// FinalizerAgent is the designated commit-preparation role.
	FinalizerAgent string

	// RemediationAgent is the default remediation-capable role.
	RemediationAgent string

	// ThresholdBuild and ThresholdTest gate the final decision.
	ThresholdBuild float64
	ThresholdTest  float64

	// Timeout bounds each backend call. A timed-out call counts as a
	// validation failure, never as a session failure.
	Timeout time.Duration
}

// DefaultConfig returns requester defaults matching the builtin pipeline.
func DefaultConfig() Config {
	return Config{
		FinalizerAgent:   "finalizer",
		RemediationAgent: "reasoner",
		ThresholdBuild:   DefaultBuildThreshold,
		ThresholdTest:    DefaultTestThreshold,
		Timeout:          defaultBackendTimeout,
	}
}

// Requesters drives the three decision protocols against one backend.
type Requesters struct {
	backend backend.Backend
	cfg     Config
	logger  *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	requestCounter  metric.Int64Counter
	fallbackCounter metric.Int64Counter
}

// New creates the requesters. A nil logger defaults to a nop logger.
func New(b backend.Backend, cfg Config, logger *zap.Logger) (*Requesters, error) {
	if b == nil {
		return nil, errors.New("backend is required")
	}
	if cfg.FinalizerAgent == "" {
		return nil, errors.New("finalizer agent name is required")
	}
	if cfg.RemediationAgent == "" {
		return nil, errors.New("remediation agent name is required")
	}
	if cfg.ThresholdBuild <= 0 {
		cfg.ThresholdBuild = DefaultBuildThreshold
	}
	if cfg.ThresholdTest <= 0 {
		cfg.ThresholdTest = DefaultTestThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultBackendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Requesters{
		backend: b,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}
	r.initMetrics()
	return r, nil
}

func (r *Requesters) initMetrics() {
	var err error

	r.requestCounter, err = r.meter.Int64Counter(
		"coordd.decision.requests_total",
		metric.WithDescription("Total decision requests by protocol"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		r.logger.Warn("failed to create request counter", zap.Error(err))
	}

	r.fallbackCounter, err = r.meter.Int64Counter(
		"coordd.decision.fallbacks_total",
		metric.WithDescription("Decisions substituted by the deterministic default"),
		metric.WithUnit("{fallback}"),
	)
	if err != nil {
		r.logger.Warn("failed to create fallback counter", zap.Error(err))
	}
}

// promptPayload is the constrained JSON prompt shape shared by all three
// protocols.
type promptPayload struct {
	Task         string            `json:"task"`
	Instruction  string            `json:"instruction"`
	Input        any               `json:"input"`
	OutputFormat map[string]string `json:"output_format"`
	Constraints  []string          `json:"constraints"`
}

func buildPrompt(p promptPayload) (string, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal prompt: %w", err)
	}
	return string(data), nil
}

// repairInstruction tightens the instruction for the second attempt.
func repairInstruction(base string, lastErr error) string {
	return fmt.Sprintf(
		"%s Previous response was invalid (%v). Respond with EXACTLY one JSON object matching output_format, no surrounding text.",
		base, lastErr,
	)
}

// invoke performs one bounded backend call under the per-call timeout.
func (r *Requesters) invoke(ctx context.Context, protocol, prompt string) (string, error) {
	if r.requestCounter != nil {
		r.requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("protocol", protocol)))
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	raw, err := r.backend.Invoke(callCtx, prompt)
	if err != nil {
		if backend.IsTimeout(err) {
			return "", fmt.Errorf("%w: %v", backend.ErrTimeout, err)
		}
		return "", err
	}
	return raw, nil
}

// recordFallback logs and counts a deterministic default substitution.
func (r *Requesters) recordFallback(ctx context.Context, protocol string, lastErr error) {
	r.logger.Warn("decision fallback",
		zap.String("protocol", protocol),
		zap.Error(lastErr),
	)
	if r.fallbackCounter != nil {
		r.fallbackCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("protocol", protocol)))
	}
}

// parseInto strips common response wrapping and unmarshals into v.
func parseInto(raw string, v any) error {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	return nil
}

// truncate bounds free-text fields to the rationale budget.
func truncate(s string) string {
	if len(s) > maxRationaleLen {
		return s[:maxRationaleLen]
	}
	return s
}
