// Coordd runs a small-model coordination session: a single-threaded loop
// that hands work between registered agents, consulting a decision
// backend for routing, fix triage, and commit decisions.
//
// Usage:
//
//	# Run a session with the simulated backend
//	coordd run
//
//	# Run against an OpenAI-compatible endpoint
//	COORDD_BACKEND_KIND=http COORDD_BACKEND_BASE_URL=http://localhost:11434 \
//	COORDD_BACKEND_MODEL=qwen2.5:7b coordd run
//
//	# Load a config file and start from a status file
//	coordd run --config coordd.yaml --status session.json
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coordd/internal/agent"
	"github.com/fyrsmithlabs/coordd/internal/backend"
	"github.com/fyrsmithlabs/coordd/internal/config"
	"github.com/fyrsmithlabs/coordd/internal/coordinator"
	"github.com/fyrsmithlabs/coordd/internal/decision"
	"github.com/fyrsmithlabs/coordd/internal/logging"
	"github.com/fyrsmithlabs/coordd/internal/status"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	statusPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "coordd",
	Short:   "Small-model agent coordination loop",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one coordination session and print the report",
	Long: `Run one coordination session with the builtin agent pipeline
(builder, tester, reasoner, finalizer) and print the session report as JSON.

The initial status defaults to a freshly queued work item; pass --status
to start from a saved status record instead.`,
	RunE: runSession,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("coordd %s (commit %s, built %s)\n", version, gitCommit, buildDate)
	},
}

func init() {
	runCmd.Flags().StringVar(&statusPath, "status", "", "path to initial status JSON file")
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	initial, err := loadInitialStatus(statusPath)
	if err != nil {
		return err
	}

	b, err := newBackend(cfg.Backend)
	if err != nil {
		return err
	}

	requesters, err := decision.New(b, decision.Config{
		FinalizerAgent:   cfg.Coordinator.FinalizerAgent,
		RemediationAgent: cfg.Coordinator.RemediationAgent,
		ThresholdBuild:   cfg.Coordinator.ThresholdBuild,
		ThresholdTest:    cfg.Coordinator.ThresholdTest,
		Timeout:          cfg.Backend.Timeout,
	}, logger.Underlying())
	if err != nil {
		return fmt.Errorf("failed to create decision requesters: %w", err)
	}

	registry, err := builtinRegistry(cfg.Coordinator)
	if err != nil {
		return err
	}

	coord, err := coordinator.New(registry, requesters, coordinator.Config{
		MaxIterations:    cfg.Coordinator.MaxIterations,
		FinalizerAgent:   cfg.Coordinator.FinalizerAgent,
		RemediationAgent: cfg.Coordinator.RemediationAgent,
		TesterAgent:      cfg.Coordinator.TesterAgent,
		ThresholdBuild:   cfg.Coordinator.ThresholdBuild,
		ThresholdTest:    cfg.Coordinator.ThresholdTest,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}

	report, err := coord.Run(ctx, initial)
	if err != nil {
		return err
	}

	logger.Info(ctx, "session complete",
		zap.String("termination", string(report.Termination)),
		zap.Int("iterations", report.Iterations))

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// loadInitialStatus reads a status record from disk, or returns a
// freshly queued work item when no path is given.
func loadInitialStatus(path string) (status.GlobalStatus, error) {
	if path == "" {
		return status.GlobalStatus{
			State:       status.StateReady,
			QueueStatus: status.QueueQueued,
		}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return status.GlobalStatus{}, fmt.Errorf("failed to read status file: %w", err)
	}
	var initial status.GlobalStatus
	if err := json.Unmarshal(content, &initial); err != nil {
		return status.GlobalStatus{}, fmt.Errorf("failed to parse status file: %w", err)
	}
	return initial, nil
}

func newBackend(cfg config.BackendConfig) (backend.Backend, error) {
	switch cfg.Kind {
	case config.BackendHTTP:
		return backend.NewHTTPBackend(backend.HTTPConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
		})
	default:
		return backend.NewStub(backend.DefaultStubConfig()), nil
	}
}

// builtinRegistry wires the builder, tester, reasoner, and finalizer
// agents under the configured role names. The builder and tester use
// their simulated probes.
func builtinRegistry(cfg config.CoordinatorConfig) (*agent.Registry, error) {
	registry := agent.NewRegistry()

	if err := registry.Register(agent.RoleBuilder, agent.NewBuilder(nil)); err != nil {
		return nil, fmt.Errorf("failed to register builder: %w", err)
	}
	if err := registry.Register(cfg.TesterAgent, agent.NewTester(nil)); err != nil {
		return nil, fmt.Errorf("failed to register tester: %w", err)
	}
	if err := registry.Register(cfg.RemediationAgent, agent.NewReasoner()); err != nil {
		return nil, fmt.Errorf("failed to register reasoner: %w", err)
	}
	if err := registry.Register(cfg.FinalizerAgent, agent.NewFinalizer(cfg.ThresholdBuild, cfg.ThresholdTest)); err != nil {
		return nil, fmt.Errorf("failed to register finalizer: %w", err)
	}
	return registry, nil
}
