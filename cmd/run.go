// File: cmd/run.go
package cmd

import (
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tsenderov/droidprobe/api/schemas"
	"github.com/tsenderov/droidprobe/internal/agent"
	"github.com/tsenderov/droidprobe/internal/config"
	"github.com/tsenderov/droidprobe/internal/device"
	"github.com/tsenderov/droidprobe/internal/llmclient"
	"github.com/tsenderov/droidprobe/internal/observability"
	"github.com/tsenderov/droidprobe/internal/orchestrator"
	"github.com/tsenderov/droidprobe/internal/store"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [testcases.json]",
		Short: "Runs a suite of exploratory test cases against the connected device",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so command-line flags override
			// the config file and environment with the right precedence.
			if err := viper.BindPFlag("llm.provider", cmd.Flags().Lookup("provider")); err != nil {
				return err
			}
			if err := viper.BindPFlag("llm.model", cmd.Flags().Lookup("model")); err != nil {
				return err
			}
			if err := viper.BindPFlag("agent.max_steps", cmd.Flags().Lookup("max-steps")); err != nil {
				return err
			}
			if err := viper.BindPFlag("device.device_id", cmd.Flags().Lookup("device")); err != nil {
				return err
			}
			// No blanket BindPFlags here: the bare flag names would land at
			// top-level viper keys and the "device" flag would shadow the
			// device config section, breaking unmarshaling.
			return viper.BindPFlag("artifacts.save_step_frames", cmd.Flags().Lookup("save-frames"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			cases, err := loadTestCases(args[0])
			if err != nil {
				return err
			}
			if len(cases) == 0 {
				return fmt.Errorf("no test cases found in %q", args[0])
			}
			logger.Info("Test suite loaded", zap.String("file", args[0]), zap.Int("cases", len(cases)))

			client, err := llmclient.NewClient(cfg.LLM, logger)
			if err != nil {
				return fmt.Errorf("failed to build model client: %w", err)
			}

			fileStore, err := store.NewFileStore(cfg.Artifacts, logger)
			if err != nil {
				return fmt.Errorf("failed to prepare artifacts store: %w", err)
			}
			if cfg.Artifacts.RetentionDays > 0 {
				retention := time.Duration(cfg.Artifacts.RetentionDays) * 24 * time.Hour
				if _, err := fileStore.CleanupOlderThan(retention); err != nil {
					logger.Warn("Artifact cleanup failed", zap.Error(err))
				}
			}

			dev := device.NewADBDevice(cfg.Device, logger)

			orch, err := orchestrator.New(
				cfg.Agent,
				logger,
				dev,
				agent.NewVisionAnalyzer(client, logger),
				agent.NewPlanner(client, cfg.Agent, logger),
				agent.NewExecutor(dev, cfg.Agent, logger),
				agent.NewSupervisor(client, logger),
				fileStore,
			)
			if err != nil {
				return err
			}
			orch.SetSaveStepFrames(cfg.Artifacts.SaveStepFrames)

			results, summary := orch.RunSuite(ctx, cases)
			printSummary(cmd, results, summary)

			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d test cases failed", summary.Failed, summary.Total)
			}
			return nil
		},
	}

	runCmd.Flags().String("provider", "", "model provider (openrouter or gemini)")
	runCmd.Flags().String("model", "", "model identifier to use")
	runCmd.Flags().Int("max-steps", 0, "maximum actions per test case")
	runCmd.Flags().String("device", "", "adb device serial (default: the only connected device)")
	runCmd.Flags().Bool("save-frames", false, "save a screenshot after every step")
	return runCmd
}

// loadTestCases reads the suite definition. The file holds either a JSON
// array of test cases or an object with a "test_cases" array.
func loadTestCases(path string) ([]schemas.TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read test cases file: %w", err)
	}

	var cases []schemas.TestCase
	if err := jsoniter.Unmarshal(data, &cases); err == nil {
		return cases, nil
	}

	var wrapper struct {
		TestCases []schemas.TestCase `json:"test_cases"`
	}
	if err := jsoniter.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("could not parse test cases file %q: %w", path, err)
	}
	return wrapper.TestCases, nil
}

func printSummary(cmd *cobra.Command, results []*schemas.TestResult, summary schemas.SuiteSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s\n", "======================================================================")
	fmt.Fprintf(out, "SUITE RESULT: %d total, %d passed, %d failed (%d bugs, %d errors)\n",
		summary.Total, summary.Passed, summary.Failed, summary.BugCount, summary.Errored)
	fmt.Fprintf(out, "%s\n", "======================================================================")
	for _, r := range results {
		status := string(r.Verdict.Result)
		if r.Verdict.BugFound {
			status += " (BUG FOUND)"
		}
		fmt.Fprintf(out, "%-12s %-6s steps=%-3d %s\n", r.TestID, status, r.Steps, r.Verdict.Reason)
	}
}
