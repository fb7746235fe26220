package cli

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/tausani-ah-chong/tdd-agent/internal/harness"
	"github.com/tausani-ah-chong/tdd-agent/internal/llm/configbuilder"
)

// NewDoctorCmd returns a health-check command validating config and environment.
func NewDoctorCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			reg, err := configbuilder.BuildRegistryFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("build model registry: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK. Providers: %d, models: %d (default %s)\n", len(cfg.Providers), len(cfg.Models), reg.DefaultModel())
			fmt.Fprintf(out, "Workspace: %s, history: %s, tracked: *%s\n", cfg.Workspace.Dir, cfg.Workspace.HistoryPath(), cfg.Workspace.TrackedExt)
			fmt.Fprintf(out, "Max iterations: %d, metrics: %v\n", cfg.Loop.MaxIterations, cfg.Metrics.Enabled)

			bin := harness.Program(cfg.Harness.Command)
			if bin == "" {
				fmt.Fprintln(out, "Test command: not configured")
				return nil
			}
			if path, err := exec.LookPath(bin); err != nil {
				fmt.Fprintf(out, "Test command: %q not found on PATH\n", bin)
			} else {
				fmt.Fprintf(out, "Test command: %s (%s)\n", cfg.Harness.Command, path)
			}
			return nil
		},
	}
}
