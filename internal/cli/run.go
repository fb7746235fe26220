package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tausani-ah-chong/tdd-agent/internal/agent"
	"github.com/tausani-ah-chong/tdd-agent/internal/config"
	"github.com/tausani-ah-chong/tdd-agent/internal/harness"
	"github.com/tausani-ah-chong/tdd-agent/internal/llm"
	"github.com/tausani-ah-chong/tdd-agent/internal/llm/configbuilder"
	"github.com/tausani-ah-chong/tdd-agent/internal/logging"
	"github.com/tausani-ah-chong/tdd-agent/internal/observability"
	"github.com/tausani-ah-chong/tdd-agent/internal/tdd"
	"github.com/tausani-ah-chong/tdd-agent/internal/transcript"
	"github.com/tausani-ah-chong/tdd-agent/internal/workspace"
)

// session is everything a run needs, assembled from config.
type session struct {
	cfg         *config.Config
	logger      *zap.Logger
	registry    *llm.Registry
	metrics     *observability.Metrics
	metricsFile string
}

func runSession(cmd *cobra.Command, opts *Options, args []string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	task := cfg.Loop.DefaultTask
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		task = args[0]
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort

	reg, err := configbuilder.BuildRegistryFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("build model registry: %w", err)
	}

	s := session{cfg: cfg, logger: logger, registry: reg}
	if cfg.Metrics.Enabled {
		s.metrics = observability.NewMetrics()
		s.metricsFile = cfg.Metrics.Filename
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := s.run(ctx, task, reporterFor(cmd, cfg.Harness.PreviewErrors))
	if err != nil {
		return err
	}
	if res.Outcome == tdd.OutcomeExhausted {
		logger.Info("session incomplete", zap.Error(res.Err()), zap.String("history", s.historyHint(res.RunID)))
	}
	return nil
}

func (s session) run(ctx context.Context, task string, reporter tdd.Reporter) (tdd.Result, error) {
	ws, err := workspace.New(s.cfg.Workspace.Dir, s.cfg.Workspace.HistoryDir, s.cfg.Workspace.TrackedExt)
	if err != nil {
		return tdd.Result{}, err
	}

	orch, err := tdd.New(tdd.Options{
		Model: agent.New(s.registry, s.cfg.Strategy, s.cfg.Loop, s.logger.Named("agent"), s.metrics),
		Workspace: ws,
		Harness: &harness.Invoker{
			Command:    s.cfg.Harness.Command,
			WorkingDir: ws.Dir(),
			Timeout:    time.Duration(s.cfg.Harness.TimeoutSeconds) * time.Second,
			Logger:     s.logger.Named("harness"),
		},
		MaxIterations: s.cfg.Loop.MaxIterations,
		Reporter:      reporter,
		Logger:        s.logger.Named("tdd"),
		Metrics:       s.metrics,
		MetricsFile:   s.metricsFile,
	})
	if err != nil {
		return tdd.Result{}, err
	}
	return orch.Run(ctx, task)
}

func (s session) historyHint(runID string) string {
	return filepath.Join(s.cfg.Workspace.HistoryPath(), runID)
}

// reporterFor animates and colours only when stdout is a terminal.
func reporterFor(cmd *cobra.Command, previewErrors int) tdd.Reporter {
	if f, ok := cmd.OutOrStdout().(*os.File); ok {
		return transcript.ForFile(f, previewErrors)
	}
	return transcript.New(cmd.OutOrStdout(), transcript.Options{PreviewErrors: previewErrors})
}
