package tdd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tausani-ah-chong/tdd-agent/internal/agent"
	"github.com/tausani-ah-chong/tdd-agent/internal/harness"
	"github.com/tausani-ah-chong/tdd-agent/internal/llm"
	"github.com/tausani-ah-chong/tdd-agent/internal/observability"
	"github.com/tausani-ah-chong/tdd-agent/internal/workspace"
)

// DefaultMaxIterations bounds a session when no cap is configured.
const DefaultMaxIterations = 100

// Model sends the conversation to a language model.
type Model interface {
	Send(ctx context.Context, system string, history []llm.ChatMessage) (agent.Reply, error)
}

// Workspace stores generated files and their snapshots.
type Workspace interface {
	Reset() ([]string, error)
	Write(filename, code string, iteration int, phase, runID string) (workspace.Snapshot, error)
	RunDir(runID string) string
}

// Harness runs the project's tests.
type Harness interface {
	Run(ctx context.Context) (harness.Result, error)
}

// Options wires an Orchestrator.
type Options struct {
	Model         Model
	Workspace     Workspace
	Harness       Harness
	MaxIterations int
	Reporter      Reporter
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	// MetricsFile, when set, receives a Prometheus textfile inside the run directory.
	MetricsFile string
	Now         func() time.Time
}

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeFailed    Outcome = "failed"
)

// Result summarises a finished session.
type Result struct {
	Outcome        Outcome
	SessionID      string
	RunID          string
	Task           string
	Iterations     int
	Phase          Phase
	InputTokens    int
	OutputTokens   int
	Snapshots      []workspace.Snapshot
	History        []llm.ChatMessage
	LastTestOutput string
	Elapsed        time.Duration
}

// Err maps an exhausted session to ErrSessionExhausted and anything else to nil.
func (r Result) Err() error {
	if r.Outcome == OutcomeExhausted {
		return ErrSessionExhausted
	}
	return nil
}

// Orchestrator drives one red/green session at a time.
type Orchestrator struct {
	model         Model
	workspace     Workspace
	harness       Harness
	maxIterations int
	reporter      Reporter
	logger        *zap.Logger
	metrics       *observability.Metrics
	metricsFile   string
	now           func() time.Time
}

// New validates options and builds an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Model == nil {
		return nil, errors.New("model is required")
	}
	if opts.Workspace == nil {
		return nil, errors.New("workspace is required")
	}
	if opts.Harness == nil {
		return nil, errors.New("harness is required")
	}
	o := &Orchestrator{
		model:         opts.Model,
		workspace:     opts.Workspace,
		harness:       opts.Harness,
		maxIterations: opts.MaxIterations,
		reporter:      opts.Reporter,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		metricsFile:   opts.MetricsFile,
		now:           opts.Now,
	}
	if o.maxIterations <= 0 {
		o.maxIterations = DefaultMaxIterations
	}
	if o.reporter == nil {
		o.reporter = nopReporter{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Run executes a session for task until the model declares done, the
// iteration cap is reached, or a fatal error occurs. Exhaustion is reported
// through Result.Outcome, not as an error.
func (o *Orchestrator) Run(ctx context.Context, task string) (Result, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return Result{}, errors.New("task is required")
	}

	state := NewState(task, o.now())
	log := o.logger.With(zap.String("session", state.SessionID), zap.String("run_id", state.RunID))
	res := Result{SessionID: state.SessionID, RunID: state.RunID, Task: task}

	removed, err := o.workspace.Reset()
	if err != nil {
		return o.finish(log, state, res, OutcomeFailed, fmt.Errorf("reset workspace: %w", err))
	}
	log.Info("session started", zap.String("task", task), zap.Strings("removed", removed), zap.Int("max_iterations", o.maxIterations))
	o.emit(state, Event{Type: EventSessionStart, Task: task, Removed: removed})

	var stem string
	for state.Iteration < o.maxIterations {
		if err := ctx.Err(); err != nil {
			return o.finish(log, state, res, OutcomeFailed, err)
		}
		state.Iteration++
		ilog := log.With(zap.Int("iteration", state.Iteration), zap.String("phase", string(state.Phase)))
		o.metrics.RecordIteration(string(state.Phase))
		o.emit(state, Event{Type: EventIterationStart})

		o.emit(state, Event{Type: EventModelCall})
		callStart := o.now()
		reply, err := o.model.Send(ctx, SystemPrompt, state.History)
		if err != nil {
			return o.finish(log, state, res, OutcomeFailed, fmt.Errorf("iteration %d: model call: %w", state.Iteration, err))
		}
		state.addUsage(reply.Usage)
		o.metrics.RecordTokens(reply.Usage.PromptTokens, reply.Usage.CompletionTokens)
		o.emit(state, Event{
			Type:     EventModelReply,
			Model:    reply.Model,
			Usage:    reply.Usage,
			Thinking: reply.Thinking,
			Duration: o.now().Sub(callStart),
		})

		turn, err := Extract(reply.Content)
		if err != nil {
			o.metrics.RecordExtractionFailure()
			ilog.Warn("rejected model reply", zap.Error(err), zap.Int("raw_bytes", len(reply.Content)))
			state.appendAssistant(reply.Content)
			state.appendUser(retryInstruction)
			o.emit(state, Event{Type: EventRejected, Raw: reply.Content, Err: err})
			continue
		}
		state.appendAssistant(reply.Content)
		o.emit(state, Event{Type: EventTurn, Reasoning: turn.Reasoning, Filename: turn.Filename})

		if s := fileStem(turn.Filename); stem == "" {
			stem = s
		} else if s != stem {
			ilog.Warn("model switched file pair", zap.String("was", stem), zap.String("now", s))
			stem = s
		}

		snap, err := o.workspace.Write(turn.Filename, turn.Code, state.Iteration, string(state.Phase), state.RunID)
		if err != nil {
			return o.finish(log, state, res, OutcomeFailed, fmt.Errorf("iteration %d: %w", state.Iteration, err))
		}
		res.Snapshots = append(res.Snapshots, snap)
		o.emit(state, Event{Type: EventWrite, Filename: turn.Filename, Code: turn.Code, Snapshot: snap})

		if turn.Phase == PhaseDone {
			state.Phase = PhaseDone
			ilog.Info("model declared done")
			o.emit(state, Event{Type: EventDone, Reasoning: turn.Reasoning})
			return o.finish(log, state, res, OutcomeCompleted, nil)
		}

		o.emit(state, Event{Type: EventTestStart})
		run, err := o.harness.Run(ctx)
		if err != nil {
			return o.finish(log, state, res, OutcomeFailed, fmt.Errorf("iteration %d: run tests: %w", state.Iteration, err))
		}
		state.LastTestOutput = run.Output
		summary := run.Summary()
		o.metrics.RecordTestRun(run.Passed, run.Duration)
		o.emit(state, Event{Type: EventTestResult, Test: run, Summary: summary})

		tr, err := Next(state.Phase, run.Passed, run.Output)
		if err != nil {
			return o.finish(log, state, res, OutcomeFailed, err)
		}
		o.metrics.RecordTransition(string(tr.From), string(tr.Next), string(tr.Verdict))
		if tr.Err != nil {
			ilog.Info("recoverable verdict", zap.String("verdict", string(tr.Verdict)), zap.Error(tr.Err))
		} else {
			ilog.Debug("phase transition", zap.String("verdict", string(tr.Verdict)), zap.String("next", string(tr.Next)))
		}
		state.Phase = tr.Next
		state.appendUser(tr.Instruction)
		o.emit(state, Event{Type: EventTransition, Transition: tr})
	}

	log.Warn("iteration cap reached", zap.Error(ErrSessionExhausted))
	return o.finish(log, state, res, OutcomeExhausted, nil)
}

func (o *Orchestrator) finish(log *zap.Logger, state *State, res Result, outcome Outcome, runErr error) (Result, error) {
	res.Outcome = outcome
	res.Iterations = state.Iteration
	res.Phase = state.Phase
	res.InputTokens = state.TotalInputTokens
	res.OutputTokens = state.TotalOutputTokens
	res.History = state.History
	res.LastTestOutput = state.LastTestOutput
	res.Elapsed = o.now().Sub(state.StartedAt)

	o.metrics.RecordSession(string(outcome), res.Elapsed)
	if o.metricsFile != "" && o.metrics != nil {
		path := filepath.Join(o.workspace.RunDir(state.RunID), o.metricsFile)
		if err := o.metrics.WriteTextfile(path); err != nil {
			log.Warn("write metrics textfile", zap.String("path", path), zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("outcome", string(outcome)),
		zap.Int("iterations", res.Iterations),
		zap.Int("snapshots", len(res.Snapshots)),
		zap.Duration("elapsed", res.Elapsed),
	}
	if runErr != nil {
		log.Error("session failed", append(fields, zap.Error(runErr))...)
	} else {
		log.Info("session finished", fields...)
	}

	o.emit(state, Event{Type: EventSessionEnd, Err: runErr, Result: &res})
	return res, runErr
}

func (o *Orchestrator) emit(state *State, e Event) {
	e.SessionID = state.SessionID
	e.RunID = state.RunID
	e.Iteration = state.Iteration
	e.Phase = state.Phase
	o.reporter.Report(e)
}

// fileStem maps add.ts and add.test.ts to the same pair name.
func fileStem(filename string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	return strings.TrimSuffix(base, ".test")
}
