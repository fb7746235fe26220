package tdd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/tausani-ah-chong/tdd-agent/internal/agent"
	"github.com/tausani-ah-chong/tdd-agent/internal/config"
	"github.com/tausani-ah-chong/tdd-agent/internal/harness"
	"github.com/tausani-ah-chong/tdd-agent/internal/llm"
	llmmock "github.com/tausani-ah-chong/tdd-agent/internal/llm/mock"
	"github.com/tausani-ah-chong/tdd-agent/internal/observability"
	"github.com/tausani-ah-chong/tdd-agent/internal/workspace"
)

const helloTest = `import { describe, it, expect } from 'vitest'
import { templateRender } from './templateRender'

describe('templateRender', () => {
  it('replaces a single placeholder', () => {
    expect(templateRender('hello {{name}}', { name: 'world' })).toBe('hello world')
  })
})`

const helloImpl = `export function templateRender(template: string, vars: Record<string, string>): string {
  return template.replace('{{name}}', vars.name)
}`

const redOutput = ` FAIL  templateRender.test.ts > templateRender > replaces a single placeholder
TypeError: templateRender is not a function
      Tests  1 failed (1)`

const greenOutput = ` ✓ templateRender.test.ts  (1 test) 2ms
      Tests  1 passed (1)`

type scriptedModel struct {
	replies   []agent.Reply
	err       error
	histories [][]llm.ChatMessage
	systems   []string
}

func (m *scriptedModel) Send(ctx context.Context, system string, history []llm.ChatMessage) (agent.Reply, error) {
	m.systems = append(m.systems, system)
	m.histories = append(m.histories, append([]llm.ChatMessage(nil), history...))
	if m.err != nil {
		return agent.Reply{}, m.err
	}
	idx := len(m.histories) - 1
	if idx >= len(m.replies) {
		idx = len(m.replies) - 1
	}
	return m.replies[idx], nil
}

type scriptedHarness struct {
	results []harness.Result
	err     error
	calls   int
}

func (h *scriptedHarness) Run(ctx context.Context) (harness.Result, error) {
	h.calls++
	if h.err != nil {
		return harness.Result{}, h.err
	}
	idx := h.calls - 1
	if idx >= len(h.results) {
		idx = len(h.results) - 1
	}
	return h.results[idx], nil
}

func turnReply(t *testing.T, phase Phase, filename, code, reasoning string) agent.Reply {
	t.Helper()
	data, err := json.Marshal(Turn{Phase: phase, Filename: filename, Code: code, Reasoning: reasoning})
	require.NoError(t, err)
	return agent.Reply{
		Content: string(data),
		Usage:   llm.Usage{PromptTokens: 100, CompletionTokens: 20},
		Model:   "coder",
	}
}

func textReply(content string) agent.Reply {
	return agent.Reply{Content: content, Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 1}}
}

func newWorkspace(t *testing.T) *workspace.Manager {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), "history", ".ts")
	require.NoError(t, err)
	return ws
}

func newOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	if opts.Workspace == nil {
		opts.Workspace = newWorkspace(t)
	}
	o, err := New(opts)
	require.NoError(t, err)
	return o
}

func lastUser(history []llm.ChatMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleUser {
			return history[i].Content
		}
	}
	return ""
}

func TestMalformedRepliesAreRetried(t *testing.T) {
	model := &scriptedModel{replies: []agent.Reply{
		textReply("I think we should start with a simple test."),
		textReply("```json\n{\"phase\": \"write_test\", \n```"),
		turnReply(t, PhaseDone, "add.test.ts", "it('adds', () => {})", "done already"),
	}}
	h := &scriptedHarness{}
	o := newOrchestrator(t, Options{Model: model, Harness: h, MaxIterations: 10})

	res, err := o.Run(context.Background(), "Write add")
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, res.Outcome)
	require.Equal(t, 3, res.Iterations)
	require.Len(t, res.Snapshots, 1)
	require.Equal(t, "iteration-3-write_test-add.test.ts", res.Snapshots[0].Name)
	require.Zero(t, h.calls)

	// initial turn, then assistant+retry twice, then the accepted assistant turn
	require.Len(t, res.History, 6)
	require.Equal(t, retryInstruction, res.History[2].Content)
	require.Equal(t, retryInstruction, res.History[4].Content)
	require.Equal(t, PhaseDone, res.Phase)
}

func TestTurnWithoutCodeKeepsWorkingFile(t *testing.T) {
	impl := "export const add = (a: number, b: number) => a + b"
	model := &scriptedModel{replies: []agent.Reply{
		turnReply(t, PhaseWriteImpl, "add.ts", impl, "sum"),
		textReply(`{"phase":"done","filename":"add.ts","reasoning":"all cases covered"}`),
		turnReply(t, PhaseDone, "add.ts", impl, "all cases covered"),
	}}
	h := &scriptedHarness{results: []harness.Result{{Passed: true, Output: greenOutput}}}
	ws := newWorkspace(t)
	o := newOrchestrator(t, Options{Model: model, Harness: h, Workspace: ws})

	res, err := o.Run(context.Background(), "Write add")
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, res.Outcome)
	require.Equal(t, 3, res.Iterations)
	require.Len(t, res.Snapshots, 2)
	require.Equal(t, retryInstruction, model.histories[2][len(model.histories[2])-1].Content)

	working, err := os.ReadFile(filepath.Join(ws.Dir(), "add.ts"))
	require.NoError(t, err)
	require.Equal(t, impl, string(working))
}

func TestDoneSkipsTestRun(t *testing.T) {
	model := &scriptedModel{replies: []agent.Reply{
		turnReply(t, PhaseDone, "add.ts", "export const add = (a: number, b: number) => a + b", "covered"),
	}}
	h := &scriptedHarness{err: errors.New("must not run")}
	o := newOrchestrator(t, Options{Model: model, Harness: h})

	res, err := o.Run(context.Background(), "Write add")
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, res.Outcome)
	require.NoError(t, res.Err())
	require.Zero(t, h.calls)
	require.Equal(t, 1, res.Iterations)
}

func TestRedScenarioMovesToWriteImpl(t *testing.T) {
	model := &scriptedModel{replies: []agent.Reply{
		turnReply(t, PhaseWriteTest, "templateRender.test.ts", helloTest, "one placeholder"),
	}}
	h := &scriptedHarness{results: []harness.Result{{Passed: false, Output: redOutput, ExitCode: 1}}}
	ws := newWorkspace(t)
	o := newOrchestrator(t, Options{Model: model, Harness: h, Workspace: ws, MaxIterations: 1})

	res, err := o.Run(context.Background(), "Write a function called templateRender")
	require.NoError(t, err)
	require.Equal(t, OutcomeExhausted, res.Outcome)
	require.ErrorIs(t, res.Err(), ErrSessionExhausted)
	require.Equal(t, PhaseWriteImpl, res.Phase)
	require.Equal(t, redOutput, res.LastTestOutput)

	instruction := lastUser(res.History)
	require.Contains(t, instruction, "failing as expected")
	require.Contains(t, instruction, "TypeError: templateRender is not a function")

	working, err := os.ReadFile(filepath.Join(ws.Dir(), "templateRender.test.ts"))
	require.NoError(t, err)
	require.Equal(t, helloTest, string(working))
}

func TestGreenScenarioReturnsToWriteTest(t *testing.T) {
	model := &scriptedModel{replies: []agent.Reply{
		turnReply(t, PhaseWriteTest, "templateRender.test.ts", helloTest, "one placeholder"),
		turnReply(t, PhaseWriteImpl, "templateRender.ts", helloImpl, "fake it"),
	}}
	h := &scriptedHarness{results: []harness.Result{
		{Passed: false, Output: redOutput, ExitCode: 1},
		{Passed: true, Output: greenOutput},
	}}
	o := newOrchestrator(t, Options{Model: model, Harness: h, MaxIterations: 2})

	res, err := o.Run(context.Background(), "Write a function called templateRender")
	require.NoError(t, err)
	require.Equal(t, OutcomeExhausted, res.Outcome)
	require.Equal(t, PhaseWriteTest, res.Phase)
	require.Contains(t, lastUser(res.History), "Tests are green")

	require.Len(t, res.Snapshots, 2)
	require.Equal(t, "iteration-1-write_test-templateRender.test.ts", res.Snapshots[0].Name)
	require.Equal(t, "iteration-2-write_impl-templateRender.ts", res.Snapshots[1].Name)

	// the second call carried the full first exchange
	require.Len(t, model.histories[1], 3)
	require.Equal(t, SystemPrompt, model.systems[1])
}

func TestNonRedAndStillFailingStayInPhase(t *testing.T) {
	model := &scriptedModel{replies: []agent.Reply{
		turnReply(t, PhaseWriteTest, "add.test.ts", "it('trivial', () => expect(true).toBe(true))", "oops"),
		turnReply(t, PhaseWriteTest, "add.test.ts", "it('adds zeros', () => expect(add(0, 0)).toBe(0))", "real test"),
		turnReply(t, PhaseWriteImpl, "add.ts", "export const add = () => 1", "wrong"),
	}}
	h := &scriptedHarness{results: []harness.Result{
		{Passed: true, Output: "Tests  1 passed (1)"},
		{Passed: false, Output: "ReferenceError: add is not defined"},
		{Passed: false, Output: "expected 1 to be 0"},
	}}
	metrics := observability.NewMetrics()
	o := newOrchestrator(t, Options{Model: model, Harness: h, MaxIterations: 3, Metrics: metrics})

	res, err := o.Run(context.Background(), "Write add")
	require.NoError(t, err)
	require.Equal(t, PhaseWriteImpl, res.Phase)
	require.Contains(t, lastUser(res.History), "still failing")
	require.Contains(t, lastUser(res.History), "expected 1 to be 0")
	require.Contains(t, res.History[2].Content, "not a real failing test")

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("write_test", "write_test", "non_red")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("write_test", "write_impl", "red")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("write_impl", "write_impl", "still_failing")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Sessions.WithLabelValues("exhausted")))
}

func TestEmptyReplyIsRejectedWithoutWrite(t *testing.T) {
	model := &scriptedModel{replies: []agent.Reply{{Content: "", Thinking: "only thinking"}}}
	h := &scriptedHarness{}
	ws := newWorkspace(t)
	var rejected []Event
	o := newOrchestrator(t, Options{
		Model: model, Harness: h, Workspace: ws, MaxIterations: 1,
		Reporter: ReporterFunc(func(e Event) {
			if e.Type == EventRejected {
				rejected = append(rejected, e)
			}
		}),
	})

	res, err := o.Run(context.Background(), "Write add")
	require.NoError(t, err)
	require.Empty(t, res.Snapshots)
	require.Zero(t, h.calls)
	require.Equal(t, PhaseWriteTest, res.Phase)

	require.Len(t, rejected, 1)
	require.ErrorIs(t, rejected[0].Err, ErrExtractionFailed)

	// the empty assistant turn stays in history, followed by the retry request
	require.Len(t, res.History, 3)
	require.Equal(t, llm.RoleAssistant, res.History[1].Role)
	require.Empty(t, res.History[1].Content)
	require.Equal(t, retryInstruction, res.History[2].Content)

	entries, err := os.ReadDir(ws.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		require.True(t, e.IsDir(), e.Name())
	}
}

func TestIterationCapIsHonoured(t *testing.T) {
	model := &scriptedModel{replies: []agent.Reply{textReply("not json")}}
	o := newOrchestrator(t, Options{Model: model, Harness: &scriptedHarness{}, MaxIterations: 7})

	res, err := o.Run(context.Background(), "Write add")
	require.NoError(t, err)
	require.Equal(t, OutcomeExhausted, res.Outcome)
	require.Equal(t, 7, res.Iterations)
	require.Len(t, model.histories, 7)
	require.Equal(t, 70, res.InputTokens)
	require.Equal(t, 7, res.OutputTokens)
}

func TestSnapshotUsesCurrentPhase(t *testing.T) {
	// the model claims write_impl while the session is still in write_test
	model := &scriptedModel{replies: []agent.Reply{
		turnReply(t, PhaseWriteImpl, "add.ts", "export const add = () => 0", "jumping ahead"),
	}}
	h := &scriptedHarness{results: []harness.Result{{Passed: false, Output: "no tests found"}}}
	o := newOrchestrator(t, Options{Model: model, Harness: h, MaxIterations: 1})

	res, err := o.Run(context.Background(), "Write add")
	require.NoError(t, err)
	require.Equal(t, "iteration-1-write_test-add.ts", res.Snapshots[0].Name)
	require.Equal(t, PhaseWriteImpl, res.Phase)
}

func TestSnapshotsRoundTrip(t *testing.T) {
	model := &scriptedModel{replies: []agent.Reply{
		turnReply(t, PhaseWriteTest, "templateRender.test.ts", helloTest, "one placeholder"),
		turnReply(t, PhaseWriteImpl, "templateRender.ts", helloImpl, "fake it"),
	}}
	h := &scriptedHarness{results: []harness.Result{
		{Passed: false, Output: redOutput},
		{Passed: true, Output: greenOutput},
	}}
	ws := newWorkspace(t)
	o := newOrchestrator(t, Options{Model: model, Harness: h, Workspace: ws, MaxIterations: 2})

	res, err := o.Run(context.Background(), "Write templateRender")
	require.NoError(t, err)

	snaps, err := ws.Snapshots(res.RunID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	for i, want := range []string{helloTest, helloImpl} {
		got, err := ws.ReadSnapshot(snaps[i])
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestWorkspaceResetAtStart(t *testing.T) {
	ws := newWorkspace(t)
	stale := filepath.Join(ws.Dir(), "old.test.ts")
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o644))

	model := &scriptedModel{replies: []agent.Reply{turnReply(t, PhaseDone, "add.ts", "x", "")}}
	var removed []string
	o := newOrchestrator(t, Options{
		Model: model, Harness: &scriptedHarness{}, Workspace: ws,
		Reporter: ReporterFunc(func(e Event) {
			if e.Type == EventSessionStart {
				removed = e.Removed
			}
		}),
	})

	_, err := o.Run(context.Background(), "Write add")
	require.NoError(t, err)
	require.Equal(t, []string{"old.test.ts"}, removed)
	require.NoFileExists(t, stale)
}

func TestFatalErrors(t *testing.T) {
	t.Run("model", func(t *testing.T) {
		model := &scriptedModel{err: agent.ErrModelUnavailable}
		o := newOrchestrator(t, Options{Model: model, Harness: &scriptedHarness{}})
		res, err := o.Run(context.Background(), "Write add")
		require.ErrorIs(t, err, ErrModelUnavailable)
		require.Equal(t, OutcomeFailed, res.Outcome)
		require.Equal(t, 1, res.Iterations)
	})

	t.Run("harness", func(t *testing.T) {
		model := &scriptedModel{replies: []agent.Reply{turnReply(t, PhaseWriteTest, "add.test.ts", "x", "")}}
		h := &harness.Invoker{Command: "tdd-agent-missing-runner"}
		o := newOrchestrator(t, Options{Model: model, Harness: h})
		res, err := o.Run(context.Background(), "Write add")
		require.ErrorIs(t, err, ErrHarnessUnavailable)
		require.Equal(t, OutcomeFailed, res.Outcome)
		require.Len(t, res.Snapshots, 1)
	})

	t.Run("workspace", func(t *testing.T) {
		ws := newWorkspace(t)
		require.NoError(t, os.Mkdir(filepath.Join(ws.Dir(), "add.ts"), 0o755))
		model := &scriptedModel{replies: []agent.Reply{turnReply(t, PhaseWriteImpl, "add.ts", "x", "")}}
		o := newOrchestrator(t, Options{Model: model, Harness: &scriptedHarness{}, Workspace: ws})
		_, err := o.Run(context.Background(), "Write add")
		require.ErrorIs(t, err, ErrWorkspaceIO)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		o := newOrchestrator(t, Options{Model: &scriptedModel{}, Harness: &scriptedHarness{}})
		res, err := o.Run(ctx, "Write add")
		require.ErrorIs(t, err, context.Canceled)
		require.Zero(t, res.Iterations)
	})
}

func TestEventsAndMetricsFile(t *testing.T) {
	model := &scriptedModel{replies: []agent.Reply{
		textReply("{broken"),
		turnReply(t, PhaseWriteTest, "add.test.ts", "it('adds zeros')", "zeros"),
		turnReply(t, PhaseDone, "add.test.ts", "it('adds zeros')", "enough"),
	}}
	h := &scriptedHarness{results: []harness.Result{{Passed: false, Output: redOutput}}}
	ws := newWorkspace(t)
	var types []EventType
	var end *Result
	o := newOrchestrator(t, Options{
		Model: model, Harness: h, Workspace: ws,
		Metrics:     observability.NewMetrics(),
		MetricsFile: "metrics.prom",
		Reporter: ReporterFunc(func(e Event) {
			types = append(types, e.Type)
			if e.Type == EventSessionEnd {
				end = e.Result
			}
		}),
	})

	res, err := o.Run(context.Background(), "Write add")
	require.NoError(t, err)
	require.Equal(t, []EventType{
		EventSessionStart,
		EventIterationStart, EventModelCall, EventModelReply, EventRejected,
		EventIterationStart, EventModelCall, EventModelReply, EventTurn, EventWrite, EventTestStart, EventTestResult, EventTransition,
		EventIterationStart, EventModelCall, EventModelReply, EventTurn, EventWrite, EventDone,
		EventSessionEnd,
	}, types)
	require.NotNil(t, end)
	require.Equal(t, res.RunID, end.RunID)

	data, err := os.ReadFile(filepath.Join(ws.RunDir(res.RunID), "metrics.prom"))
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), "tdd_agent_extraction_failures_total 1"))
}

func TestRunWithRealAgent(t *testing.T) {
	reg := llm.NewRegistry()
	prov := &llmmock.Provider{Replies: []llm.ChatResponse{{
		Message:   llm.ChatMessage{Role: llm.RoleAssistant, Content: "```json\n{\"phase\":\"done\",\"filename\":\"add.ts\",\"code\":\"x\",\"reasoning\":\"r\"}\n```"},
		Reasoning: "short",
		Usage:     llm.Usage{PromptTokens: 5, CompletionTokens: 3},
	}}}
	reg.RegisterProvider("mock", prov)
	reg.RegisterModel("coder", llm.ModelRoute{Provider: "mock", Model: "m"}, true)
	a := agent.New(reg, config.StrategyConfig{}, config.LoopConfig{}, nil, nil)

	o := newOrchestrator(t, Options{
		Model:   a,
		Harness: &scriptedHarness{},
		Now:     func() time.Time { return time.Date(2026, 2, 20, 17, 55, 44, 763_000_000, time.UTC) },
	})
	res, err := o.Run(context.Background(), "Write add")
	require.NoError(t, err)
	require.Equal(t, "2026-02-20T17-55-44-763Z", res.RunID)
	require.Equal(t, 5, res.InputTokens)

	reqs := prov.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, SystemPrompt, reqs[0].Messages[0].Content)
	require.Contains(t, reqs[0].Messages[1].Content, "Task: Write add")
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	_, err = New(Options{Model: &scriptedModel{}})
	require.Error(t, err)
	_, err = New(Options{Model: &scriptedModel{}, Workspace: newWorkspace(t)})
	require.Error(t, err)

	o := newOrchestrator(t, Options{Model: &scriptedModel{}, Harness: &scriptedHarness{}})
	_, err = o.Run(context.Background(), "   ")
	require.Error(t, err)
}
