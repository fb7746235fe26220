package tdd

import (
	"time"

	"github.com/tausani-ah-chong/tdd-agent/internal/harness"
	"github.com/tausani-ah-chong/tdd-agent/internal/llm"
	"github.com/tausani-ah-chong/tdd-agent/internal/workspace"
)

// EventType names a progress event emitted during a session.
type EventType string

const (
	EventSessionStart   EventType = "session_start"
	EventIterationStart EventType = "iteration"
	EventModelCall      EventType = "model_call"
	EventModelReply     EventType = "model_reply"
	EventRejected       EventType = "rejected"
	EventTurn           EventType = "turn"
	EventWrite          EventType = "write"
	EventDone           EventType = "done"
	EventTestStart      EventType = "test_start"
	EventTestResult     EventType = "test_result"
	EventTransition     EventType = "transition"
	EventSessionEnd     EventType = "session_end"
)

// Event is a progress notification. Only the fields relevant to Type are set.
type Event struct {
	Type      EventType
	SessionID string
	RunID     string
	Iteration int
	Phase     Phase

	Task    string
	Removed []string

	Model    string
	Usage    llm.Usage
	Thinking string
	Duration time.Duration

	Raw string
	Err error

	Reasoning string
	Filename  string
	Code      string
	Snapshot  workspace.Snapshot

	Test    harness.Result
	Summary harness.Summary

	Transition Transition
	Result     *Result
}

// Reporter receives events synchronously from the session loop.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Event)

func (f ReporterFunc) Report(e Event) { f(e) }

type nopReporter struct{}

func (nopReporter) Report(Event) {}
