package tdd

import (
	"errors"

	"github.com/tausani-ah-chong/tdd-agent/internal/agent"
	"github.com/tausani-ah-chong/tdd-agent/internal/harness"
	"github.com/tausani-ah-chong/tdd-agent/internal/workspace"
)

var (
	// ErrExtractionFailed means a model reply held no usable structured turn.
	// The loop recovers by asking the model to answer again.
	ErrExtractionFailed = errors.New("no structured turn in model response")
	// ErrNonRedTest marks a write_test turn whose test passed immediately.
	ErrNonRedTest = errors.New("new test passed without an implementation")
	// ErrStillFailing marks a write_impl turn that left the tests red.
	ErrStillFailing = errors.New("tests still failing after implementation")
	// ErrSessionExhausted reports an iteration cap reached without a done signal.
	ErrSessionExhausted = errors.New("iteration cap reached without done")

	// Fatal conditions surfaced from collaborators.
	ErrWorkspaceIO        = workspace.ErrIO
	ErrHarnessUnavailable = harness.ErrUnavailable
	ErrModelUnavailable   = agent.ErrModelUnavailable
)
