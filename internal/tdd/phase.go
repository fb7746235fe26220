package tdd

import "fmt"

// Phase is a stage of the red/green cycle.
type Phase string

const (
	PhaseWriteTest Phase = "write_test"
	PhaseWriteImpl Phase = "write_impl"
	PhaseDone      Phase = "done"
)

// ParsePhase accepts the wire spelling of a phase.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(s); p {
	case PhaseWriteTest, PhaseWriteImpl, PhaseDone:
		return p, nil
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Verdict classifies a test run against the phase that produced it.
type Verdict string

const (
	VerdictRed          Verdict = "red"
	VerdictNonRed       Verdict = "non_red"
	VerdictGreen        Verdict = "green"
	VerdictStillFailing Verdict = "still_failing"
)

// Transition is the loop's decision after a test run.
type Transition struct {
	From        Phase
	Next        Phase
	Verdict     Verdict
	Instruction string
	// Err carries ErrNonRedTest or ErrStillFailing for the recoverable verdicts.
	Err error
}

// Next applies the transition table. Done is only reached through a declared
// done turn, never from here.
func Next(current Phase, passed bool, output string) (Transition, error) {
	t := Transition{From: current}
	switch {
	case current == PhaseWriteTest && !passed:
		t.Next, t.Verdict, t.Instruction = PhaseWriteImpl, VerdictRed, redInstruction(output)
	case current == PhaseWriteTest && passed:
		t.Next, t.Verdict, t.Instruction, t.Err = PhaseWriteTest, VerdictNonRed, nonRedInstruction, ErrNonRedTest
	case current == PhaseWriteImpl && passed:
		t.Next, t.Verdict, t.Instruction = PhaseWriteTest, VerdictGreen, greenInstruction
	case current == PhaseWriteImpl && !passed:
		t.Next, t.Verdict, t.Instruction, t.Err = PhaseWriteImpl, VerdictStillFailing, stillFailingInstruction(output), ErrStillFailing
	default:
		return Transition{}, fmt.Errorf("no transition out of phase %q", current)
	}
	return t, nil
}
