package transcript

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/tausani-ah-chong/tdd-agent/internal/tdd"
)

const (
	previewLines    = 4
	thinkingExcerpt = 120
	rawExcerpt      = 200
)

// Options tune a Renderer.
type Options struct {
	// Color enables ANSI styling.
	Color bool
	// Animate redraws spinners in place; only sensible on a terminal.
	Animate bool
	// PreviewErrors caps the error lines shown for a failing run.
	PreviewErrors int
	// BaseDir makes snapshot paths relative for display when set.
	BaseDir string
}

// Renderer prints a human-readable transcript of a session. It implements tdd.Reporter.
type Renderer struct {
	out  io.Writer
	opts Options
	p    palette

	mu      sync.Mutex
	spin    *spinner
	started time.Time
}

// New builds a renderer writing to out.
func New(out io.Writer, opts Options) *Renderer {
	if opts.PreviewErrors <= 0 {
		opts.PreviewErrors = 5
	}
	return &Renderer{out: out, opts: opts, p: newPalette(opts.Color)}
}

// ForFile builds a renderer that styles and animates only when f is a terminal.
func ForFile(f *os.File, previewErrors int) *Renderer {
	tty := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	base, _ := os.Getwd()
	return New(f, Options{
		Color:         tty && !color.NoColor,
		Animate:       tty,
		PreviewErrors: previewErrors,
		BaseDir:       base,
	})
}

// Report renders one event.
func (r *Renderer) Report(e tdd.Event) {
	switch e.Type {
	case tdd.EventSessionStart:
		r.started = time.Now()
		r.header(e)
	case tdd.EventIterationStart:
		r.printf("%s  %s\n", r.phaseLabel(e.Phase), r.p.dim.Sprintf("iteration %d", e.Iteration))
	case tdd.EventModelCall:
		r.startSpinner("Calling model…")
	case tdd.EventModelReply:
		r.stopSpinner()
		r.modelReply(e)
	case tdd.EventRejected:
		r.rejected(e)
	case tdd.EventTurn:
		if e.Reasoning != "" {
			r.printf("  %s reasoning: %s\n", r.arrow(), r.p.dim.Sprint(e.Reasoning))
		}
	case tdd.EventWrite:
		r.write(e)
	case tdd.EventDone:
		r.printf("\n  %s Agent signalled done\n\n", r.p.green.Sprint("✓"))
	case tdd.EventTestStart:
		r.printf("\n")
		r.startSpinner("Running tests…")
	case tdd.EventTestResult:
		r.stopSpinner()
		r.testResult(e)
	case tdd.EventSessionEnd:
		r.stopSpinner()
		r.footer(e)
	}
}

func (r *Renderer) header(e tdd.Event) {
	line := strings.Repeat("─", min(utf8.RuneCountInString(e.Task)+10, 60))
	r.printf("\n%s\n", r.p.bold.Sprint("╭─ TDD Agent "+line+"╮"))
	r.printf("%s %s %s\n", r.p.bold.Sprint("│"), r.p.cyan.Sprint("Task:"), e.Task)
	r.printf("%s\n", r.p.bold.Sprint("╰"+strings.Repeat("─", utf8.RuneCountInString(line)+13)+"╯"))
	if len(e.Removed) > 0 {
		r.printf("%s\n", r.p.dim.Sprintf("  cleared %d file(s) from the previous run", len(e.Removed)))
	}
	r.printf("\n")
}

func (r *Renderer) modelReply(e tdd.Event) {
	r.printf("  %s tokens: %s\n", r.arrow(), r.p.dim.Sprintf("%s in · %s out",
		humanize.Comma(int64(e.Usage.PromptTokens)), humanize.Comma(int64(e.Usage.CompletionTokens))))
	if strings.TrimSpace(e.Thinking) != "" {
		r.printf("  %s thinking: %s\n", r.arrow(), r.p.dim.Sprintf("%q", excerpt(e.Thinking, thinkingExcerpt)+"…"))
	}
}

func (r *Renderer) rejected(e tdd.Event) {
	warn := r.p.yellow.Sprint("⚠")
	if strings.TrimSpace(e.Raw) == "" {
		r.printf("  %s Empty text block (thinking-only response), asking the model to output JSON\n", warn)
		return
	}
	r.printf("  %s Could not parse JSON, asking the model to retry\n", warn)
	r.printf("%s\n", r.p.dim.Sprint("  raw: "+truncate(strconv.Quote(e.Raw), rawExcerpt)))
}

func (r *Renderer) write(e tdd.Event) {
	lines := strings.Split(e.Code, "\n")
	r.printf("  %s Write(%s) %s\n", r.arrow(), r.p.cyan.Sprint(e.Filename), r.p.dim.Sprintf("%d lines", len(lines)))
	for _, l := range lines[:min(len(lines), previewLines)] {
		r.printf("      %s\n", r.p.dim.Sprint(l))
	}
	if len(lines) > previewLines {
		r.printf("%s\n", r.p.dim.Sprintf("      … %d more lines", len(lines)-previewLines))
	}
	r.printf("  %s Snapshot: %s\n", r.arrow(), r.p.dim.Sprint(r.displayPath(e.Snapshot.Path)))
}

func (r *Renderer) testResult(e tdd.Event) {
	s := e.Summary
	if e.Test.Passed {
		r.printf("  %s %s %s\n", r.p.green.Sprint("✓"), r.p.green.Sprint("PASS"), r.p.dim.Sprint(s.Line))
		if s.Passed > 0 {
			r.printf("  %s\n", r.p.dim.Sprint(plural(s.Passed, "test")+" passed"))
		}
	} else {
		r.printf("  %s %s %s\n", r.p.red.Sprint("✗"), r.p.red.Sprint("FAIL"), r.p.dim.Sprint(s.Line))
		if s.Failed > 0 {
			r.printf("  %s\n", r.p.dim.Sprint(plural(s.Failed, "test")+" failed"))
		}
		for _, l := range s.Errors[:min(len(s.Errors), r.opts.PreviewErrors)] {
			r.printf("    %s\n", r.p.dim.Sprint(l))
		}
		if e.Test.TimedOut {
			r.printf("    %s\n", r.p.yellow.Sprint("test command timed out"))
		}
	}
	r.printf("\n")
}

func (r *Renderer) footer(e tdd.Event) {
	res := e.Result
	if res == nil {
		return
	}
	var status string
	switch {
	case e.Err != nil:
		status = r.p.red.Sprint("✗ Failed: " + e.Err.Error())
	case res.Outcome == tdd.OutcomeCompleted:
		status = r.p.green.Sprint("✓ Red-Green cycle complete")
	default:
		status = r.p.yellow.Sprint("⚠ Did not complete")
	}

	line := strings.Repeat("─", 50)
	r.printf("%s\n", r.p.bold.Sprint("╭─ Done "+line+"╮"))
	r.printf("%s %s in %s %s\n", r.p.bold.Sprint("│"), status, plural(res.Iterations, "iteration"),
		r.p.dim.Sprintf("(%.1fs)", res.Elapsed.Seconds()))
	r.printf("%s %s\n", r.p.bold.Sprint("│"), r.p.dim.Sprintf("Tokens: %s in · %s out",
		humanize.Comma(int64(res.InputTokens)), humanize.Comma(int64(res.OutputTokens))))
	r.printf("%s\n\n", r.p.bold.Sprint("╰"+strings.Repeat("─", 58)+"╯"))
}

func (r *Renderer) phaseLabel(p tdd.Phase) string {
	switch p {
	case tdd.PhaseWriteTest:
		return r.p.red.Sprint("● write_test")
	case tdd.PhaseWriteImpl:
		return r.p.green.Sprint("● write_impl")
	}
	return r.p.cyan.Sprint("● " + string(p))
}

func (r *Renderer) arrow() string {
	return r.p.gray.Sprint("↳")
}

func (r *Renderer) displayPath(path string) string {
	if r.opts.BaseDir == "" || path == "" {
		return path
	}
	if rel, err := filepath.Rel(r.opts.BaseDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func (r *Renderer) startSpinner(label string) {
	r.stopSpinner()
	r.spin = startSpinner(r.out, &r.mu, r.p, label, r.opts.Animate)
}

func (r *Renderer) stopSpinner() {
	if r.spin == nil {
		return
	}
	r.spin.finish()
	r.spin = nil
}

func (r *Renderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// excerpt collapses newlines and keeps the first n runes.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(strings.ReplaceAll(s, "\n", " ")), " ")
	return truncate(s, n)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
