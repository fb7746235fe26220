package harness

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	fallbackLines = 8

	linePassed = "Tests passed"
	lineFailed = "Tests failed"
)

var (
	countsLineRe = regexp.MustCompile(`Tests\s+\d+`)
	passedRe     = regexp.MustCompile(`(\d+) passed`)
	failedRe     = regexp.MustCompile(`(\d+) failed`)
	errorPrefix  = regexp.MustCompile(`^(AssertionError|TypeError|Error|SyntaxError|ReferenceError):`)
	failMarker   = regexp.MustCompile(`^✗|^FAIL `)
	fileLineRe   = regexp.MustCompile(`FAIL|PASS`)
	sourceFileRe = regexp.MustCompile(`\.(ts|tsx|js|jsx|mjs|go|py)\b`)

	vitestCaseRe = regexp.MustCompile(`^(?:FAIL|×|✗)\s+(\S+\.\S+\s+>\s+.+?)(?:\s+\d+ms)?$`)
	goCaseRe     = regexp.MustCompile(`^--- FAIL: (\S+)`)
)

// Summary is a condensed view of raw test output for display.
type Summary struct {
	Passed       int
	Failed       int
	Errors       []string
	Line         string
	FailingTests []string
}

// Summarize extracts counts, key error lines and a one-line summary from test
// runner output. It never fails; unrecognised output yields zero counts.
func Summarize(raw string) Summary {
	lines := strings.Split(raw, "\n")

	var s Summary
	for _, l := range lines {
		if countsLineRe.MatchString(l) {
			s.Passed = firstInt(passedRe, l)
			s.Failed = firstInt(failedRe, l)
			break
		}
	}

	names := make([]string, 0, 4)
	for _, l := range lines {
		t := strings.TrimSpace(l)
		if isErrorLine(t) {
			s.Errors = append(s.Errors, t)
		}
		if m := vitestCaseRe.FindStringSubmatch(t); len(m) == 2 {
			names = append(names, m[1])
		} else if m := goCaseRe.FindStringSubmatch(t); len(m) == 2 {
			names = append(names, m[1])
		}
	}
	s.FailingTests = unique(names)

	if len(s.Errors) == 0 && s.Failed > 0 {
		s.Errors = tailRelevant(lines, fallbackLines)
	}

	for _, l := range lines {
		if fileLineRe.MatchString(l) && sourceFileRe.MatchString(l) {
			s.Line = strings.TrimSpace(l)
			break
		}
	}
	if s.Line == "" {
		if s.Failed > 0 {
			s.Line = lineFailed
		} else {
			s.Line = linePassed
		}
	}
	return s
}

// Summary summarizes the run's output, trusting the exit status over the
// generic line when the output names no test file.
func (r Result) Summary() Summary {
	s := Summarize(r.Output)
	if !r.Passed && s.Line == linePassed {
		s.Line = lineFailed
	}
	return s
}

func isErrorLine(l string) bool {
	switch {
	case errorPrefix.MatchString(l),
		strings.HasPrefix(l, "- Expected"),
		strings.HasPrefix(l, "+ Received"),
		strings.HasPrefix(l, "expected "),
		strings.Contains(l, "is not defined"),
		strings.Contains(l, "is not a function"),
		failMarker.MatchString(l):
		return true
	}
	return false
}

// tailRelevant keeps the last n lines that are not timing noise or stack frames.
func tailRelevant(lines []string, n int) []string {
	out := make([]string, 0, n)
	for _, l := range lines {
		t := strings.TrimSpace(l)
		if t == "" ||
			strings.Contains(l, "Duration") ||
			strings.Contains(l, "Start at") ||
			strings.Contains(l, "node_modules") ||
			strings.HasPrefix(t, "at ") {
			continue
		}
		out = append(out, t)
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func firstInt(re *regexp.Regexp, l string) int {
	m := re.FindStringSubmatch(l)
	if len(m) < 2 {
		return 0
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return v
}

func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
