package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable reports that the test command could not be started at all.
var ErrUnavailable = errors.New("test harness unavailable")

const (
	defaultTimeout = 5 * time.Minute
	// waitDelay bounds how long Run waits for output pipes after the process group is killed.
	waitDelay = 2 * time.Second
)

// Exit statuses a POSIX shell uses when the program cannot be found or executed.
const (
	exitNotExecutable = 126
	exitNotFound      = 127
)

// Invoker runs the project's test command in the working directory. Command
// is a shell command line, so quoting, pipes and && behave as in a terminal.
type Invoker struct {
	Command    string
	WorkingDir string
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Result is the outcome of one test run. A non-zero exit is a failing result, not an error.
type Result struct {
	Passed   bool
	Output   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Run executes the command synchronously and captures stdout and stderr in one stream.
func (i *Invoker) Run(ctx context.Context) (Result, error) {
	if strings.TrimSpace(i.Command) == "" {
		return Result{}, fmt.Errorf("%w: test command is empty", ErrUnavailable)
	}

	timeout := i.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := shellCommand(runCtx, i.Command)
	cmd.WaitDelay = waitDelay
	if i.WorkingDir != "" {
		cmd.Dir = i.WorkingDir
	}
	var out lockedBuffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Output:   out.String(),
		Duration: time.Since(start),
	}

	switch {
	case err == nil:
		res.Passed = true
		return res, nil
	case ctx.Err() != nil:
		return res, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.ExitCode = -1
		res.Output += fmt.Sprintf("\n[test command timed out after %s]\n", timeout)
		i.logger().Warn("test command timed out", zap.String("command", i.Command), zap.Duration("timeout", timeout))
		return res, nil
	case errors.Is(err, exec.ErrWaitDelay):
		// the command exited but a leftover child held the output open
		res.Passed = cmd.ProcessState.Success()
		res.ExitCode = cmd.ProcessState.ExitCode()
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode == exitNotFound || res.ExitCode == exitNotExecutable {
			return res, fmt.Errorf("%w: %s: exit status %d: %s", ErrUnavailable, Program(i.Command), res.ExitCode, strings.TrimSpace(res.Output))
		}
		return res, nil
	}
	return res, fmt.Errorf("%w: %s: %w", ErrUnavailable, Program(i.Command), err)
}

// Program returns the first word of a command line, the binary a shell would look up.
func Program(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func (i *Invoker) logger() *zap.Logger {
	if i.Logger == nil {
		return zap.NewNop()
	}
	return i.Logger
}

// lockedBuffer keeps interleaved writes from stdout and stderr intact.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
