package transcript

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 80 * time.Millisecond

// spinner redraws one status line until stopped. When animate is false it
// only prints the final line.
type spinner struct {
	out     io.Writer
	mu      *sync.Mutex
	p       palette
	label   string
	animate bool
	start   time.Time

	stop chan struct{}
	done chan struct{}
}

func startSpinner(out io.Writer, mu *sync.Mutex, p palette, label string, animate bool) *spinner {
	s := &spinner{
		out:     out,
		mu:      mu,
		p:       p,
		label:   label,
		animate: animate,
		start:   time.Now(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if !animate {
		close(s.done)
		return s
	}
	go s.loop()
	return s
}

func (s *spinner) loop() {
	defer close(s.done)
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()
	for i := 0; ; i++ {
		s.mu.Lock()
		fmt.Fprintf(s.out, "\r  %s %s %s", s.p.cyan.Sprint(spinnerFrames[i%len(spinnerFrames)]), s.label, s.p.dim.Sprint(s.elapsed()))
		s.mu.Unlock()
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

// finish stops the animation and prints the settled line. Callers must not hold mu.
func (s *spinner) finish() {
	if s.animate {
		close(s.stop)
	}
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := ""
	if s.animate {
		prefix = "\r"
	}
	fmt.Fprintf(s.out, "%s  %s %s %s\n", prefix, s.p.gray.Sprint("✓"), s.label, s.p.dim.Sprint(s.elapsed()))
}

func (s *spinner) elapsed() string {
	return fmt.Sprintf("(%.1fs)", time.Since(s.start).Seconds())
}
