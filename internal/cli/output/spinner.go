package output

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner shows an animated progress indicator on interactive terminals.
// On non-TTY output it degrades to a single plain message line.
type Spinner struct {
	w       io.Writer
	msg     string
	styles  *Styles
	animate bool

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewSpinner creates a spinner writing to the renderer's output.
func (r *Renderer) NewSpinner(msg string) *Spinner {
	return &Spinner{
		w:       r.out,
		msg:     msg,
		styles:  r.styles,
		animate: r.isTTY,
	}
}

// Start begins the animation. Without a TTY it prints the message once.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	if !s.animate {
		_, _ = fmt.Fprintln(s.w, s.msg)
		return
	}

	s.done = make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		frame := 0
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.mu.Lock()
				if s.running {
					_, _ = fmt.Fprintf(s.w, "\r%s %s", s.styles.Info.Render(spinnerFrames[frame]), s.msg)
				}
				s.mu.Unlock()
				frame = (frame + 1) % len(spinnerFrames)
			}
		}
	}()
}

// Stop ends the animation and clears the spinner line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Spinner) stopLocked() {
	if !s.running {
		return
	}
	s.running = false
	if s.done != nil {
		close(s.done)
		s.done = nil
		_, _ = fmt.Fprintf(s.w, "\r%s\r", spaces(len(s.msg)+2))
	}
}

// Success stops the spinner and prints a checkmarked final message.
func (s *Spinner) Success(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	_, _ = fmt.Fprintf(s.w, "%s %s\n", s.styles.StatusSuccess.String(), msg)
}

// Fail stops the spinner and prints a failure message.
func (s *Spinner) Fail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	_, _ = fmt.Fprintf(s.w, "%s %s\n", s.styles.StatusFailed.String(), msg)
}

func spaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}
