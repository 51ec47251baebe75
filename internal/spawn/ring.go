package spawn

import (
	"bytes"
	"strings"
	"sync"
)

// outputRing keeps the most recent lines a sidecar wrote to stdout/stderr.
// It implements io.Writer so it can be wired directly into exec.Cmd.
type outputRing struct {
	mu      sync.Mutex
	lines   []string
	max     int
	partial bytes.Buffer
}

func newOutputRing(max int) *outputRing {
	return &outputRing{max: max}
}

func (r *outputRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.partial.Write(p)
	for {
		line, err := r.partial.ReadString('\n')
		if err != nil {
			r.partial.Reset()
			r.partial.WriteString(line)
			break
		}
		r.lines = append(r.lines, strings.TrimRight(line, "\n"))
		if len(r.lines) > r.max {
			r.lines = r.lines[len(r.lines)-r.max:]
		}
	}
	return len(p), nil
}

// Tail returns up to n of the most recent lines, oldest first.
func (r *outputRing) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || len(r.lines) == 0 {
		return nil
	}
	start := 0
	if len(r.lines) > n {
		start = len(r.lines) - n
	}
	out := make([]string, len(r.lines)-start)
	copy(out, r.lines[start:])
	return out
}
