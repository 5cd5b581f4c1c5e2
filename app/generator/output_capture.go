package generator

import (
	"bytes"
	"strings"
	"sync"
)

// OutputCapture collects the last N lines written by a child process.
// Thread safe, stdout and stderr of the same process can share it.
type OutputCapture struct {
	maxLogLines int
	log         []string
	partial     []byte
	mu          sync.Mutex
}

// NewOutputCapture creates io.Writer keeping up to maximum lines, 0 or negative keeps everything
func NewOutputCapture(maximum int) *OutputCapture {
	return &OutputCapture{maxLogLines: maximum}
}

// Write satisfies io.Writer. A line split between two writes is joined back
func (o *OutputCapture) Write(p []byte) (n int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data := append(o.partial, p...) //nolint:gocritic // partial is owned by capture
	o.partial = nil
	lines := bytes.Split(data, []byte("\n"))
	if last := lines[len(lines)-1]; len(last) > 0 {
		o.partial = append([]byte(nil), last...)
	}
	for _, line := range lines[:len(lines)-1] {
		o.add(line)
	}
	return len(p), nil
}

func (o *OutputCapture) add(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	if o.maxLogLines > 0 && len(o.log) >= o.maxLogLines {
		o.log = o.log[1:]
	}
	o.log = append(o.log, string(line))
}

// String returns captured lines, including the unterminated tail
func (o *OutputCapture) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.partial) > 0 {
		o.add(o.partial)
		o.partial = nil
	}
	return strings.Join(o.log, "\n")
}
