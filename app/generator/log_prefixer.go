package generator

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sync"
)

const prefixMaxLen = 24
const prefixCutSuffix = "..."

// LogPrefixer implements io.Writer and adds {name} prefix to each output line.
// Thread safe, stdout and stderr of the process write to the same prefixer.
type LogPrefixer struct {
	writer io.Writer
	prefix []byte
	mu     sync.Mutex
}

// NewLogPrefixer makes prefixer for the schema name
func NewLogPrefixer(writer io.Writer, name string) *LogPrefixer {
	return &LogPrefixer{writer: writer, prefix: prefixFor(name)}
}

func (p *LogPrefixer) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	reader := bufio.NewReader(bytes.NewReader(data))
	var written int
	for {
		line, err := reader.ReadBytes('\n')
		// line can have data even with io.EOF
		if err != nil && err != io.EOF {
			return written, err
		}
		if len(line) > 0 {
			if _, werr := p.writer.Write(p.prefix); werr != nil {
				return written, werr
			}
			n, werr := p.writer.Write(line)
			written += n
			if werr != nil {
				return written, werr
			}
		}
		if err == io.EOF {
			return written, nil
		}
	}
}

func prefixFor(name string) []byte {
	if len(name) > prefixMaxLen {
		name = name[:prefixMaxLen] + prefixCutSuffix
	}
	return []byte(fmt.Sprintf("{%s} ", name))
}
