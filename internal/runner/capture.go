package runner

import (
	"bytes"
	"sync"
)

// maxLineBytes bounds the pending partial line kept for streaming callbacks.
const maxLineBytes = 64 << 10

// capture is an io.Writer that keeps up to max bytes and forwards complete
// lines to an optional callback.
type capture struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
	onLine    func(string)
	pending   []byte
}

func newCapture(max int, onLine func(string)) *capture {
	return &capture{max: max, onLine: onLine}
}

func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if room := c.max - c.buf.Len(); room > 0 {
		if len(p) <= room {
			c.buf.Write(p)
		} else {
			c.buf.Write(p[:room])
			c.truncated = true
		}
	} else if len(p) > 0 {
		c.truncated = true
	}

	if c.onLine != nil {
		c.pending = append(c.pending, p...)
		for {
			i := bytes.IndexByte(c.pending, '\n')
			if i < 0 {
				break
			}
			c.onLine(string(bytes.TrimRight(c.pending[:i], "\r")))
			c.pending = c.pending[i+1:]
		}
		if len(c.pending) > maxLineBytes {
			c.onLine(string(c.pending))
			c.pending = nil
		}
	}
	// Always report the full length so the child never sees a short write.
	return len(p), nil
}

// flush emits a trailing line that had no newline.
func (c *capture) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.onLine != nil && len(c.pending) > 0 {
		c.onLine(string(c.pending))
		c.pending = nil
	}
}

func (c *capture) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.buf.Bytes())
}
