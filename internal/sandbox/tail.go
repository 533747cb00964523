package sandbox

import (
	"bytes"
	"strings"
	"sync"
)

const maxPartialLine = 64 * 1024

// tailBuffer keeps the last limit bytes written and optionally splits the
// stream into lines. ffmpeg progress uses carriage returns, so both \r and \n
// end a line.
type tailBuffer struct {
	mu      sync.Mutex
	limit   int
	buf     []byte
	partial []byte
	onLine  func(string)
}

func newTailBuffer(limit int, onLine func(string)) *tailBuffer {
	return &tailBuffer{limit: limit, onLine: onLine}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		copy(t.buf, t.buf[over:])
		t.buf = t.buf[:t.limit]
	}
	if t.onLine != nil {
		t.split(p)
	}
	return len(p), nil
}

func (t *tailBuffer) split(p []byte) {
	for len(p) > 0 {
		idx := bytes.IndexAny(p, "\r\n")
		if idx < 0 {
			t.partial = append(t.partial, p...)
			if len(t.partial) > maxPartialLine {
				t.emit()
			}
			return
		}
		t.partial = append(t.partial, p[:idx]...)
		t.emit()
		p = p[idx+1:]
	}
}

func (t *tailBuffer) emit() {
	line := strings.TrimSpace(string(t.partial))
	t.partial = t.partial[:0]
	if line != "" {
		t.onLine(line)
	}
}

// Flush emits any trailing partial line.
func (t *tailBuffer) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.onLine != nil && len(t.partial) > 0 {
		t.emit()
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
