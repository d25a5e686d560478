package worker

import (
	"sync"
)

// DefaultCaptureLimit bounds how much worker output a Result retains.
const DefaultCaptureLimit = 256 * 1024

// tailBuffer keeps the last limit bytes written to it and counts the total.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
	total int64
}

func newTailBuffer(limit int) *tailBuffer {
	if limit <= 0 {
		limit = DefaultCaptureLimit
	}
	return &tailBuffer{limit: limit}
}

// WriteLine appends line and a trailing newline, dropping the oldest bytes
// once the limit is exceeded.
func (b *tailBuffer) WriteLine(line []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(line)) + 1
	b.buf = append(b.buf, line...)
	b.buf = append(b.buf, '\n')
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *tailBuffer) Total() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}
