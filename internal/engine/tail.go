package engine

import "sync"

// DefaultTailSize bounds how much splitter stderr is kept in memory.
const DefaultTailSize = 4 * 1024

// Tail keeps the last maxSize bytes written to it. The splitter's stderr is
// teed into one so a crash can be reported with its final output.
type Tail struct {
	mu      sync.Mutex
	buf     []byte
	maxSize int
}

func NewTail(maxSize int) *Tail {
	if maxSize <= 0 {
		maxSize = DefaultTailSize
	}
	return &Tail{
		buf:     make([]byte, 0, maxSize),
		maxSize: maxSize,
	}
}

// Write appends p, dropping the oldest bytes once over maxSize. It never fails.
func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.maxSize {
		t.buf = append(t.buf[:0], t.buf[len(t.buf)-t.maxSize:]...)
	}
	return len(p), nil
}

// String returns a snapshot of the buffered output.
func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
