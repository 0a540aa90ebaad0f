package engine

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LogSinks opens the append-only output sink of one worker run.
type LogSinks interface {
	// Open returns the sink and a name identifying it (a file path for
	// FileSinks) for log messages.
	Open(url string, kind Kind) (io.WriteCloser, string, error)
}

// FileSinks writes each worker run to its own file in Dir, named
// P2PSP-<kind>-<url>-<stamp>.log.
type FileSinks struct {
	Dir  string
	last atomic.Int64
}

func NewFileSinks(dir string) *FileSinks {
	return &FileSinks{Dir: dir}
}

func (s *FileSinks) Open(url string, kind Kind) (io.WriteCloser, string, error) {
	name := filepath.Join(s.Dir, fmt.Sprintf("P2PSP-%s-%s-%d.log", kind, safeName(url), s.stamp()))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("open worker log: %w", err)
	}
	return f, name, nil
}

// stamp returns milliseconds since the epoch, bumped when needed so that two
// launches of the same channel never share a file.
func (s *FileSinks) stamp() int64 {
	for {
		last := s.last.Load()
		next := time.Now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if s.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

func safeName(url string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, url)
}

// MemorySinks keeps worker output in memory. Used by tests.
type MemorySinks struct {
	mu    sync.Mutex
	sinks map[string][]*memorySink
}

func NewMemorySinks() *MemorySinks {
	return &MemorySinks{sinks: make(map[string][]*memorySink)}
}

func (m *MemorySinks) Open(url string, kind Kind) (io.WriteCloser, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := string(kind) + "/" + url
	sink := &memorySink{}
	m.sinks[key] = append(m.sinks[key], sink)
	return sink, fmt.Sprintf("memory://%s/%d", key, len(m.sinks[key])), nil
}

// Output returns what the most recent run of kind for url has written.
func (m *MemorySinks) Output(url string, kind Kind) string {
	m.mu.Lock()
	runs := m.sinks[string(kind)+"/"+url]
	m.mu.Unlock()

	if len(runs) == 0 {
		return ""
	}
	return runs[len(runs)-1].String()
}

// Opened reports how many sinks were opened in total.
func (m *MemorySinks) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, runs := range m.sinks {
		n += len(runs)
	}
	return n
}

type memorySink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (s *memorySink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, os.ErrClosed
	}
	return s.buf.Write(p)
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memorySink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
