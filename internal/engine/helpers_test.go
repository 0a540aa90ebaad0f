package engine

import (
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeProcess records the signals sent to a worker instead of delivering them.
type fakeProcess struct {
	mu      sync.Mutex
	signals []os.Signal
	// exitOnSignal makes the worker look reaped after the first signal.
	exitOnSignal bool
	w            *Worker
}

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	exit := p.exitOnSignal
	p.mu.Unlock()

	if exit {
		p.w.markExited(-1, nil)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

func (p *fakeProcess) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...)
}

func fakeWorker(kind Kind, url string, port int) (*Worker, *fakeProcess) {
	w := newWorker(kind, url, port, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	p := &fakeProcess{w: w}
	w.proc = p
	w.pid = port
	return w, p
}

// fakeSpawner hands out fake workers with sequential ports.
type fakeSpawner struct {
	mu          sync.Mutex
	nextPort    int
	splitterErr error
	monitorErr  error

	splitters map[string]*fakeProcess
	monitors  map[string]*fakeProcess
	workers   map[string][2]*Worker
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{
		nextPort:  40000,
		splitters: make(map[string]*fakeProcess),
		monitors:  make(map[string]*fakeProcess),
		workers:   make(map[string][2]*Worker),
	}
}

func (f *fakeSpawner) LaunchSplitter(ch Channel) (*Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.splitterErr != nil {
		return nil, f.splitterErr
	}
	f.nextPort++
	w, p := fakeWorker(KindSplitter, ch.URL, f.nextPort)
	f.splitters[ch.URL] = p
	pair := f.workers[ch.URL]
	pair[0] = w
	f.workers[ch.URL] = pair
	return w, nil
}

func (f *fakeSpawner) LaunchMonitor(ch Channel, splitterPort int) (*Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.monitorErr != nil {
		return nil, f.monitorErr
	}
	f.nextPort++
	w, p := fakeWorker(KindMonitor, ch.URL, f.nextPort)
	f.monitors[ch.URL] = p
	pair := f.workers[ch.URL]
	pair[1] = w
	f.workers[ch.URL] = pair
	return w, nil
}

func (f *fakeSpawner) splitter(url string) *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.splitters[url]
}

func (f *fakeSpawner) monitor(url string) *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.monitors[url]
}

// countingAllocator hands out sequential ports and counts calls.
type countingAllocator struct {
	next  atomic.Int64
	calls atomic.Int64
}

func newCountingAllocator(start int) *countingAllocator {
	a := &countingAllocator{}
	a.next.Store(int64(start))
	return a
}

func (a *countingAllocator) Allocate() (int, error) {
	a.calls.Add(1)
	return int(a.next.Add(1)), nil
}

// Scripts standing in for the worker binaries.
const (
	sleeperScript = "#!/bin/sh\necho \"args: $*\"\nexec sleep 30\n"
	crashScript   = "#!/bin/sh\necho \"boom\" >&2\nexit 3\n"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("worker scripts need /bin/sh")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("worker scripts need /bin/sh")
	}
}

// binDir writes the given worker scripts into a fresh directory.
func binDir(t *testing.T, scripts map[Kind]string) string {
	t.Helper()
	dir := t.TempDir()
	for kind, body := range scripts {
		path := filepath.Join(dir, string(kind))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	}
	return dir
}

// killOnCleanup makes sure no test leaves a sleeping worker behind.
func killOnCleanup(t *testing.T, workers ...*Worker) {
	t.Helper()
	t.Cleanup(func() {
		for _, w := range workers {
			if w != nil {
				w.Kill()
				<-w.Done()
			}
		}
	})
}
