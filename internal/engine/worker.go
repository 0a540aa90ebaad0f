package engine

import (
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Kind names a worker binary.
type Kind string

const (
	KindSplitter Kind = "splitter"
	KindMonitor  Kind = "monitor"
)

// process is the part of *os.Process the supervisor needs.
type process interface {
	Signal(sig os.Signal) error
	Kill() error
}

// Worker is one running splitter or monitor.
type Worker struct {
	Kind       Kind
	ChannelURL string
	Port       int
	Address    string
	// SourcePort is the port a smart source connects to. Splitter only.
	SourcePort int
	LogPath    string
	StartedAt  time.Time

	proc     process
	pid      int
	stderr   *Tail
	done     chan struct{}
	exitOnce sync.Once
	exitCode int
	exitErr  error
}

func newWorker(kind Kind, url string, port int, address string) *Worker {
	return &Worker{
		Kind:       kind,
		ChannelURL: url,
		Port:       port,
		Address:    address,
		StartedAt:  time.Now(),
		done:       make(chan struct{}),
		exitCode:   -1,
	}
}

func (w *Worker) Pid() int {
	return w.pid
}

// Done is closed once the process has been reaped.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Exited reports whether the process has been reaped.
func (w *Worker) Exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// ExitCode is the process exit status, -1 if it was killed by a signal or
// has not exited yet. Only meaningful after Done is closed.
func (w *Worker) ExitCode() int {
	if !w.Exited() {
		return -1
	}
	return w.exitCode
}

// Stderr returns the last few KB the worker wrote to stderr, if captured.
func (w *Worker) Stderr() string {
	if w.stderr == nil {
		return ""
	}
	return w.stderr.String()
}

// Terminate asks the process to exit with SIGTERM.
func (w *Worker) Terminate() error {
	if w.Exited() {
		return nil
	}
	return w.proc.Signal(syscall.SIGTERM)
}

// Kill ends the process with SIGKILL.
func (w *Worker) Kill() error {
	if w.Exited() {
		return nil
	}
	return w.proc.Kill()
}

func (w *Worker) markExited(code int, err error) {
	w.exitOnce.Do(func() {
		w.exitCode = code
		w.exitErr = err
		close(w.done)
	})
}

// reap waits for cmd and closes the sink once the process is gone.
func (w *Worker) reap(cmd *exec.Cmd, closeSink func() error) {
	err := cmd.Wait()
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	closeSink()
	w.markExited(code, err)
}
