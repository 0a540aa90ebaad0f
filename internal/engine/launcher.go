package engine

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSettleDelay is how long a launch waits after spawning so that a
// worker dying on startup fails the launch instead of only being logged.
const DefaultSettleDelay = 50 * time.Millisecond

// LauncherConfig holds where the worker binaries live and what address they
// bind to.
type LauncherConfig struct {
	BindAddress string
	SplitterDir string
	MonitorDir  string
	SettleDelay time.Duration
}

// LauncherOption configures a Launcher
type LauncherOption func(*Launcher)

// WithPortAllocator replaces the OS ephemeral port allocator.
func WithPortAllocator(p PortAllocator) LauncherOption {
	return func(l *Launcher) {
		l.ports = p
	}
}

// WithLogSinks replaces the per-run log files.
func WithLogSinks(s LogSinks) LauncherOption {
	return func(l *Launcher) {
		l.sinks = s
	}
}

// Launcher spawns single splitter and monitor processes.
type Launcher struct {
	cfg   LauncherConfig
	ports PortAllocator
	sinks LogSinks
}

func NewLauncher(cfg LauncherConfig, opts ...LauncherOption) *Launcher {
	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1"
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}

	l := &Launcher{
		cfg:   cfg,
		ports: TCPPortAllocator{BindAddress: cfg.BindAddress},
		sinks: NewFileSinks(os.TempDir()),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LaunchSplitter starts the splitter for ch. The source port comes from the
// channel; for smart source channels without one, a port is allocated for
// the source to connect to.
func (l *Launcher) LaunchSplitter(ch Channel) (*Worker, error) {
	port, err := l.resolvePort(ch.SplitterPort)
	if err != nil {
		return nil, err
	}

	sourceAddress, sourcePort := ch.SourceAddress, ch.SourcePort
	feedPort := 0
	if ch.IsSmartSourceClient {
		if sourceAddress == "" {
			sourceAddress = l.cfg.BindAddress
		}
		if !ValidPort(sourcePort) {
			if sourcePort, err = l.ports.Allocate(); err != nil {
				return nil, err
			}
		}
		feedPort = sourcePort
	}

	args := SplitterArgs(sourceAddress, sourcePort, port, ch.Name, ch.HeaderSize, ch.IsSmartSourceClient)
	w := newWorker(KindSplitter, ch.URL, port, l.address(port))
	w.SourcePort = feedPort
	w.stderr = NewTail(DefaultTailSize)

	if err := l.spawn(w, l.cfg.SplitterDir, args); err != nil {
		return nil, err
	}
	return w, nil
}

// LaunchMonitor starts the monitor for ch, pointed at the splitter listening
// on splitterPort.
func (l *Launcher) LaunchMonitor(ch Channel, splitterPort int) (*Worker, error) {
	port, err := l.resolvePort(ch.MonitorPort)
	if err != nil {
		return nil, err
	}

	args := MonitorArgs(l.cfg.BindAddress, splitterPort, port, ch.IsSmartSourceClient)
	w := newWorker(KindMonitor, ch.URL, port, l.address(port))

	if err := l.spawn(w, l.cfg.MonitorDir, args); err != nil {
		return nil, err
	}
	return w, nil
}

func (l *Launcher) resolvePort(explicit int) (int, error) {
	if ValidPort(explicit) {
		return explicit, nil
	}
	return l.ports.Allocate()
}

func (l *Launcher) address(port int) string {
	return net.JoinHostPort(l.cfg.BindAddress, strconv.Itoa(port))
}

func (l *Launcher) spawn(w *Worker, dir string, args []string) error {
	sink, logPath, err := l.sinks.Open(w.ChannelURL, w.Kind)
	if err != nil {
		return spawnError(w.Kind, w.ChannelURL, "open log sink", err)
	}
	w.LogPath = logPath

	// absolute, so exec neither searches PATH nor resolves against cmd.Dir twice
	bin, err := filepath.Abs(filepath.Join(dir, string(w.Kind)))
	if err != nil {
		sink.Close()
		return spawnError(w.Kind, w.ChannelURL, "resolve binary path", err)
	}

	cmd := exec.Command(bin, args...)
	cmd.Dir = filepath.Dir(bin)
	cmd.Stdout = sink
	if w.stderr != nil {
		cmd.Stderr = io.MultiWriter(sink, w.stderr)
	} else {
		cmd.Stderr = sink
	}

	if err := cmd.Start(); err != nil {
		sink.Close()
		return spawnError(w.Kind, w.ChannelURL, "start "+string(w.Kind), err)
	}

	w.proc = cmd.Process
	w.pid = cmd.Process.Pid
	go w.reap(cmd, sink.Close)

	log.Info().
		Str("channel", w.ChannelURL).
		Str("kind", string(w.Kind)).
		Int("pid", w.pid).
		Str("address", w.Address).
		Str("log", logPath).
		Strs("args", args).
		Msg("worker spawned")

	select {
	case <-w.Done():
		msg := fmt.Sprintf("%s exited during startup with code %d", w.Kind, w.exitCode)
		if tail := w.Stderr(); tail != "" {
			msg += ": " + tail
		}
		return spawnError(w.Kind, w.ChannelURL, msg, w.exitErr)
	case <-time.After(l.cfg.SettleDelay):
	}
	return nil
}
