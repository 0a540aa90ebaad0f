package engine

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Spawner starts individual workers. *Launcher is the production Spawner.
type Spawner interface {
	LaunchSplitter(ch Channel) (*Worker, error)
	LaunchMonitor(ch Channel, splitterPort int) (*Worker, error)
}

// ProcessPair is the splitter and monitor serving one channel.
type ProcessPair struct {
	Splitter  *Worker
	Monitor   *Worker
	StartedAt time.Time
}

// PairInfo is a read-only view of a running pair.
type PairInfo struct {
	URL             string    `json:"url"`
	SplitterPID     int       `json:"splitterPid"`
	SplitterAddress string    `json:"splitterAddress"`
	MonitorPID      int       `json:"monitorPid"`
	MonitorAddress  string    `json:"monitorAddress"`
	StartedAt       time.Time `json:"startedAt"`
}

// SupervisorOption configures a Supervisor
type SupervisorOption func(*Supervisor)

// WithMetrics records launches and exits in m.
func WithMetrics(m *Metrics) SupervisorOption {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// Supervisor owns the table of running process pairs, keyed by channel URL.
// A URL is in the table exactly while both of its workers are believed to be
// alive.
type Supervisor struct {
	spawner Spawner
	metrics *Metrics

	mu         sync.Mutex
	pairs      map[string]*ProcessPair
	removeHook func(url string)
}

func NewSupervisor(spawner Spawner, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		spawner: spawner,
		pairs:   make(map[string]*ProcessPair),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRemoveHook sets the function called with the channel URL when a pair
// is torn down because one of its workers exited on its own.
func (s *Supervisor) SetRemoveHook(fn func(url string)) {
	s.mu.Lock()
	s.removeHook = fn
	s.mu.Unlock()
}

// Launch starts the splitter and then the monitor for ch. The pair is only
// recorded once both are up; if the monitor fails the splitter is terminated.
func (s *Supervisor) Launch(ctx context.Context, ch Channel) (addrs Addresses, err error) {
	start := time.Now()
	defer func() { s.metrics.launchDone(err, time.Since(start)) }()

	if err := ctx.Err(); err != nil {
		return Addresses{}, err
	}
	if s.running(ch.URL) {
		return Addresses{}, channelRunning(ch.URL)
	}

	splitter, err := s.spawner.LaunchSplitter(ch)
	if err != nil {
		return Addresses{}, err
	}

	monitor, err := s.spawner.LaunchMonitor(ch, splitter.Port)
	if err != nil {
		if terr := splitter.Terminate(); terr != nil {
			log.Warn().Err(terr).Str("channel", ch.URL).Msg("failed to terminate splitter after monitor failure")
		}
		return Addresses{}, err
	}

	pair := &ProcessPair{Splitter: splitter, Monitor: monitor, StartedAt: time.Now()}

	s.mu.Lock()
	if _, exists := s.pairs[ch.URL]; exists {
		// a concurrent launch of the same url got there first
		s.mu.Unlock()
		splitter.Terminate()
		monitor.Terminate()
		return Addresses{}, channelRunning(ch.URL)
	}
	s.pairs[ch.URL] = pair
	n := len(s.pairs)
	s.mu.Unlock()

	s.metrics.setRunning(n)
	go s.watch(ch.URL, pair)

	log.Info().
		Str("channel", ch.URL).
		Str("splitter", splitter.Address).
		Str("monitor", monitor.Address).
		Msg("channel launched")

	addrs = Addresses{Splitter: splitter.Address, Monitor: monitor.Address}
	if splitter.SourcePort != 0 {
		host, _, _ := net.SplitHostPort(splitter.Address)
		addrs.Source = net.JoinHostPort(host, strconv.Itoa(splitter.SourcePort))
	}
	return addrs, nil
}

// Stop terminates the pair for url. Unknown urls are ignored, so calling it
// twice only signals the processes once.
func (s *Supervisor) Stop(url string) {
	s.mu.Lock()
	pair, ok := s.pairs[url]
	if ok {
		delete(s.pairs, url)
	}
	n := len(s.pairs)
	s.mu.Unlock()

	if !ok {
		return
	}
	s.metrics.setRunning(n)

	for _, w := range []*Worker{pair.Splitter, pair.Monitor} {
		if err := w.Terminate(); err != nil {
			log.Warn().Err(err).Str("channel", url).Str("kind", string(w.Kind)).Msg("terminate failed")
		}
	}
	log.Info().Str("channel", url).Msg("channel stopped")
}

// KillAll SIGKILLs every tracked process and empties the table. It is the
// shutdown hook of both binaries; the host process is exiting so nothing is
// waited for.
func (s *Supervisor) KillAll() {
	s.mu.Lock()
	pairs := s.pairs
	s.pairs = make(map[string]*ProcessPair)
	s.mu.Unlock()

	for url, pair := range pairs {
		pair.Splitter.Kill()
		pair.Monitor.Kill()
		log.Warn().Str("channel", url).Msg("killed workers on shutdown")
	}
	s.metrics.setRunning(0)
}

// Lookup returns the running pair for url.
func (s *Supervisor) Lookup(url string) (*ProcessPair, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair, ok := s.pairs[url]
	return pair, ok
}

// List describes every running pair, ordered by URL.
func (s *Supervisor) List() []PairInfo {
	s.mu.Lock()
	infos := make([]PairInfo, 0, len(s.pairs))
	for url, p := range s.pairs {
		infos = append(infos, PairInfo{
			URL:             url,
			SplitterPID:     p.Splitter.Pid(),
			SplitterAddress: p.Splitter.Address,
			MonitorPID:      p.Monitor.Pid(),
			MonitorAddress:  p.Monitor.Address,
			StartedAt:       p.StartedAt,
		})
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].URL < infos[j].URL })
	return infos
}

func (s *Supervisor) running(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pairs[url]
	return ok
}

// watch waits for the first worker of pair to exit. If the pair is still the
// one recorded for url, the exit was unexpected: the entry is dropped, the
// sibling terminated and the remove hook told.
func (s *Supervisor) watch(url string, pair *ProcessPair) {
	var exited, sibling *Worker
	select {
	case <-pair.Splitter.Done():
		exited, sibling = pair.Splitter, pair.Monitor
	case <-pair.Monitor.Done():
		exited, sibling = pair.Monitor, pair.Splitter
	}

	s.mu.Lock()
	current, ok := s.pairs[url]
	owned := ok && current == pair
	if owned {
		delete(s.pairs, url)
	}
	n := len(s.pairs)
	hook := s.removeHook
	s.mu.Unlock()

	if !owned {
		log.Debug().Str("channel", url).Str("kind", string(exited.Kind)).Int("code", exited.ExitCode()).Msg("worker exited after stop")
		return
	}

	s.metrics.setRunning(n)
	s.metrics.workerExited(exited.Kind)

	log.Warn().
		Str("channel", url).
		Str("kind", string(exited.Kind)).
		Int("pid", exited.Pid()).
		Int("code", exited.ExitCode()).
		AnErr("wait", exited.exitErr).
		Str("stderr", exited.Stderr()).
		Str("log", exited.LogPath).
		Msg("worker exited, tearing down channel")

	if err := sibling.Terminate(); err != nil {
		log.Warn().Err(err).Str("channel", url).Str("kind", string(sibling.Kind)).Msg("terminate failed")
	}

	if hook == nil {
		return
	}
	if IsStandalone() {
		log.Info().Str("channel", url).Msg("reporting channel removal upstream")
	} else {
		log.Info().Str("channel", url).Msg("removing channel from store")
	}
	hook(url)
}

func channelRunning(url string) error {
	return &LaunchError{
		Code:    ErrorCodeChannelRunning,
		Message: "channel is already running",
		Context: map[string]interface{}{"channel": url},
	}
}
