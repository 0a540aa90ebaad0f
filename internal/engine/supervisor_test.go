package engine

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChannel(url string) Channel {
	return Channel{
		URL:           url,
		Name:          "channel " + url,
		Description:   "test channel",
		SourceAddress: "127.0.0.1",
		SourcePort:    9000,
		HeaderSize:    3000,
	}
}

func TestSupervisorLaunchRecordsPair(t *testing.T) {
	spawner := newFakeSpawner()
	s := NewSupervisor(spawner)

	addrs, err := s.Launch(context.Background(), testChannel("c1"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:40001", addrs.Splitter)
	assert.Equal(t, "127.0.0.1:40002", addrs.Monitor)
	assert.Empty(t, addrs.Source)

	pair, ok := s.Lookup("c1")
	require.True(t, ok)
	assert.Equal(t, 40001, pair.Splitter.Port)
	assert.Equal(t, 40002, pair.Monitor.Port)

	infos := s.List()
	require.Len(t, infos, 1)
	assert.Equal(t, "c1", infos[0].URL)
}

func TestSupervisorMonitorFailureTerminatesSplitter(t *testing.T) {
	spawner := newFakeSpawner()
	spawner.monitorErr = spawnError(KindMonitor, "c1", "start monitor", os.ErrNotExist)
	s := NewSupervisor(spawner)

	_, err := s.Launch(context.Background(), testChannel("c1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWorkerSpawn))

	assert.Equal(t, []os.Signal{syscall.SIGTERM}, spawner.splitter("c1").Signals())
	_, ok := s.Lookup("c1")
	assert.False(t, ok)
}

func TestSupervisorSplitterFailureSpawnsNothingElse(t *testing.T) {
	spawner := newFakeSpawner()
	spawner.splitterErr = &LaunchError{Code: ErrorCodePortAllocationFailed, Message: "bind ephemeral port"}
	s := NewSupervisor(spawner)

	_, err := s.Launch(context.Background(), testChannel("c1"))
	assert.True(t, errors.Is(err, ErrPortAllocation))
	assert.Nil(t, spawner.monitor("c1"))
	assert.Empty(t, s.List())
}

func TestSupervisorStopIsIdempotent(t *testing.T) {
	spawner := newFakeSpawner()
	s := NewSupervisor(spawner)

	_, err := s.Launch(context.Background(), testChannel("c1"))
	require.NoError(t, err)

	s.Stop("c1")
	s.Stop("c1")
	s.Stop("unknown")

	assert.Equal(t, []os.Signal{syscall.SIGTERM}, spawner.splitter("c1").Signals())
	assert.Equal(t, []os.Signal{syscall.SIGTERM}, spawner.monitor("c1").Signals())
	_, ok := s.Lookup("c1")
	assert.False(t, ok)
}

func TestSupervisorWorkerExitRemovesChannel(t *testing.T) {
	spawner := newFakeSpawner()
	s := NewSupervisor(spawner)

	removed := make(chan string, 1)
	s.SetRemoveHook(func(url string) { removed <- url })

	_, err := s.Launch(context.Background(), testChannel("c2"))
	require.NoError(t, err)

	pair, _ := s.Lookup("c2")
	pair.Splitter.markExited(1, nil)

	select {
	case url := <-removed:
		assert.Equal(t, "c2", url)
	case <-time.After(2 * time.Second):
		t.Fatal("remove hook was not called")
	}

	_, ok := s.Lookup("c2")
	assert.False(t, ok)
	assert.Equal(t, []os.Signal{syscall.SIGTERM}, spawner.monitor("c2").Signals())
	assert.Empty(t, spawner.splitter("c2").Signals())
}

func TestSupervisorStandaloneExitStillCallsHook(t *testing.T) {
	SetStandalone(true)
	defer SetStandalone(false)

	spawner := newFakeSpawner()
	s := NewSupervisor(spawner)

	removed := make(chan string, 1)
	s.SetRemoveHook(func(url string) { removed <- url })

	_, err := s.Launch(context.Background(), testChannel("c2"))
	require.NoError(t, err)

	pair, _ := s.Lookup("c2")
	pair.Monitor.markExited(0, nil)

	select {
	case url := <-removed:
		assert.Equal(t, "c2", url)
	case <-time.After(2 * time.Second):
		t.Fatal("remove hook was not called")
	}
	assert.Equal(t, []os.Signal{syscall.SIGTERM}, spawner.splitter("c2").Signals())
}

func TestSupervisorExitAfterStopDoesNotCallHook(t *testing.T) {
	spawner := newFakeSpawner()
	s := NewSupervisor(spawner)

	removed := make(chan string, 1)
	s.SetRemoveHook(func(url string) { removed <- url })

	_, err := s.Launch(context.Background(), testChannel("c1"))
	require.NoError(t, err)

	spawner.splitter("c1").exitOnSignal = true
	spawner.monitor("c1").exitOnSignal = true
	s.Stop("c1")

	select {
	case url := <-removed:
		t.Fatalf("remove hook called for %s after explicit stop", url)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSupervisorDuplicateLaunch(t *testing.T) {
	s := NewSupervisor(newFakeSpawner())

	_, err := s.Launch(context.Background(), testChannel("c1"))
	require.NoError(t, err)

	_, err = s.Launch(context.Background(), testChannel("c1"))
	assert.True(t, errors.Is(err, ErrChannelRunning))
}

func TestSupervisorKillAll(t *testing.T) {
	spawner := newFakeSpawner()
	s := NewSupervisor(spawner)

	for _, url := range []string{"a", "b"} {
		_, err := s.Launch(context.Background(), testChannel(url))
		require.NoError(t, err)
	}

	s.KillAll()

	for _, url := range []string{"a", "b"} {
		assert.Equal(t, []os.Signal{syscall.SIGKILL}, spawner.splitter(url).Signals())
		assert.Equal(t, []os.Signal{syscall.SIGKILL}, spawner.monitor(url).Signals())
	}
	assert.Empty(t, s.List())
}

func TestSupervisorCanceledContext(t *testing.T) {
	spawner := newFakeSpawner()
	s := NewSupervisor(spawner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Launch(ctx, testChannel("c1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, spawner.splitter("c1"))
}

func TestSupervisorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	spawner := newFakeSpawner()
	s := NewSupervisor(spawner, WithMetrics(m))

	_, err := s.Launch(context.Background(), testChannel("ok"))
	require.NoError(t, err)

	spawner.monitorErr = spawnError(KindMonitor, "bad", "start monitor", os.ErrNotExist)
	_, err = s.Launch(context.Background(), testChannel("bad"))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.launches.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.launches.WithLabelValues(string(ErrorCodeWorkerSpawnFailed))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.running))
}

// A real splitter/monitor pair started from scripts.
func TestSupervisorLaunchRealWorkers(t *testing.T) {
	requireShell(t)
	dir := binDir(t, map[Kind]string{KindSplitter: sleeperScript, KindMonitor: sleeperScript})

	sinks := NewMemorySinks()
	launcher := NewLauncher(LauncherConfig{
		BindAddress: "127.0.0.1",
		SplitterDir: dir,
		MonitorDir:  dir,
	}, WithLogSinks(sinks))
	s := NewSupervisor(launcher)

	ch := Channel{URL: "c1", Name: "c1", SourceAddress: "127.0.0.1", SourcePort: 9000, HeaderSize: 3000}
	addrs, err := s.Launch(context.Background(), ch)
	require.NoError(t, err)

	pair, ok := s.Lookup("c1")
	require.True(t, ok)
	killOnCleanup(t, pair.Splitter, pair.Monitor)

	assert.True(t, strings.HasPrefix(addrs.Splitter, "127.0.0.1:"))
	assert.True(t, strings.HasPrefix(addrs.Monitor, "127.0.0.1:"))
	assert.NotEqual(t, addrs.Splitter, addrs.Monitor)

	assert.Eventually(t, func() bool {
		return strings.Contains(sinks.Output("c1", KindMonitor), "--splitter_port "+strconv.Itoa(pair.Splitter.Port))
	}, 2*time.Second, 20*time.Millisecond)

	s.Stop("c1")
	select {
	case <-pair.Splitter.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("splitter did not exit after stop")
	}
	select {
	case <-pair.Monitor.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not exit after stop")
	}
}

// The splitter dies on its own after a successful launch.
func TestSupervisorRealWorkerExitRemovesChannel(t *testing.T) {
	requireShell(t)
	dir := binDir(t, map[Kind]string{
		KindSplitter: "#!/bin/sh\nsleep 0.3\nexit 1\n",
		KindMonitor:  sleeperScript,
	})

	launcher := NewLauncher(LauncherConfig{SplitterDir: dir, MonitorDir: dir}, WithLogSinks(NewMemorySinks()))
	s := NewSupervisor(launcher)

	removed := make(chan string, 1)
	s.SetRemoveHook(func(url string) { removed <- url })

	_, err := s.Launch(context.Background(), testChannel("c2"))
	require.NoError(t, err)

	pair, ok := s.Lookup("c2")
	require.True(t, ok)
	killOnCleanup(t, pair.Splitter, pair.Monitor)

	select {
	case url := <-removed:
		assert.Equal(t, "c2", url)
	case <-time.After(5 * time.Second):
		t.Fatal("remove hook was not called")
	}

	assert.Equal(t, 1, pair.Splitter.ExitCode())
	_, ok = s.Lookup("c2")
	assert.False(t, ok)

	select {
	case <-pair.Monitor.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("monitor was not terminated")
	}
}
