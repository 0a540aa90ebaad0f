package remote

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/P2PSP/crossroads/internal/engine"
)

const testKey = "0123456789abcdef"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeOrchestrator records what the agent asks of it.
type fakeOrchestrator struct {
	mu       sync.Mutex
	launches []engine.Channel
	stops    []string
	err      error
	delay    map[string]time.Duration
}

func (f *fakeOrchestrator) Launch(ctx context.Context, ch engine.Channel) (engine.Addresses, error) {
	f.mu.Lock()
	f.launches = append(f.launches, ch)
	err, delay := f.err, f.delay[ch.URL]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return engine.Addresses{}, err
	}
	return engine.Addresses{
		Splitter: "10.0.0.1:" + ch.URL,
		Monitor:  "10.0.0.2:" + ch.URL,
	}, nil
}

func (f *fakeOrchestrator) Stop(url string) {
	f.mu.Lock()
	f.stops = append(f.stops, url)
	f.mu.Unlock()
}

func (f *fakeOrchestrator) Launches() []engine.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Channel(nil), f.launches...)
}

func (f *fakeOrchestrator) Stops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stops...)
}

// fakeStore records removals coming from the engine.
type fakeStore struct {
	removed chan string
}

func newFakeStore() *fakeStore {
	return &fakeStore{removed: make(chan string, 16)}
}

func (s *fakeStore) RemoveChannel(url string) error {
	s.removed <- url
	return nil
}

func validChannel(url string) engine.Channel {
	return engine.Channel{
		URL:           url,
		Name:          "channel " + url,
		SourceAddress: "127.0.0.1",
		SourcePort:    9000,
		HeaderSize:    3000,
	}
}

// serveCommunicator exposes comm on a test server and returns its host and port.
func serveCommunicator(t *testing.T, comm *Communicator) (string, int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		comm.Serve(conn)
	}))
	t.Cleanup(func() {
		comm.Close()
		srv.Close()
	})
	comm.Listening()
	return hostPort(t, srv)
}

func hostPort(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

// linkUp connects an agent backed by orch to comm and waits until both
// ends are active.
func linkUp(t *testing.T, comm *Communicator, orch engine.Orchestrator) *Agent {
	t.Helper()
	host, port := serveCommunicator(t, comm)

	agent := NewAgent(testKey, orch)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.DialAndRun(ctx, host, port) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		return comm.State() == StateActive && agent.State() == StateActive
	}, 2*time.Second, 10*time.Millisecond)
	return agent
}

// rawEngine connects a bare WebSocket client to comm, standing in for an
// engine the test drives by hand. The auth message is consumed.
func rawEngine(t *testing.T, comm *Communicator) *websocket.Conn {
	t.Helper()
	host, port := serveCommunicator(t, comm)

	conn, err := Dial(context.Background(), host, port, testKey)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var auth Message
	require.NoError(t, conn.ReadJSON(&auth))
	require.Equal(t, TypeAuth, auth.Type)
	require.Equal(t, testKey, auth.Key)

	require.Eventually(t, func() bool { return comm.State() == StateActive }, 2*time.Second, 10*time.Millisecond)
	return conn
}

// rawControlPlane accepts one connection and hands it to the test.
func rawControlPlane(t *testing.T) (string, int, <-chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
		<-release
		conn.Close()
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	host, port := hostPort(t, srv)
	return host, port, conns
}
