package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/P2PSP/crossroads/internal/engine"
)

// DefaultResultTimeout bounds how long Launch waits for the engine's result.
const DefaultResultTimeout = 30 * time.Second

// Remover is the part of the channel store the link writes to: a channel
// whose workers died on the engine is deleted.
type Remover interface {
	RemoveChannel(url string) error
}

// Option configures a Communicator
type Option func(*Communicator)

// WithResultTimeout bounds the wait for a result. Zero waits forever.
func WithResultTimeout(d time.Duration) Option {
	return func(c *Communicator) {
		c.timeout = d
	}
}

// WithLinkMetrics records link activity in m.
func WithLinkMetrics(m *Metrics) Option {
	return func(c *Communicator) {
		c.metrics = m
	}
}

// Communicator is the control plane end of the engine link. It implements
// engine.Orchestrator by forwarding launches to the connected engine.
//
// Exactly one engine connection is served for the life of the
// Communicator. Losing it is fatal: Failed yields the error and every
// pending launch fails with ErrConnectionLost.
type Communicator struct {
	key     string
	store   Remover
	timeout time.Duration
	metrics *Metrics

	state stateBox

	mu      sync.Mutex
	codec   *codec
	pending map[string]chan Message

	dead     chan struct{}
	deadOnce sync.Once
	failed   chan error
}

var _ engine.Orchestrator = (*Communicator)(nil)

func NewCommunicator(key string, store Remover, opts ...Option) *Communicator {
	c := &Communicator{
		key:     key,
		store:   store,
		timeout: DefaultResultTimeout,
		pending: make(map[string]chan Message),
		dead:    make(chan struct{}),
		failed:  make(chan error, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current link state.
func (c *Communicator) State() State {
	return c.state.load()
}

// Failed yields the error that ended the link. It never fires after Close.
func (c *Communicator) Failed() <-chan error {
	return c.failed
}

// Listening records that the engine port is open.
func (c *Communicator) Listening() {
	if c.state.load() == StateDisconnected {
		c.state.advance(StateAwaitingPeer)
	}
}

// Serve runs the link over conn until it ends. It authenticates to the
// engine first and then dispatches inbound messages. A second connection is
// refused with ErrAlreadyConnected.
func (c *Communicator) Serve(conn Conn) error {
	c.mu.Lock()
	if c.codec != nil || c.state.load().Terminal() {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyConnected
	}
	cd := newCodec(conn)
	c.codec = cd
	c.mu.Unlock()

	c.state.advance(StateAwaitingAuth)
	if err := cd.send(Message{Type: TypeAuth, Key: c.key}); err != nil {
		return c.fail(err)
	}
	if !c.state.advance(StateActive) {
		return nil
	}
	log.Info().Msg("engine link active")

	for {
		msg, err := cd.receive()
		if errors.Is(err, ErrProtocol) {
			c.metrics.protocolError()
			log.Warn().Err(err).Msg("dropping malformed message from engine")
			continue
		}
		if err != nil {
			return c.fail(err)
		}

		switch msg.Type {
		case TypeResult:
			c.deliver(msg)
		case TypeRemove:
			c.removed(msg.URL)
		default:
			c.metrics.protocolError()
			log.Warn().Str("type", string(msg.Type)).Msg("unexpected message from engine, dropped")
		}
	}
}

// Launch sends an add for ch and waits for the engine's result.
func (c *Communicator) Launch(ctx context.Context, ch engine.Channel) (addrs engine.Addresses, err error) {
	start := time.Now()
	defer func() { c.metrics.launchDone(err, time.Since(start)) }()

	reply := make(chan Message, 1)

	c.mu.Lock()
	switch st := c.state.load(); {
	case st.Terminal():
		c.mu.Unlock()
		return engine.Addresses{}, ErrConnectionLost
	case st != StateActive:
		c.mu.Unlock()
		return engine.Addresses{}, ErrNotConnected
	}
	if _, ok := c.pending[ch.URL]; ok {
		c.mu.Unlock()
		return engine.Addresses{}, fmt.Errorf("%w: %s", ErrDuplicateRequest, ch.URL)
	}
	c.pending[ch.URL] = reply
	c.metrics.setPending(len(c.pending))
	cd := c.codec
	c.mu.Unlock()

	defer c.forget(ch.URL, reply)

	if err := cd.send(Message{Type: TypeAdd, Channel: &ch}); err != nil {
		return engine.Addresses{}, c.fail(err)
	}

	var timeout <-chan time.Time
	if c.timeout > 0 {
		t := time.NewTimer(c.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case msg := <-reply:
		if !msg.Result {
			return engine.Addresses{}, fmt.Errorf("%w: %s", ErrLaunchRejected, ch.URL)
		}
		return msg.addresses()
	case <-c.dead:
		return engine.Addresses{}, ErrConnectionLost
	case <-ctx.Done():
		c.abandon(ch.URL, reply)
		return engine.Addresses{}, ctx.Err()
	case <-timeout:
		c.abandon(ch.URL, reply)
		return engine.Addresses{}, fmt.Errorf("%w: %s after %s", ErrResultTimeout, ch.URL, c.timeout)
	}
}

// Stop sends a remove for url without waiting for anything.
func (c *Communicator) Stop(url string) {
	c.mu.Lock()
	cd := c.codec
	c.mu.Unlock()

	if cd == nil || c.state.load() != StateActive {
		log.Warn().Str("channel", url).Str("state", c.State().String()).Msg("cannot stop channel, engine link not active")
		return
	}
	if err := cd.send(Message{Type: TypeRemove, URL: url}); err != nil {
		c.fail(err)
	}
}

// Close ends the link without reporting a failure.
func (c *Communicator) Close() error {
	c.state.store(StateClosed)
	c.deadOnce.Do(func() { close(c.dead) })

	c.mu.Lock()
	cd := c.codec
	c.mu.Unlock()
	if cd != nil {
		return cd.close()
	}
	return nil
}

// PendingCount is the number of launches waiting for a result.
func (c *Communicator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Communicator) deliver(msg Message) {
	c.mu.Lock()
	reply, ok := c.pending[msg.URL]
	if ok {
		delete(c.pending, msg.URL)
	}
	c.metrics.setPending(len(c.pending))
	c.mu.Unlock()

	if !ok {
		// nobody holds a record for these workers any more
		if msg.Result {
			c.Stop(msg.URL)
		}
		c.metrics.orphanResult()
		log.Warn().Str("channel", msg.URL).Bool("result", msg.Result).Msg("result for unknown launch, dropped")
		return
	}
	reply <- msg
}

// abandon tells the engine to drop a launch whose result nobody waits for.
// The pending entry goes first, so a result still in flight arrives as an
// orphan and deliver stops those workers too.
func (c *Communicator) abandon(url string, reply chan Message) {
	c.forget(url, reply)
	log.Warn().Str("channel", url).Msg("launch abandoned, asking engine to remove it")
	c.Stop(url)
}

func (c *Communicator) forget(url string, reply chan Message) {
	c.mu.Lock()
	if c.pending[url] == reply {
		delete(c.pending, url)
	}
	c.metrics.setPending(len(c.pending))
	c.mu.Unlock()
}

func (c *Communicator) removed(url string) {
	log.Info().Str("channel", url).Msg("engine reported channel gone, removing from store")
	if c.store == nil {
		return
	}
	if err := c.store.RemoveChannel(url); err != nil {
		log.Error().Err(err).Str("channel", url).Msg("failed to remove channel")
	}
}

// fail moves the link to Failed and reports err once. After Close it only
// returns the error.
func (c *Communicator) fail(err error) error {
	lost := fmt.Errorf("%w: %v", ErrConnectionLost, err)
	if !c.state.advance(StateFailed) {
		return lost
	}
	c.deadOnce.Do(func() { close(c.dead) })

	c.mu.Lock()
	cd := c.codec
	c.mu.Unlock()
	if cd != nil {
		cd.close()
	}

	log.Error().Err(err).Msg("engine link failed")
	c.failed <- lost
	return lost
}
