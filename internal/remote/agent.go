package remote

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/P2PSP/crossroads/internal/engine"
)

// Agent is the engine end of the link. It authenticates the control plane
// and runs its add and remove requests against a local orchestrator.
type Agent struct {
	key  string
	orch engine.Orchestrator

	state stateBox

	mu    sync.Mutex
	codec *codec
}

func NewAgent(key string, orch engine.Orchestrator) *Agent {
	return &Agent{key: key, orch: orch}
}

// State returns the current link state.
func (a *Agent) State() State {
	return a.state.load()
}

// Run serves conn until it closes or ctx ends. The first message must be an
// auth carrying the shared key, otherwise ErrAuthentication is returned
// before anything is launched. A lost connection returns ErrConnectionLost;
// a canceled ctx returns nil.
func (a *Agent) Run(ctx context.Context, conn Conn) error {
	cd := newCodec(conn)
	a.mu.Lock()
	a.codec = cd
	a.mu.Unlock()
	a.state.store(StateAwaitingAuth)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			cd.close()
		case <-stop:
		}
	}()

	if err := a.authenticate(cd); err != nil {
		a.state.store(StateFailed)
		cd.close()
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	a.state.store(StateActive)
	log.Info().Msg("control plane authenticated")

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		msg, err := cd.receive()
		if errors.Is(err, ErrProtocol) {
			log.Warn().Err(err).Msg("dropping malformed message from control plane")
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				a.state.store(StateClosed)
				return nil
			}
			a.state.store(StateFailed)
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}

		switch msg.Type {
		case TypeAdd:
			ch := *msg.Channel
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				a.add(ctx, cd, ch)
			}()
		case TypeRemove:
			log.Info().Str("channel", msg.URL).Msg("stop requested")
			a.orch.Stop(msg.URL)
		default:
			log.Warn().Str("type", string(msg.Type)).Msg("unexpected message from control plane, dropped")
		}
	}
}

func (a *Agent) authenticate(cd *codec) error {
	msg, err := cd.receive()
	if err != nil && !errors.Is(err, ErrProtocol) {
		return fmt.Errorf("%w: waiting for auth: %v", ErrConnectionLost, err)
	}
	if err != nil || msg.Type != TypeAuth {
		log.Error().Err(err).Str("type", string(msg.Type)).Msg("first message is not auth")
		return fmt.Errorf("%w: expected auth message", ErrAuthentication)
	}
	if subtle.ConstantTimeCompare([]byte(msg.Key), []byte(a.key)) != 1 {
		log.Error().Msg("control plane sent the wrong key")
		return fmt.Errorf("%w: key mismatch", ErrAuthentication)
	}
	return nil
}

// add launches ch and answers with exactly one result.
func (a *Agent) add(ctx context.Context, cd *codec, ch engine.Channel) {
	var (
		addrs engine.Addresses
		err   error
	)
	if err = ch.Validate(); err == nil {
		addrs, err = a.orch.Launch(ctx, ch)
	}
	if err != nil {
		log.Error().Err(err).Str("channel", ch.URL).Msg("launch failed")
	}

	if serr := cd.send(resultMessage(ch.URL, addrs, err)); serr != nil {
		log.Error().Err(serr).Str("channel", ch.URL).Msg("failed to send result")
	}
}

// NotifyRemove tells the control plane that url is gone. It is the
// supervisor's remove hook in standalone mode.
func (a *Agent) NotifyRemove(url string) {
	a.mu.Lock()
	cd := a.codec
	a.mu.Unlock()

	if cd == nil || a.state.load() != StateActive {
		log.Warn().Str("channel", url).Str("state", a.State().String()).Msg("cannot report removal, link not active")
		return
	}
	if err := cd.send(Message{Type: TypeRemove, URL: url}); err != nil {
		log.Error().Err(err).Str("channel", url).Msg("failed to report removal")
	}
}
