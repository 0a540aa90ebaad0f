package remote

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Dial opens the engine link to the control plane at host:port.
func Dial(ctx context.Context, host string, port int, key string) (*websocket.Conn, error) {
	token, err := EngineToken(key)
	if err != nil {
		return nil, fmt.Errorf("sign engine token: %w", err)
	}

	target := url.URL{
		Scheme:   "ws",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     Route,
		RawQuery: url.Values{"token": {token}}.Encode(),
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", target.Host, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", target.Host, err)
	}
	return conn, nil
}

// DialAndRun connects to the control plane and serves the link until it
// ends. See Run.
func (a *Agent) DialAndRun(ctx context.Context, host string, port int) error {
	a.state.store(StateAwaitingPeer)
	log.Info().Str("host", host).Int("port", port).Msg("connecting to control plane")

	conn, err := Dial(ctx, host, port, a.key)
	if err != nil {
		a.state.store(StateFailed)
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	defer conn.Close()
	return a.Run(ctx, conn)
}
