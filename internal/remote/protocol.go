// Package remote carries channel launches between the control plane and a
// standalone engine over a single WebSocket connection.
//
// The engine dials the control plane. The control plane speaks first with an
// auth message holding the shared key; after that it sends add and remove
// messages and the engine answers each add with exactly one result keyed by
// the channel url. The engine may also send remove on its own when a
// channel's workers die.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/P2PSP/crossroads/internal/engine"
)

// MessageType tags a wire message.
type MessageType string

const (
	TypeAuth   MessageType = "auth"
	TypeAdd    MessageType = "add"
	TypeRemove MessageType = "remove"
	TypeResult MessageType = "result"
)

// Message is the one record exchanged on the link. Which fields are set
// depends on Type:
//
//	auth   key
//	add    channel
//	remove url
//	result url, result, payload [splitterAddress, monitorAddress, sourceAddress?]
type Message struct {
	Type    MessageType     `json:"type"`
	Key     string          `json:"key,omitempty"`
	URL     string          `json:"url,omitempty"`
	Channel *engine.Channel `json:"channel,omitempty"`
	Result  bool            `json:"result,omitempty"`
	Payload []string        `json:"payload,omitempty"`
}

var (
	ErrProtocol         = errors.New("protocol error")
	ErrAuthentication   = errors.New("engine link authentication failed")
	ErrConnectionLost   = errors.New("engine link lost")
	ErrNotConnected     = errors.New("no engine connected")
	ErrAlreadyConnected = errors.New("an engine is already connected")
	ErrDuplicateRequest = errors.New("launch already pending for channel")
	ErrResultTimeout    = errors.New("timed out waiting for launch result")
	ErrLaunchRejected   = errors.New("engine failed to launch channel")
)

// Conn is the part of a WebSocket connection the link needs. Both the
// gorilla and the fiber websocket connections satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// codec frames one Message per text frame. Writes are serialized; reads
// must come from a single goroutine.
type codec struct {
	conn    Conn
	writeMu sync.Mutex
}

func newCodec(conn Conn) *codec {
	return &codec{conn: conn}
}

func (c *codec) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// receive returns the next message. Transport failures come back as is;
// frames that are not a well formed message wrap ErrProtocol and leave the
// connection usable.
func (c *codec) receive() (Message, error) {
	kind, data, err := c.conn.ReadMessage()
	if err != nil {
		return Message{}, err
	}
	if kind != websocket.TextMessage {
		return Message{}, fmt.Errorf("%w: unexpected frame type %d", ErrProtocol, kind)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if err := msg.check(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (c *codec) close() error {
	return c.conn.Close()
}

func (m Message) check() error {
	switch m.Type {
	case TypeAuth:
		if m.Key == "" {
			return fmt.Errorf("%w: auth without key", ErrProtocol)
		}
	case TypeAdd:
		if m.Channel == nil || m.Channel.URL == "" {
			return fmt.Errorf("%w: add without channel", ErrProtocol)
		}
	case TypeRemove, TypeResult:
		if m.URL == "" {
			return fmt.Errorf("%w: %s without url", ErrProtocol, m.Type)
		}
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrProtocol, m.Type)
	}
	return nil
}

// resultMessage builds the reply to an add.
func resultMessage(url string, addrs engine.Addresses, err error) Message {
	if err != nil {
		return Message{Type: TypeResult, URL: url, Result: false}
	}
	payload := []string{addrs.Splitter, addrs.Monitor}
	if addrs.Source != "" {
		payload = append(payload, addrs.Source)
	}
	return Message{Type: TypeResult, URL: url, Result: true, Payload: payload}
}

// addresses reads the payload of a successful result.
func (m Message) addresses() (engine.Addresses, error) {
	if len(m.Payload) < 2 {
		return engine.Addresses{}, fmt.Errorf("%w: result for %s carries %d addresses", ErrProtocol, m.URL, len(m.Payload))
	}
	addrs := engine.Addresses{Splitter: m.Payload[0], Monitor: m.Payload[1]}
	if len(m.Payload) > 2 {
		addrs.Source = m.Payload[2]
	}
	return addrs, nil
}
