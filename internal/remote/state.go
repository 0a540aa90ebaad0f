package remote

import "sync/atomic"

// State is where one side of the link is in its lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateAwaitingPeer
	StateAwaitingAuth
	StateActive
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAwaitingPeer:
		return "awaiting-peer"
	case StateAwaitingAuth:
		return "awaiting-auth"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) load() State {
	return State(b.v.Load())
}

func (b *stateBox) store(s State) {
	b.v.Store(int32(s))
}

// advance moves to s unless a terminal state was already reached.
func (b *stateBox) advance(s State) bool {
	for {
		cur := b.v.Load()
		if State(cur).Terminal() {
			return false
		}
		if b.v.CompareAndSwap(cur, int32(s)) {
			return true
		}
	}
}
