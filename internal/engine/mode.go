package engine

import "sync/atomic"

var standalone atomic.Bool

// SetStandalone marks this process as a standalone engine: it launches
// workers for a remote control plane instead of for a local store.
func SetStandalone(on bool) {
	standalone.Store(on)
}

// IsStandalone reports the mode set by SetStandalone. Local by default.
func IsStandalone() bool {
	return standalone.Load()
}

// ModeName is "standalone" or "local", for logs and status output.
func ModeName() string {
	if IsStandalone() {
		return "standalone"
	}
	return "local"
}
