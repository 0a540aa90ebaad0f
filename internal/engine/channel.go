// Package engine launches and supervises the splitter/monitor process pair
// that serves each channel.
//
// The Supervisor owns the table of running pairs. The Launcher spawns a
// single worker binary, picking its listening port either from the channel
// or from a PortAllocator, and redirects its output to a LogSinks sink.
package engine

import (
	"context"
	"fmt"
	"net"
)

// Channel is the launch request for one channel. It is also the payload of
// the "add" message on the engine link, hence the JSON tags.
type Channel struct {
	URL                 string `json:"url"`
	Name                string `json:"name"`
	Description         string `json:"description"`
	SourceAddress       string `json:"sourceAddress"`
	SourcePort          int    `json:"sourcePort"`
	HeaderSize          int    `json:"headerSize"`
	IsSmartSourceClient bool   `json:"isSmartSourceClient"`
	SplitterPort        int    `json:"splitterPort,omitempty"`
	MonitorPort         int    `json:"monitorPort,omitempty"`
}

// Addresses are the host:port endpoints of a launched pair. Source is set
// only for smart source channels, where the source connects to the splitter.
type Addresses struct {
	Splitter string `json:"splitterAddress"`
	Monitor  string `json:"monitorAddress"`
	Source   string `json:"sourceAddress,omitempty"`
}

// Orchestrator is what callers hold to start and stop channels. The local
// Supervisor and the remote Communicator both implement it.
type Orchestrator interface {
	Launch(ctx context.Context, ch Channel) (Addresses, error)
	Stop(url string)
}

// ValidPort reports whether p is a usable TCP port number.
func ValidPort(p int) bool {
	return p >= 1 && p <= 65535
}

// Validate checks that a channel can be launched as given.
func (c Channel) Validate() error {
	switch {
	case c.URL == "":
		return invalidChannel("url is required")
	case c.Name == "":
		return invalidChannel("name is required")
	case c.HeaderSize < 0:
		return invalidChannel("header size must not be negative")
	}

	// explicit ports come as a pair or not at all
	if c.SplitterPort != 0 || c.MonitorPort != 0 {
		if !ValidPort(c.SplitterPort) || !ValidPort(c.MonitorPort) {
			return invalidChannel("splitter and monitor ports must both be in 1-65535")
		}
	}

	if c.IsSmartSourceClient {
		if c.SourcePort != 0 && !ValidPort(c.SourcePort) {
			return invalidChannel(fmt.Sprintf("source port %d out of range", c.SourcePort))
		}
		return nil
	}

	if net.ParseIP(c.SourceAddress) == nil {
		return invalidChannel(fmt.Sprintf("source address %q is not an IP", c.SourceAddress))
	}
	if !ValidPort(c.SourcePort) {
		return invalidChannel(fmt.Sprintf("source port %d out of range", c.SourcePort))
	}
	return nil
}
