package engine

import (
	"net"
)

// PortAllocator hands out a TCP port for a worker to listen on.
type PortAllocator interface {
	Allocate() (int, error)
}

// PortAllocatorFunc adapts a function to PortAllocator.
type PortAllocatorFunc func() (int, error)

func (f PortAllocatorFunc) Allocate() (int, error) {
	return f()
}

// TCPPortAllocator asks the OS for an ephemeral port on BindAddress and
// releases it right away. Another process may grab the port before the
// worker binds it; nothing here prevents that.
type TCPPortAllocator struct {
	BindAddress string
}

func (a TCPPortAllocator) Allocate() (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(a.BindAddress, "0"))
	if err != nil {
		return 0, &LaunchError{
			Code:    ErrorCodePortAllocationFailed,
			Message: "bind ephemeral port",
			Context: map[string]interface{}{"bind_address": a.BindAddress},
			Cause:   err,
		}
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port, nil
}
