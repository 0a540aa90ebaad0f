package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode identifies categories of launch errors
type ErrorCode string

const (
	ErrorCodePortAllocationFailed ErrorCode = "PORT_ALLOCATION_FAILED"
	ErrorCodeWorkerSpawnFailed    ErrorCode = "WORKER_SPAWN_FAILED"
	ErrorCodeChannelRunning       ErrorCode = "CHANNEL_RUNNING"
	ErrorCodeInvalidChannel       ErrorCode = "INVALID_CHANNEL"
)

// Sentinels for errors.Is. A *LaunchError matches the sentinel of its code.
var (
	ErrPortAllocation = errors.New("port allocation failed")
	ErrWorkerSpawn    = errors.New("worker spawn failed")
	ErrChannelRunning = errors.New("channel already running")
	ErrInvalidChannel = errors.New("invalid channel")
)

// LaunchError aborts a single launch.
type LaunchError struct {
	Code    ErrorCode
	Message string
	Context map[string]interface{}
	Cause   error
}

func (e *LaunchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%v", k, e.Context[k])
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}

	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *LaunchError) Unwrap() error {
	return e.Cause
}

func (e *LaunchError) Is(target error) bool {
	switch e.Code {
	case ErrorCodePortAllocationFailed:
		return target == ErrPortAllocation
	case ErrorCodeWorkerSpawnFailed:
		return target == ErrWorkerSpawn
	case ErrorCodeChannelRunning:
		return target == ErrChannelRunning
	case ErrorCodeInvalidChannel:
		return target == ErrInvalidChannel
	}
	return false
}

func invalidChannel(msg string) error {
	return &LaunchError{Code: ErrorCodeInvalidChannel, Message: msg}
}

func spawnError(kind Kind, url, msg string, cause error) *LaunchError {
	return &LaunchError{
		Code:    ErrorCodeWorkerSpawnFailed,
		Message: msg,
		Context: map[string]interface{}{"kind": kind, "channel": url},
		Cause:   cause,
	}
}
