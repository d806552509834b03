package pipeline

import (
	"errors"
	"fmt"
)

// State is a session lifecycle stage. Transitions only move forward:
// Idle -> Acquiring -> Streaming -> Stopped. Stopped is terminal.
type State int32

const (
	Idle State = iota
	Acquiring
	Streaming
	Stopped
)

var stateNames = [...]string{"idle", "acquiring", "streaming", "stopped"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Active reports whether the session holds a source.
func (s State) Active() bool {
	return s == Acquiring || s == Streaming
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrSessionNotIdle is returned by Start on a session that already started.
	ErrSessionNotIdle = errors.New("session already started")
	// ErrSessionStopped is returned when a session was stopped before it could stream.
	ErrSessionStopped = errors.New("session stopped")
	// ErrSessionNotStarted is returned by Report on a session that never started.
	ErrSessionNotStarted = errors.New("session never started")
)
