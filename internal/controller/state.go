package controller

import "fmt"

// State is the lifecycle phase of the controller. Every exchange walks
// Idle -> Readying -> Streaming -> Finalizing -> Idle, skipping Streaming when the
// backend is not ready.
type State int

const (
	Idle State = iota
	Readying
	Streaming
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Readying:
		return "readying"
	case Streaming:
		return "streaming"
	case Finalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
