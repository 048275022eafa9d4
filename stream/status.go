package stream

import (
	"encoding/json"
)

// State is the lifecycle state of the stream connection.
type State int

const (
	// StateIdle means no connection has been requested, or it was stopped.
	StateIdle State = iota
	// StateConnecting covers dialing and waiting for a scheduled retry.
	StateConnecting
	// StateReady means a connection is open and delivering messages.
	StateReady
	// StateError is terminal: the reconnect budget is spent.
	StateError
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the connection state.
type Status struct {
	State    State
	Terminal bool
	// Err is the most recent connection error, if any.
	Err error
	// Retries counts reconnects scheduled since the last successful open.
	Retries int
	// Session identifies the current Start/Stop cycle.
	Session string
}

type statusJSON struct {
	State    string `json:"state"`
	Terminal bool   `json:"terminal"`
	Error    string `json:"error,omitempty"`
	Retries  int    `json:"retries"`
	Session  string `json:"session_id,omitempty"`
}

// MarshalJSON renders the status for API consumers.
func (s Status) MarshalJSON() ([]byte, error) {
	out := statusJSON{
		State:    s.State.String(),
		Terminal: s.Terminal,
		Retries:  s.Retries,
		Session:  s.Session,
	}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	return json.Marshal(out)
}
