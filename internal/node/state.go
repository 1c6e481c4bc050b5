package node

import "fmt"

// State is the harness-side lifecycle state of one node id.
type State int

const (
	StateUnborn State = iota
	StateSpawned
	StateInitialized
	StateJoined
	StateDisconnected
	StateCrashed
	StateRestoring
	StateExited
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnborn:
		return "unborn"
	case StateSpawned:
		return "spawned"
	case StateInitialized:
		return "initialized"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	case StateCrashed:
		return "crashed"
	case StateRestoring:
		return "restoring"
	case StateExited:
		return "exited"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText は状態を文字列として出力する
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText は文字列から状態を復元する
func (s *State) UnmarshalText(text []byte) error {
	for st := StateUnborn; st <= StateStopped; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown node state %q", text)
}

// Live reports whether a process is expected to be running in this state.
func (s State) Live() bool {
	switch s {
	case StateSpawned, StateInitialized, StateJoined, StateDisconnected:
		return true
	}
	return false
}

// Dead reports whether the instance is gone and only Restore can revive it.
func (s State) Dead() bool {
	switch s {
	case StateCrashed, StateExited, StateStopped:
		return true
	}
	return false
}

// Killed reports whether the harness itself ended the instance, by a
// scenario crash or by teardown. Exited is dead but not killed.
func (s State) Killed() bool {
	return s == StateCrashed || s == StateStopped
}

// Accepting reports whether the process takes cluster commands
// (snapshot, disconnect, restore) in this state.
func (s State) Accepting() bool {
	switch s {
	case StateInitialized, StateJoined, StateDisconnected:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	switch to {
	case StateSpawned:
		return from == StateUnborn || from == StateRestoring
	case StateInitialized:
		return from == StateSpawned
	case StateJoined:
		return from == StateInitialized
	case StateDisconnected:
		return from.Accepting()
	case StateCrashed, StateExited, StateStopped:
		return from.Live() || from == StateRestoring
	case StateRestoring:
		return from.Dead()
	}
	return false
}
