// Package session holds the application-wide auth state: a small state
// machine with a pure transition function, and a Controller that drives it
// from the auth service and owns the background timers.
package session

import "github.com/civickit/go-civic-client/api"

// Status enumerates where the session currently stands. Neither error nor
// authenticated/unauthenticated is terminal; any action can re-enter loading.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusAuthenticated
	StatusUnauthenticated
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// State is the in-memory session snapshot. Invariant: Status is
// StatusAuthenticated exactly when User is non-nil.
type State struct {
	Status Status
	User   *api.User
	Err    string // last human-readable failure, "" when none
	// Initialized reports whether bootstrap has completed, successfully or
	// not. Route guards wait for it before rendering anything.
	Initialized bool
}

func (s State) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated
}

// EventType enumerates the machine's inputs.
type EventType int

const (
	// EventLoadStarted marks the beginning of any auth action.
	EventLoadStarted EventType = iota
	// EventAuthenticated lands a session with the given user.
	EventAuthenticated
	// EventUnauthenticated drops the session.
	EventUnauthenticated
	// EventFailed records a failure message without deciding the auth flag.
	EventFailed
	// EventErrorCleared drops the failure message and restores whichever of
	// authenticated/unauthenticated matches the current auth flag.
	EventErrorCleared
)

// Event is one input to Reduce.
type Event struct {
	Type    EventType
	User    *api.User
	Message string
}

// Reduce is the pure transition function. It never performs I/O and is safe
// to call from tests directly.
func Reduce(state State, event Event) State {
	switch event.Type {
	case EventLoadStarted:
		state.Status = StatusLoading
		state.Err = ""
	case EventAuthenticated:
		if event.User == nil {
			// Authenticated without a user would break the core invariant;
			// treat it as a dropped session.
			state.Status = StatusUnauthenticated
			state.User = nil
			state.Initialized = true
			return state
		}
		state.Status = StatusAuthenticated
		state.User = event.User
		state.Err = ""
		state.Initialized = true
	case EventUnauthenticated:
		state.Status = StatusUnauthenticated
		state.User = nil
		state.Err = ""
		state.Initialized = true
	case EventFailed:
		state.Status = StatusError
		state.Err = event.Message
	case EventErrorCleared:
		state.Err = ""
		if state.User != nil {
			state.Status = StatusAuthenticated
		} else {
			state.Status = StatusUnauthenticated
		}
	}
	return state
}
