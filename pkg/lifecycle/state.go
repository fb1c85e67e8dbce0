// Package lifecycle runs the identity core's long-lived background
// units: the key ring refresher, the session cache sweeper, and
// whatever listeners the embedding service adds. [BaseWorker] gives
// each unit a validated state machine, hooks, and health reporting;
// [Periodic] wraps a recurring job in a worker; [Group] supervises a
// set of workers and stops them in reverse start order.
//
// A healthy worker moves through
//
//	Unknown → Starting → Running → Stopping → Stopped
//
// with Running → Paused → Running available for temporary suspension.
// Any non-terminal state may fall to Failed, and both terminal states
// restart through Starting. [BaseWorker] rejects every other move
// under its lock, so concurrent observers never see an impossible
// sequence, and all lifecycle methods are safe for concurrent use.
//
// Lifecycle operations are traced with OpenTelemetry under the scope
// "github.com/VetGrid/vetgrid-identity-core/pkg/lifecycle".
package lifecycle

// State is a worker's position in its lifecycle. Workers are
// constructed in [StateUnknown]; the zero value ("") is not a state.
type State string

const (
	StateUnknown  State = "unknown"  // constructed, never started
	StateStarting State = "starting" // OnStart hook in flight
	StateRunning  State = "running"  // processing work; the only healthy state
	StatePaused   State = "paused"   // suspended, resources retained
	StateStopping State = "stopping" // OnStop hook in flight, draining
	StateStopped  State = "stopped"  // clean shutdown; restartable
	StateFailed   State = "failed"   // unrecoverable error; restartable
)

// String returns the state's wire form.
func (s State) String() string {
	return string(s)
}

// Valid reports whether s is one of the recognized lifecycle states.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateStarting, StateRunning, StatePaused,
		StateStopping, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the worker has halted. A terminal worker
// does no work and only leaves the state through a restart.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// ValidTransition reports whether the state machine allows moving
// between the two states. The full matrix:
//
//	Unknown  → Starting, Failed
//	Starting → Running, Stopping, Failed
//	Running  → Paused, Stopping, Failed
//	Paused   → Running, Stopping, Failed
//	Stopping → Stopped, Failed
//	Stopped  → Starting
//	Failed   → Starting
//
// Same-state moves are rejected, as is anything out of an unrecognized
// state.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	switch from {
	case StateUnknown:
		return to == StateStarting || to == StateFailed
	case StateStarting:
		return to == StateRunning || to == StateStopping || to == StateFailed
	case StateRunning:
		return to == StatePaused || to == StateStopping || to == StateFailed
	case StatePaused:
		return to == StateRunning || to == StateStopping || to == StateFailed
	case StateStopping:
		return to == StateStopped || to == StateFailed
	case StateStopped, StateFailed:
		return to == StateStarting
	default:
		return false
	}
}
