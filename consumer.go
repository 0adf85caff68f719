package datasift

// State is the lifecycle state of a Consumer. A consumer moves through
// StateStopped, StateStarting, StateRunning, StateStopping and back to
// StateStopped, once per call to Consume.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Consumer is implemented by anything which delivers events to an
// EventHandler. It is what handlers receive as the first argument of every
// callback.
type Consumer interface {
	// Stop requests that the consumer stop. It only records the request;
	// the consumer notices it at its next poll and shuts down. Stop returns
	// an error whose cause is ErrInvalidData if the consumer is not
	// running.
	Stop() error

	// State returns the current lifecycle state.
	State() State

	// Hashes returns the stream hashes being consumed.
	Hashes() []string
}

// Reasons passed to EventHandler.OnStopped.
const (
	ReasonStopRequested     = "Stop requested"
	ReasonConnectionDropped = "Connection dropped"
	ReasonReplayComplete    = "Replay complete"
)
