package mock

import (
	"sync"

	"github.com/datasift/datasift-go"
)

// Event is one callback received by a RecordingHandler.
type Event struct {
	Kind        string // "connect", "interaction", "deleted", "status", "warning", "error", "disconnect", "stopped"
	Hash        string
	Message     string // warning or error message, status type, or stop reason
	Interaction datasift.Interaction
	Info        map[string]interface{}
}

// RecordingHandler is a datasift.EventHandler which records every callback.
// It is safe for concurrent use.
type RecordingHandler struct {
	// StopAfter, if positive, makes the handler stop the consumer once it
	// has seen that many interactions.
	StopAfter int

	mu           sync.Mutex
	events       []Event
	interactions int
	stopped      chan struct{}
	once         sync.Once
}

func (r *RecordingHandler) record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *RecordingHandler) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns just the kinds of the recorded events.
func (r *RecordingHandler) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Filter returns the recorded events of one kind.
func (r *RecordingHandler) Filter(kind string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ret []Event
	for _, e := range r.events {
		if e.Kind == kind {
			ret = append(ret, e)
		}
	}
	return ret
}

// Stopped is closed the first time OnStopped is called.
func (r *RecordingHandler) Stopped() <-chan struct{} {
	r.once.Do(r.init)
	return r.stopped
}

func (r *RecordingHandler) init() {
	r.stopped = make(chan struct{})
}

func (r *RecordingHandler) OnConnect(c datasift.Consumer) {
	r.record(Event{Kind: "connect"})
}

func (r *RecordingHandler) OnInteraction(c datasift.Consumer, interaction datasift.Interaction, hash string) {
	r.record(Event{Kind: "interaction", Hash: hash, Interaction: interaction})
	r.mu.Lock()
	r.interactions++
	stop := r.StopAfter > 0 && r.interactions == r.StopAfter
	r.mu.Unlock()
	if stop {
		_ = c.Stop()
	}
}

func (r *RecordingHandler) OnDeleted(c datasift.Consumer, interaction datasift.Interaction, hash string) {
	r.record(Event{Kind: "deleted", Hash: hash, Interaction: interaction})
}

func (r *RecordingHandler) OnStatus(c datasift.Consumer, statusType string, info map[string]interface{}) {
	r.record(Event{Kind: "status", Message: statusType, Info: info})
}

func (r *RecordingHandler) OnWarning(c datasift.Consumer, message string) {
	r.record(Event{Kind: "warning", Message: message})
}

func (r *RecordingHandler) OnError(c datasift.Consumer, message string) {
	r.record(Event{Kind: "error", Message: message})
}

func (r *RecordingHandler) OnDisconnect(c datasift.Consumer) {
	r.record(Event{Kind: "disconnect"})
}

func (r *RecordingHandler) OnStopped(c datasift.Consumer, reason string) {
	r.record(Event{Kind: "stopped", Message: reason})
	r.once.Do(r.init)
	select {
	case <-r.stopped:
	default:
		close(r.stopped)
	}
}

// Consumer is a datasift.Consumer with no stream behind it, for driving
// handlers and dispatchers directly.
type Consumer struct {
	mu     sync.Mutex
	state  datasift.State
	hashes []string
	stops  int
}

// NewConsumer gets a Consumer in the RUNNING state.
func NewConsumer(hashes ...string) *Consumer {
	return &Consumer{state: datasift.StateRunning, hashes: hashes}
}

func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	if c.state != datasift.StateRunning {
		return datasift.ErrInvalidData
	}
	c.state = datasift.StateStopping
	return nil
}

func (c *Consumer) State() datasift.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Consumer) Hashes() []string { return c.hashes }

// Stops is how many times Stop has been called.
func (c *Consumer) Stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}
