package stream

import (
	"encoding/json"
	"fmt"

	"github.com/datasift/datasift-go"
	"github.com/spf13/cast"
)

// Dispatcher decodes frames and routes them to an EventHandler. It is used
// by the stream Consumer, and by anything else which receives frames in the
// streaming format (push deliveries, replays).
//
// Dispatch is synchronous: the handler has returned by the time Dispatch
// does.
type Dispatcher struct {
	consumer datasift.Consumer
	handler  datasift.EventHandler
	hash     string
	multi    bool
	log      datasift.Logger
}

// DispatcherOption is a functional option type for Dispatcher.
type DispatcherOption func(d *Dispatcher)

// OptDispatcherHash sets the hash reported for frames which don't carry
// their own.
func OptDispatcherHash(hash string) DispatcherOption {
	return func(d *Dispatcher) {
		d.hash = hash
	}
}

// OptDispatcherMulti requires every interaction frame to carry the hash of
// the stream it came from, as frames on a multi-stream connection do.
// Frames without one are dropped with a warning.
func OptDispatcherMulti() DispatcherOption {
	return func(d *Dispatcher) {
		d.multi = true
	}
}

func OptDispatcherLogger(l datasift.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.log = l
	}
}

// NewDispatcher gets a Dispatcher which delivers to h on behalf of c.
func NewDispatcher(c datasift.Consumer, h datasift.EventHandler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		consumer: c,
		handler:  h,
		log:      datasift.NopLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch decodes one frame and routes it. Frames which aren't valid JSON
// objects are reported through OnWarning and otherwise ignored.
func (d *Dispatcher) Dispatch(line []byte) {
	var frame map[string]interface{}
	if err := json.Unmarshal(line, &frame); err != nil {
		d.warn(fmt.Sprintf("skipping malformed frame: %v", err))
		return
	}
	if len(frame) == 0 {
		return
	}
	d.DispatchFrame(frame)
}

// DispatchFrame routes an already decoded frame. Status messages come first:
// errors are passed to OnError and stop the consumer, warnings go to
// OnWarning, and anything else to OnStatus. Otherwise the frame is unwrapped
// if it carries its stream's hash, and passed to OnDeleted or OnInteraction.
// Frames which are neither (ticks) are dropped.
func (d *Dispatcher) DispatchFrame(frame map[string]interface{}) {
	if status, ok := frame["status"]; ok {
		d.status(cast.ToString(status), frame)
		return
	}

	hash, data, named := d.hash, frame, false
	if inner, ok := frame["data"].(map[string]interface{}); ok {
		if h := cast.ToString(frame["hash"]); h != "" {
			hash, data, named = h, inner, true
		}
	}
	if d.multi && !named {
		d.warn("skipping multi-stream frame which does not name its stream hash")
		return
	}

	interaction := datasift.Interaction(data)
	switch {
	case interaction.IsDeleted():
		d.handler.OnDeleted(d.consumer, interaction, hash)
	case interaction.HasInteraction():
		d.handler.OnInteraction(d.consumer, interaction, hash)
	default:
		d.log.Debugf("ignoring frame without an interaction: %v", frame)
	}
}

func (d *Dispatcher) status(statusType string, frame map[string]interface{}) {
	switch statusType {
	case "error", "failure":
		d.log.Printf("stream error: %v", frame["message"])
		d.handler.OnError(d.consumer, cast.ToString(frame["message"]))
		if d.consumer.State() == datasift.StateRunning {
			if err := d.consumer.Stop(); err != nil {
				d.log.Printf("stopping after stream error: %v", err)
			}
		}
	case "warning":
		d.handler.OnWarning(d.consumer, cast.ToString(frame["message"]))
	default:
		delete(frame, "status")
		d.handler.OnStatus(d.consumer, statusType, frame)
	}
}

// warn reports a problem with the stream itself through the log and the
// handler.
func (d *Dispatcher) warn(msg string) {
	d.log.Printf("warning: %s", msg)
	d.handler.OnWarning(d.consumer, msg)
}
