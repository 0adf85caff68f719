package cmd

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/datasift/datasift-go"
	"github.com/pkg/errors"
)

// printer writes every event to out as one JSON object per line. After a
// failed write it prints nothing more and stops the consumer.
type printer struct {
	mu  sync.Mutex
	enc *json.Encoder
	log datasift.Logger
	err error
}

func newPrinter(out io.Writer, l datasift.Logger) *printer {
	return &printer{enc: json.NewEncoder(out), log: l}
}

// Err returns the first write error.
func (p *printer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

type printedEvent struct {
	Event       string                 `json:"event"`
	Hash        string                 `json:"hash,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Interaction datasift.Interaction   `json:"interaction,omitempty"`
	Info        map[string]interface{} `json:"info,omitempty"`
}

func (p *printer) print(c datasift.Consumer, e printedEvent) {
	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	err := p.enc.Encode(e)
	if err != nil {
		p.err = errors.Wrap(err, "printing events")
	}
	p.mu.Unlock()

	if err != nil {
		p.log.Printf("writing %s event: %v", e.Event, err)
		if c.State() == datasift.StateRunning {
			_ = c.Stop()
		}
	}
}

func (p *printer) OnConnect(c datasift.Consumer) {
	p.print(c, printedEvent{Event: "connect"})
}

func (p *printer) OnInteraction(c datasift.Consumer, interaction datasift.Interaction, hash string) {
	p.print(c, printedEvent{Event: "interaction", Hash: hash, Interaction: interaction})
}

func (p *printer) OnDeleted(c datasift.Consumer, interaction datasift.Interaction, hash string) {
	p.print(c, printedEvent{Event: "deleted", Hash: hash, Interaction: interaction})
}

func (p *printer) OnStatus(c datasift.Consumer, statusType string, info map[string]interface{}) {
	p.print(c, printedEvent{Event: "status", Message: statusType, Info: info})
}

func (p *printer) OnWarning(c datasift.Consumer, message string) {
	p.print(c, printedEvent{Event: "warning", Message: message})
}

func (p *printer) OnError(c datasift.Consumer, message string) {
	p.print(c, printedEvent{Event: "error", Message: message})
}

func (p *printer) OnDisconnect(c datasift.Consumer) {
	p.print(c, printedEvent{Event: "disconnect"})
}

func (p *printer) OnStopped(c datasift.Consumer, reason string) {
	p.print(c, printedEvent{Event: "stopped", Message: reason})
}
