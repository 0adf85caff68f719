// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

// Package http receives DataSift push deliveries over HTTP and dispatches
// the interactions they carry to a datasift.EventHandler.
package http

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datasift/datasift-go"
	"github.com/datasift/datasift-go/stream"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// Headers set by DataSift on every push delivery.
const (
	HeaderHash     = "X-DataSift-Hash"
	HeaderHashType = "X-DataSift-Hash-Type"
	HeaderID       = "X-DataSift-ID"
)

// delivery is the body of a push in the json_meta format.
type delivery struct {
	ID           string                   `json:"id"`
	Hash         string                   `json:"hash"`
	HashType     string                   `json:"hash_type"`
	Count        int                      `json:"count"`
	DeliveredAt  string                   `json:"delivered_at"`
	Interactions []map[string]interface{} `json:"interactions"`
}

// Receiver implements datasift.Consumer by listening for push deliveries.
// It starts listening as soon as it is created, but only accepts deliveries
// while Consume is running; at other times it answers 503 so that DataSift
// holds the data and retries.
type Receiver struct {
	addr      string
	path      string
	maxBody   int64
	listener  net.Listener
	server    *http.Server
	accessLog io.Writer

	handler    datasift.EventHandler
	dispatcher *stream.Dispatcher
	log        datasift.Logger
	stats      datasift.Statter

	state    int32
	stop     chan struct{}
	serveErr chan error

	// dispatchMu serializes handler callbacks across concurrent requests.
	dispatchMu sync.Mutex

	mu     sync.Mutex
	hashes map[string]struct{}
}

// ReceiverOption is a functional option type for Receiver.
type ReceiverOption func(r *Receiver)

// OptReceiverAddr is an option for the Receiver which causes it to bind to
// the given address.
func OptReceiverAddr(addr string) ReceiverOption {
	return func(r *Receiver) {
		r.addr = addr
	}
}

// OptReceiverListener is an option for Receiver which causes it to use the
// given listener. It will infer the address from the listener.
func OptReceiverListener(l net.Listener) ReceiverOption {
	return func(r *Receiver) {
		r.listener = l
		r.addr = l.Addr().String()
	}
}

// OptReceiverPath sets the path deliveries are posted to. The default is
// "/push".
func OptReceiverPath(path string) ReceiverOption {
	return func(r *Receiver) {
		r.path = path
	}
}

// OptReceiverMaxBody limits the size of a delivery body.
func OptReceiverMaxBody(n int64) ReceiverOption {
	return func(r *Receiver) {
		r.maxBody = n
	}
}

// OptReceiverAccessLog writes an Apache combined format access log to w.
func OptReceiverAccessLog(w io.Writer) ReceiverOption {
	return func(r *Receiver) {
		r.accessLog = w
	}
}

func OptReceiverLogger(l datasift.Logger) ReceiverOption {
	return func(r *Receiver) {
		r.log = l
	}
}

func OptReceiverStatter(s datasift.Statter) ReceiverOption {
	return func(r *Receiver) {
		r.stats = s
	}
}

// NewReceiver creates a Receiver which delivers to h and starts serving.
func NewReceiver(h datasift.EventHandler, opts ...ReceiverOption) (*Receiver, error) {
	if h == nil {
		return nil, errors.Wrap(datasift.ErrInvalidData, "an event handler is required")
	}
	r := &Receiver{
		addr:     ":8080",
		path:     "/push",
		maxBody:  50 << 20,
		handler:  h,
		log:      datasift.NopLogger{},
		stats:    datasift.NopStatter{},
		serveErr: make(chan error, 1),
		hashes:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.dispatcher = stream.NewDispatcher(r, h, stream.OptDispatcherMulti(), stream.OptDispatcherLogger(r.log))

	if r.listener == nil {
		var err error
		r.listener, err = net.Listen("tcp", r.addr)
		if err != nil {
			return nil, errors.Wrap(err, "listening")
		}
	}

	r.server = &http.Server{
		Addr:         r.addr,
		Handler:      r.routes(),
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
	}
	go func() {
		err := r.server.Serve(r.listener)
		if err != nil && err != http.ErrServerClosed {
			r.serveErr <- errors.Wrap(err, "serving")
		}
	}()
	return r, nil
}

func (r *Receiver) routes() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc(r.path, r.handlePush).Methods(http.MethodPost)
	router.HandleFunc("/status", r.handleStatus).Methods(http.MethodGet)

	var h http.Handler = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(router)
	if r.accessLog != nil {
		h = handlers.CombinedLoggingHandler(r.accessLog, h)
	}
	return h
}

// Addr gets the address that the Receiver is listening on.
func (r *Receiver) Addr() string {
	if r.listener != nil {
		return r.listener.Addr().String()
	}
	return r.addr
}

// State implements datasift.Consumer.
func (r *Receiver) State() datasift.State {
	return datasift.State(atomic.LoadInt32(&r.state))
}

// Stop implements datasift.Consumer.
func (r *Receiver) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.state, int32(datasift.StateRunning), int32(datasift.StateStopping)) {
		return errors.Wrap(datasift.ErrInvalidData, "consumer state must be RUNNING before it can be stopped")
	}
	close(r.stop)
	return nil
}

// Hashes implements datasift.Consumer. It returns the hashes deliveries have
// been received for.
func (r *Receiver) Hashes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]string, 0, len(r.hashes))
	for h := range r.hashes {
		ret = append(ret, h)
	}
	sort.Strings(ret)
	return ret
}

// Consume accepts deliveries until Stop is called, ctx is done, or the
// server fails.
func (r *Receiver) Consume(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&r.state, int32(datasift.StateStopped), int32(datasift.StateStarting)) {
		return errors.Wrap(datasift.ErrInvalidData, "consumer state must be STOPPED before it can be started")
	}
	r.stop = make(chan struct{})
	atomic.StoreInt32(&r.state, int32(datasift.StateRunning))
	r.log.Printf("accepting push deliveries on %s%s", r.Addr(), r.path)
	r.handler.OnConnect(r)

	var err error
	reason := datasift.ReasonStopRequested
	select {
	case <-ctx.Done():
	case <-r.stop:
	case err = <-r.serveErr:
		reason = err.Error()
	}

	atomic.StoreInt32(&r.state, int32(datasift.StateStopping))
	r.dispatchMu.Lock()
	r.handler.OnDisconnect(r)
	atomic.StoreInt32(&r.state, int32(datasift.StateStopped))
	r.handler.OnStopped(r, reason)
	r.dispatchMu.Unlock()
	return err
}

// Close shuts down the HTTP server, waiting up to timeout for requests in
// flight.
func (r *Receiver) Close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return errors.Wrap(r.server.Shutdown(ctx), "shutting down server")
}

func (r *Receiver) handleStatus(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]interface{}{
		"state":  r.State().String(),
		"hashes": r.Hashes(),
	})
	if err != nil {
		r.log.Printf("writing status: %v", err)
	}
}

func (r *Receiver) handlePush(w http.ResponseWriter, req *http.Request) {
	if r.State() != datasift.StateRunning {
		http.Error(w, "not accepting deliveries", http.StatusServiceUnavailable)
		return
	}

	body, err := r.readBody(w, req)
	if err != nil {
		r.fail(w, err, http.StatusBadRequest)
		return
	}
	d, err := decodeDelivery(body)
	if err != nil {
		r.fail(w, err, http.StatusBadRequest)
		return
	}
	if d.Hash == "" {
		d.Hash = req.Header.Get(HeaderHash)
	}
	if d.Hash == "" {
		r.fail(w, errors.New("delivery does not name its stream hash"), http.StatusBadRequest)
		return
	}
	if len(d.Interactions) == 0 {
		// DataSift checks an endpoint with an empty delivery when a
		// subscription is created.
		r.log.Debugf("push check for %s (%s)", d.Hash, req.Header.Get(HeaderID))
	} else if n := r.deliver(d); n < len(d.Interactions) {
		// DataSift resends a delivery that isn't acknowledged, so the
		// whole batch is refused rather than dropping its tail.
		r.log.Printf("stopped after %d of %d interactions in delivery %s", n, len(d.Interactions), req.Header.Get(HeaderID))
		r.stats.Count("push.incomplete", 1, 1, "hash:"+d.Hash)
		http.Error(w, "stopped part way through the delivery", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, err = io.WriteString(w, `{"success":true}`)
	if err != nil {
		r.log.Printf("writing push response: %v", err)
	}
}

func (r *Receiver) fail(w http.ResponseWriter, err error, code int) {
	r.log.Printf("rejecting push delivery: %v", err)
	r.stats.Count("push.rejected", 1, 1)
	http.Error(w, err.Error(), code)
}

func (r *Receiver) readBody(w http.ResponseWriter, req *http.Request) ([]byte, error) {
	var rd io.Reader = http.MaxBytesReader(w, req.Body, r.maxBody)
	if req.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(rd)
		if err != nil {
			return nil, errors.Wrap(err, "opening gzip body")
		}
		defer gz.Close()
		rd = gz
	}
	body, err := ioutil.ReadAll(rd)
	return body, errors.Wrap(err, "reading body")
}

// deliver dispatches the interactions in d until the receiver leaves the
// RUNNING state, and returns how many it dispatched.
func (r *Receiver) deliver(d *delivery) int {
	r.mu.Lock()
	r.hashes[d.Hash] = struct{}{}
	r.mu.Unlock()

	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	n := 0
	for _, interaction := range d.Interactions {
		if r.State() != datasift.StateRunning {
			break
		}
		r.dispatcher.DispatchFrame(map[string]interface{}{
			"hash": d.Hash,
			"data": interaction,
		})
		n++
	}
	r.stats.Count("push.interactions", int64(n), 1, "hash:"+d.Hash)
	if n == len(d.Interactions) {
		r.stats.Count("push.delivery", 1, 1, "hash:"+d.Hash)
	}
	return n
}

// decodeDelivery accepts the three push output formats: json_meta (an
// object with an interactions array), json_array and json_new_line. The
// latter two carry no metadata, so the hash comes from the headers.
func decodeDelivery(body []byte) (*delivery, error) {
	body = bytes.TrimSpace(body)
	d := &delivery{}
	if len(body) == 0 {
		return d, nil
	}
	if body[0] == '[' {
		err := json.Unmarshal(body, &d.Interactions)
		return d, errors.Wrap(err, "decoding json_array delivery")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	for {
		obj := make(map[string]interface{})
		err := dec.Decode(&obj)
		if err == io.EOF {
			return d, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "decoding json")
		}
		if _, ok := obj["interactions"]; ok && len(d.Interactions) == 0 {
			if err := json.Unmarshal(body, d); err != nil {
				return nil, errors.Wrap(err, "decoding json_meta delivery")
			}
			return d, nil
		}
		d.Interactions = append(d.Interactions, obj)
	}
}
