package stream

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/datasift/datasift-go"
	"github.com/pkg/errors"
)

// Source is anything with a stream hash: a *datasift.Definition, a
// *datasift.Historic, or a bare hash via Hash.
type Source interface {
	Hash() (string, error)
}

// Starter is implemented by sources which need starting before their stream
// can be consumed, such as historic queries.
type Starter interface {
	Start() error
}

// Hash is a Source for a stream hash which is already known.
type Hash string

func (h Hash) Hash() (string, error) {
	if h == "" {
		return "", errors.Wrap(datasift.ErrInvalidData, "empty stream hash")
	}
	return string(h), nil
}

// Consumer reads interactions from the DataSift streaming API and delivers
// them to an EventHandler. It is the HTTP implementation of
// datasift.Consumer.
//
// Everything except Stop, State and Hashes must only be called from the
// goroutine running Consume. Handler callbacks are made from that goroutine
// too, one at a time, in the order frames arrive.
type Consumer struct {
	user    *datasift.User
	source  Source
	handler datasift.EventHandler

	hash   string
	hashes []string
	multi  bool

	connectTimeout time.Duration
	pollTimeout    time.Duration
	streamTimeout  time.Duration
	maxLineLength  int
	dial           DialFunc
	sleep          SleepFunc
	tlsConfig      *tls.Config
	log            datasift.Logger
	stats          datasift.Statter

	state      int32
	conn       *connection
	backoff    backoff
	dispatcher *Dispatcher
}

// NewConsumer gets a Consumer for the single stream identified by source.
// The source's hash is resolved here, so a Definition is compiled (or found
// in its cache) before NewConsumer returns.
func NewConsumer(user *datasift.User, source Source, h datasift.EventHandler, opts ...ConsumerOption) (*Consumer, error) {
	if source == nil {
		return nil, errors.Wrap(datasift.ErrInvalidData, "a stream source is required")
	}
	hash, err := source.Hash()
	if err != nil {
		return nil, errors.Wrap(err, "getting stream hash")
	}
	c, err := newConsumer(user, h, opts...)
	if err != nil {
		return nil, err
	}
	c.source = source
	c.hash = hash
	c.hashes = []string{hash}
	c.dispatcher = NewDispatcher(c, h, OptDispatcherHash(hash), OptDispatcherLogger(c.log))
	return c, nil
}

// NewMultiConsumer gets a Consumer which reads several streams over one
// connection. Every interaction is delivered with the hash of the stream it
// matched.
func NewMultiConsumer(user *datasift.User, hashes []string, h datasift.EventHandler, opts ...ConsumerOption) (*Consumer, error) {
	if len(hashes) == 0 {
		return nil, errors.Wrap(datasift.ErrInvalidData, "at least one stream hash is required")
	}
	for _, hash := range hashes {
		if hash == "" {
			return nil, errors.Wrap(datasift.ErrInvalidData, "empty stream hash")
		}
	}
	c, err := newConsumer(user, h, opts...)
	if err != nil {
		return nil, err
	}
	c.multi = true
	c.hashes = append([]string(nil), hashes...)
	c.dispatcher = NewDispatcher(c, h, OptDispatcherMulti(), OptDispatcherLogger(c.log))
	return c, nil
}

func newConsumer(user *datasift.User, h datasift.EventHandler, opts ...ConsumerOption) (*Consumer, error) {
	if user == nil {
		return nil, errors.Wrap(datasift.ErrInvalidData, "a user is required")
	}
	if h == nil {
		return nil, errors.Wrap(datasift.ErrInvalidData, "an event handler is required")
	}
	c := &Consumer{
		user:           user,
		handler:        h,
		connectTimeout: DefaultConnectTimeout,
		pollTimeout:    DefaultPollTimeout,
		streamTimeout:  DefaultStreamTimeout,
		maxLineLength:  DefaultMaxLineLength,
		dial:           net.DialTimeout,
		sleep:          sleep,
		log:            datasift.NopLogger{},
		stats:          datasift.NopStatter{},
		state:          int32(datasift.StateStopped),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State implements datasift.Consumer.
func (c *Consumer) State() datasift.State {
	return datasift.State(atomic.LoadInt32(&c.state))
}

// Hashes implements datasift.Consumer.
func (c *Consumer) Hashes() []string {
	return append([]string(nil), c.hashes...)
}

// Stop implements datasift.Consumer. The consumer notices the request the
// next time it polls, so Consume returns within the poll timeout.
func (c *Consumer) Stop() error {
	if !c.transition(datasift.StateRunning, datasift.StateStopping) {
		return errors.Wrap(datasift.ErrInvalidData, "consumer state must be RUNNING before it can be stopped")
	}
	c.log.Debugf("stop requested")
	return nil
}

func (c *Consumer) setState(s datasift.State) {
	atomic.StoreInt32(&c.state, int32(s))
}

func (c *Consumer) transition(from, to datasift.State) bool {
	return atomic.CompareAndSwapInt32(&c.state, int32(from), int32(to))
}

// Consume connects and delivers events until the consumer is stopped, ctx is
// done, the connection drops and autoReconnect is false, or reconnecting
// fails for good. A stop, whether by Stop or ctx, is not an error. Fatal
// failures are returned as a *datasift.StreamError.
//
// OnStopped is called exactly once before Consume returns, as long as
// Consume got as far as starting.
func (c *Consumer) Consume(ctx context.Context, autoReconnect bool) (err error) {
	if !c.transition(datasift.StateStopped, datasift.StateStarting) {
		return errors.Wrap(datasift.ErrInvalidData, "consumer state must be STOPPED before it can be started")
	}
	var readErr error
	defer func() {
		c.onStop(ctx, err, readErr)
	}()

	if s, ok := c.source.(Starter); ok {
		if serr := s.Start(); serr != nil {
			return errors.Wrap(serr, "starting source")
		}
	}

	for {
		conn, cerr := c.connect(ctx)
		if cerr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return cerr
		}
		c.conn = conn
		if c.State() == datasift.StateRunning {
			c.handler.OnConnect(c)
		}

		readErr = c.readLoop(ctx)
		c.disconnect()
		c.handler.OnDisconnect(c)

		if ctx.Err() != nil || !autoReconnect {
			return nil
		}
		if !c.transition(datasift.StateRunning, datasift.StateStarting) {
			return nil
		}
		c.stats.Count("stream.reconnect", 1, 1)
		c.log.Printf("reconnecting after: %v", readErrString(readErr))
	}
}

// readLoop delivers frames until the consumer leaves the RUNNING state or
// the connection fails. A nil return means the loop was stopped.
func (c *Consumer) readLoop(ctx context.Context) error {
	frames := c.conn.frames
	for c.State() == datasift.StateRunning {
		select {
		case <-ctx.Done():
			c.transition(datasift.StateRunning, datasift.StateStopping)
			return nil
		default:
		}

		ready, err := frames.poll()
		if err != nil {
			return err
		}
		if !ready {
			continue
		}
		line, err := frames.next()
		if err == errLineTooLong {
			c.stats.Count("stream.frame.too_long", 1, 1)
			c.dispatcher.warn("skipping frame longer than the maximum line length")
			continue
		} else if err != nil {
			return err
		}
		if len(line) == 0 {
			continue
		}
		c.stats.Count("stream.frame", 1, 1)
		c.dispatcher.Dispatch(line)
	}
	return nil
}

// onStop runs once per Consume, however it ends.
func (c *Consumer) onStop(ctx context.Context, err, readErr error) {
	reason := datasift.ReasonConnectionDropped
	switch {
	case c.State() == datasift.StateStopping || ctx.Err() != nil:
		reason = datasift.ReasonStopRequested
	case err != nil:
		reason = err.Error()
	case readErr != nil && readErr != io.EOF:
		reason += ": " + readErr.Error()
	}
	c.disconnect()
	c.setState(datasift.StateStopped)
	c.log.Printf("stopped: %s", reason)
	c.handler.OnStopped(c, reason)
}

func readErrString(err error) string {
	if err == nil || err == io.EOF {
		return "connection closed by server"
	}
	return err.Error()
}
