package kafka

import (
	"context"
	"io/ioutil"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Shopify/sarama"
	cluster "github.com/bsm/sarama-cluster"
	"github.com/datasift/datasift-go"
	"github.com/datasift/datasift-go/stream"
	"github.com/pkg/errors"
)

// messageSource is the part of a cluster.Consumer a Replayer uses.
type messageSource interface {
	Messages() <-chan *sarama.ConsumerMessage
	MarkOffset(msg *sarama.ConsumerMessage, metadata string)
	Close() error
}

// Replayer reads frames archived by a Sink and delivers them to an
// EventHandler as if they were arriving from a stream. It implements
// datasift.Consumer.
type Replayer struct {
	Hosts    []string
	Topics   []string
	Group    string
	Encoding string

	// MaxMsgs, if positive, ends the replay after that many messages.
	MaxMsgs int

	handler    datasift.EventHandler
	log        datasift.Logger
	codec      codec
	consumer   messageSource
	dispatcher *stream.Dispatcher

	state int32
	stop  chan struct{}

	mu     sync.Mutex
	hashes map[string]struct{}
}

// NewReplayer gets a Replayer which delivers to h. Set the exported fields,
// then call Open before Consume.
func NewReplayer(h datasift.EventHandler, l datasift.Logger) *Replayer {
	if l == nil {
		l = datasift.NopLogger{}
	}
	r := &Replayer{
		Hosts:    []string{"localhost:9092"},
		Topics:   []string{"datasift"},
		Group:    "datasift-replay",
		Encoding: EncodingJSON,
		handler:  h,
		log:      l,
		hashes:   make(map[string]struct{}),
	}
	r.dispatcher = stream.NewDispatcher(r, h, stream.OptDispatcherMulti(), stream.OptDispatcherLogger(l))
	return r
}

// Open joins the consumer group.
func (r *Replayer) Open() error {
	sarama.Logger = log.New(ioutil.Discard, "", 0)
	config := cluster.NewConfig()
	config.Config.Version = sarama.V0_10_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Group.Return.Notifications = true

	consumer, err := cluster.NewConsumer(r.Hosts, r.Group, r.Topics, config)
	if err != nil {
		return errors.Wrap(err, "getting new consumer")
	}

	// consume errors
	go func() {
		for err := range consumer.Errors() {
			r.log.Printf("kafka error: %v", err)
		}
	}()

	// consume notifications
	go func() {
		for ntf := range consumer.Notifications() {
			r.log.Printf("rebalanced: %+v", ntf)
		}
	}()
	return r.open(consumer)
}

func (r *Replayer) open(src messageSource) error {
	c, err := newCodec(r.Encoding)
	if err != nil {
		return err
	}
	r.codec = c
	r.consumer = src
	return nil
}

// Close leaves the consumer group.
func (r *Replayer) Close() error {
	if r.consumer == nil {
		return nil
	}
	return errors.Wrap(r.consumer.Close(), "closing kafka consumer")
}

// State implements datasift.Consumer.
func (r *Replayer) State() datasift.State {
	return datasift.State(atomic.LoadInt32(&r.state))
}

// Stop implements datasift.Consumer.
func (r *Replayer) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.state, int32(datasift.StateRunning), int32(datasift.StateStopping)) {
		return errors.Wrap(datasift.ErrInvalidData, "consumer state must be RUNNING before it can be stopped")
	}
	close(r.stop)
	return nil
}

// Hashes implements datasift.Consumer. It returns the stream hashes seen so
// far in the replay.
func (r *Replayer) Hashes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]string, 0, len(r.hashes))
	for h := range r.hashes {
		ret = append(ret, h)
	}
	sort.Strings(ret)
	return ret
}

// Consume delivers archived frames until stopped, ctx is done, MaxMsgs is
// reached or the consumer's message channel closes.
func (r *Replayer) Consume(ctx context.Context) error {
	if r.consumer == nil {
		return errors.Wrap(datasift.ErrInvalidData, "replayer has not been opened")
	}
	if !atomic.CompareAndSwapInt32(&r.state, int32(datasift.StateStopped), int32(datasift.StateStarting)) {
		return errors.Wrap(datasift.ErrInvalidData, "consumer state must be STOPPED before it can be started")
	}
	r.stop = make(chan struct{})
	atomic.StoreInt32(&r.state, int32(datasift.StateRunning))
	r.handler.OnConnect(r)

	reason := r.run(ctx)

	r.handler.OnDisconnect(r)
	atomic.StoreInt32(&r.state, int32(datasift.StateStopped))
	r.handler.OnStopped(r, reason)
	return nil
}

func (r *Replayer) run(ctx context.Context) string {
	messages := r.consumer.Messages()
	for n := 0; r.MaxMsgs <= 0 || n < r.MaxMsgs; n++ {
		select {
		case <-ctx.Done():
			return datasift.ReasonStopRequested
		case <-r.stop:
			return datasift.ReasonStopRequested
		case msg, ok := <-messages:
			if !ok {
				return datasift.ReasonConnectionDropped
			}
			r.deliver(msg)
		}
		if r.State() != datasift.StateRunning {
			return datasift.ReasonStopRequested
		}
	}
	return datasift.ReasonReplayComplete
}

func (r *Replayer) deliver(msg *sarama.ConsumerMessage) {
	defer r.consumer.MarkOffset(msg, "")
	frame, err := r.codec.decode(msg.Value)
	if err != nil {
		r.log.Printf("skipping message at %s/%d/%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
		r.handler.OnWarning(r, err.Error())
		return
	}
	if hash, ok := frame["hash"].(string); ok && hash != "" {
		r.mu.Lock()
		r.hashes[hash] = struct{}{}
		r.mu.Unlock()
	}
	r.dispatcher.DispatchFrame(frame)
}
