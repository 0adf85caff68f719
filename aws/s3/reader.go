package s3

import (
	"bufio"
	"context"
	"io"
	"sync/atomic"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/datasift/datasift-go"
	"github.com/datasift/datasift-go/stream"
	"github.com/pkg/errors"
)

// maxFrame bounds a single archived line.
const maxFrame = 1 << 20

// Reader replays objects written by an Archiver to an EventHandler. It
// implements datasift.Consumer.
type Reader struct {
	bucket string
	prefix string

	s3      s3iface.S3API
	objects []*s3.Object
	objIdx  int

	handler    datasift.EventHandler
	log        datasift.Logger
	dispatcher *stream.Dispatcher
	state      int32
}

// NewReader lists the archived objects under prefix in bucket.
func NewReader(region, bucket, prefix string, h datasift.EventHandler, l datasift.Logger) (*Reader, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region)},
	)
	if err != nil {
		return nil, errors.Wrap(err, "getting new session")
	}
	return newReader(s3.New(sess), bucket, prefix, h, l)
}

func newReader(api s3iface.S3API, bucket, prefix string, h datasift.EventHandler, l datasift.Logger) (*Reader, error) {
	if h == nil {
		return nil, errors.Wrap(datasift.ErrInvalidData, "an event handler is required")
	}
	if l == nil {
		l = datasift.NopLogger{}
	}
	r := &Reader{bucket: bucket, prefix: prefix, s3: api, handler: h, log: l}
	r.dispatcher = stream.NewDispatcher(r, h, stream.OptDispatcherMulti(), stream.OptDispatcherLogger(l))
	err := api.ListObjectsPages(&s3.ListObjectsInput{Bucket: aws.String(bucket), Prefix: aws.String(prefix)},
		func(page *s3.ListObjectsOutput, last bool) bool {
			r.objects = append(r.objects, page.Contents...)
			return true
		})
	if err != nil {
		return nil, errors.Wrap(err, "listing objects")
	}
	return r, nil
}

// State implements datasift.Consumer.
func (r *Reader) State() datasift.State {
	return datasift.State(atomic.LoadInt32(&r.state))
}

// Stop implements datasift.Consumer.
func (r *Reader) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.state, int32(datasift.StateRunning), int32(datasift.StateStopping)) {
		return errors.Wrap(datasift.ErrInvalidData, "consumer state must be RUNNING before it can be stopped")
	}
	return nil
}

// Hashes implements datasift.Consumer. Archives can hold any number of
// streams, so there is nothing to report up front.
func (r *Reader) Hashes() []string { return nil }

// nextReader opens the next object, or returns io.EOF when there are none
// left.
func (r *Reader) nextReader() (string, io.ReadCloser, error) {
	if r.objIdx >= len(r.objects) {
		return "", nil, io.EOF
	}
	obj := r.objects[r.objIdx]
	r.objIdx++

	result, err := r.s3.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(*obj.Key),
	})
	if err != nil {
		return "", nil, errors.Wrapf(err, "fetching %v", *obj.Key)
	}
	return *obj.Key, result.Body, nil
}

// Consume feeds every archived frame, in object order, to the handler. It
// stops early if ctx is done or Stop is called.
func (r *Reader) Consume(ctx context.Context) (err error) {
	if !atomic.CompareAndSwapInt32(&r.state, int32(datasift.StateStopped), int32(datasift.StateRunning)) {
		return errors.Wrap(datasift.ErrInvalidData, "consumer state must be STOPPED before it can be started")
	}
	r.handler.OnConnect(r)
	reason := datasift.ReasonReplayComplete
	defer func() {
		if r.State() == datasift.StateStopping || ctx.Err() != nil {
			reason = datasift.ReasonStopRequested
		} else if err != nil {
			reason = err.Error()
		}
		r.handler.OnDisconnect(r)
		atomic.StoreInt32(&r.state, int32(datasift.StateStopped))
		r.handler.OnStopped(r, reason)
	}()

	for {
		name, body, err := r.nextReader()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		err = r.replay(ctx, body)
		body.Close()
		if err != nil {
			return errors.Wrapf(err, "reading %s", name)
		}
		if ctx.Err() != nil || r.State() != datasift.StateRunning {
			return nil
		}
	}
}

func (r *Reader) replay(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxFrame)
	for scanner.Scan() {
		if ctx.Err() != nil || r.State() != datasift.StateRunning {
			return nil
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}
		r.dispatcher.Dispatch(scanner.Bytes())
	}
	return scanner.Err()
}
