package s3

import (
	"bytes"
	"context"
	"io/ioutil"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/datasift/datasift-go"
	"github.com/datasift/datasift-go/mock"
	"github.com/datasift/datasift-go/test"
	"github.com/pkg/errors"
)

// fakeBucket is an in-memory bucket which serves as both the Uploader for
// an Archiver and the S3 API for a Reader.
type fakeBucket struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string][]byte
	fail    error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte)}
}

func (f *fakeBucket) Upload(input *s3manager.UploadInput, options ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	body, err := ioutil.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[*input.Key] = body
	f.mu.Unlock()
	return &s3manager.UploadOutput{}, nil
}

func (f *fakeBucket) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeBucket) ListObjectsPages(input *s3.ListObjectsInput, fn func(*s3.ListObjectsOutput, bool) bool) error {
	out := &s3.ListObjectsOutput{}
	for _, k := range f.keys() {
		if strings.HasPrefix(k, aws.StringValue(input.Prefix)) {
			out.Contents = append(out.Contents, &s3.Object{Key: aws.String(k)})
		}
	}
	fn(out, true)
	return nil
}

func (f *fakeBucket) GetObject(input *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[*input.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: ioutil.NopCloser(bytes.NewReader(body))}, nil
}

func interaction(id string) datasift.Interaction {
	return datasift.Interaction{"interaction": map[string]interface{}{"id": id}}
}

func TestArchiverBatches(t *testing.T) {
	bucket := newFakeBucket()
	a, err := NewArchiver(OptArchiverBucket("b"), OptArchiverPrefix("archive"), OptArchiverBatchSize(2), OptArchiverUploader(bucket))
	test.ErrNil(t, err, "NewArchiver")
	a.now = func() time.Time { return time.Date(2014, 6, 9, 10, 26, 52, 0, time.UTC) }

	c := mock.NewConsumer("h1")
	a.OnInteraction(c, interaction("1"), "h1")
	a.OnInteraction(c, interaction("2"), "h1")
	a.OnDeleted(c, interaction("3"), "h2")
	test.MustBe(t, []string{"archive/20140609T102652Z-000000.json"}, bucket.keys())

	a.OnStopped(c, datasift.ReasonStopRequested)
	test.MustBe(t, []string{"archive/20140609T102652Z-000000.json", "archive/20140609T102652Z-000001.json"}, bucket.keys())

	lines := strings.Split(strings.TrimSpace(string(bucket.objects["archive/20140609T102652Z-000000.json"])), "\n")
	test.MustBe(t, 2, len(lines))
	test.MustBe(t, `{"data":{"interaction":{"id":"1"}},"hash":"h1"}`, lines[0])
	test.MustBe(t, `{"data":{"deleted":true,"interaction":{"id":"3"}},"hash":"h2"}`,
		strings.TrimSpace(string(bucket.objects["archive/20140609T102652Z-000001.json"])))
	test.ErrNil(t, a.Err(), "Err")
}

func TestArchiverUploadFailure(t *testing.T) {
	bucket := newFakeBucket()
	bucket.fail = errors.New("access denied")
	a, err := NewArchiver(OptArchiverBucket("b"), OptArchiverUploader(bucket))
	test.ErrNil(t, err, "NewArchiver")

	a.OnInteraction(mock.NewConsumer("h1"), interaction("1"), "h1")
	if err := a.Flush(); err == nil {
		t.Fatalf("expected flush to fail")
	}
	if a.Err() == nil {
		t.Fatalf("expected the failure to be recorded")
	}

	bucket.fail = nil
	test.ErrNil(t, a.Flush(), "retrying flush")
	test.MustBe(t, 1, len(bucket.keys()))
}

func TestNewArchiverRequiresBucket(t *testing.T) {
	if _, err := NewArchiver(OptArchiverUploader(newFakeBucket())); errors.Cause(err) != datasift.ErrInvalidData {
		t.Fatalf("expected invalid data, got %v", err)
	}
}

func TestArchiveReplay(t *testing.T) {
	bucket := newFakeBucket()
	a, err := NewArchiver(OptArchiverBucket("b"), OptArchiverPrefix("archive"), OptArchiverBatchSize(2), OptArchiverUploader(bucket))
	test.ErrNil(t, err, "NewArchiver")
	seq := 0
	a.now = func() time.Time { seq++; return time.Unix(int64(seq), 0) }

	c := mock.NewConsumer("h1", "h2")
	a.OnInteraction(c, interaction("1"), "h1")
	a.OnInteraction(c, interaction("2"), "h2")
	a.OnDeleted(c, interaction("3"), "h1")
	test.ErrNil(t, a.Flush(), "Flush")
	bucket.objects["other/ignored.json"] = []byte(`{"hash":"x","data":{"interaction":{"id":"x"}}}`)

	h := &mock.RecordingHandler{}
	r, err := newReader(bucket, "b", "archive", h, nil)
	test.ErrNil(t, err, "newReader")
	test.ErrNil(t, r.Consume(context.Background()), "Consume")

	var got []string
	for _, e := range h.Events() {
		got = append(got, e.Kind+":"+e.Hash+":"+e.Interaction.ID())
	}
	test.MustBe(t, []string{"connect::", "interaction:h1:1", "interaction:h2:2", "deleted:h1:3", "disconnect::", "stopped::"}, got)
	test.MustBe(t, datasift.ReasonReplayComplete, h.Filter("stopped")[0].Message)
}

func TestReaderStopsWhenAsked(t *testing.T) {
	bucket := newFakeBucket()
	bucket.objects["archive/1.json"] = []byte(`{"hash":"h","data":{"interaction":{"id":"1"}}}` + "\n" +
		`{"hash":"h","data":{"interaction":{"id":"2"}}}` + "\n")

	h := &mock.RecordingHandler{StopAfter: 1}
	r, err := newReader(bucket, "b", "archive", h, nil)
	test.ErrNil(t, err, "newReader")
	test.ErrNil(t, r.Consume(context.Background()), "Consume")

	test.MustBe(t, 1, len(h.Filter("interaction")))
	test.MustBe(t, datasift.ReasonStopRequested, h.Filter("stopped")[0].Message)
	test.MustBe(t, datasift.StateStopped, r.State())
}
