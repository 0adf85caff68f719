package pilosa

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/datasift/datasift-go"
	"github.com/datasift/datasift-go/mock"
	"github.com/datasift/datasift-go/test"
)

type recordingIndexer struct {
	mu     sync.Mutex
	calls  []string
	closed int
}

func (r *recordingIndexer) record(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recordingIndexer) AddColumn(field string, col uint64, row string) {
	r.record(fmt.Sprintf("%s/%d/%s", field, col, row))
}

func (r *recordingIndexer) AddColumnTimestamp(field string, col uint64, row string, ts time.Time) {
	r.record(fmt.Sprintf("%s/%d/%s@%d", field, col, row, ts.Unix()))
}

func (r *recordingIndexer) AddValue(field string, col uint64, val int64) {
	r.record(fmt.Sprintf("%s/%d=%d", field, col, val))
}

func (r *recordingIndexer) Close() error {
	r.closed++
	return nil
}

func TestHandler(t *testing.T) {
	idx := &recordingIndexer{}
	h := NewHandler(idx, NewNexter(10), nil)
	c := mock.NewConsumer("abc")

	h.OnInteraction(c, datasift.Interaction{"interaction": map[string]interface{}{
		"id":         "i1",
		"type":       "twitter",
		"created_at": "Mon, 09 Jun 2014 10:26:52 +0000",
		"author":     map[string]interface{}{"username": "someone"},
		"geo":        map[string]interface{}{"latitude": 51.5074, "longitude": -0.1278},
	}}, "abc")
	h.OnInteraction(c, datasift.Interaction{"interaction": map[string]interface{}{"id": "i2"}}, "abc")
	h.OnDeleted(c, datasift.Interaction{"interaction": map[string]interface{}{"id": "i1"}}, "abc")
	h.OnDeleted(c, datasift.Interaction{"interaction": map[string]interface{}{"id": "unknown"}}, "abc")
	h.OnInteraction(c, datasift.Interaction{"tick": 1.0}, "abc")
	test.ErrNil(t, h.Close(), "closing")

	test.MustBe(t, []string{
		"stream_hash/10/abc@1402309612",
		"created_at/10=1402309612",
		"type/10/twitter",
		"author/10/someone",
		"geohash/10/gcpvj0",
		"stream_hash/11/abc",
		"deleted/10/true",
	}, idx.calls)
	test.MustBe(t, 1, idx.closed)
}

func TestNexter(t *testing.T) {
	n := NewNexter(5)
	test.MustBe(t, uint64(5), n.Next())
	test.MustBe(t, uint64(6), n.Next())
	test.MustBe(t, uint64(6), n.Last())
}
