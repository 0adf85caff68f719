package http_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"io/ioutil"
	"net"
	gohttp "net/http"
	"strings"
	"testing"
	"time"

	"github.com/datasift/datasift-go"
	"github.com/datasift/datasift-go/http"
	"github.com/datasift/datasift-go/mock"
	"github.com/datasift/datasift-go/test"
)

func newReceiver(t *testing.T, h datasift.EventHandler, opts ...http.ReceiverOption) *http.Receiver {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	test.ErrNil(t, err, "listening")
	r, err := http.NewReceiver(h, append([]http.ReceiverOption{http.OptReceiverListener(ln)}, opts...)...)
	test.ErrNil(t, err, "NewReceiver")
	return r
}

func startConsuming(t *testing.T, r *http.Receiver) <-chan error {
	t.Helper()
	errs := make(chan error, 1)
	go func() { errs <- r.Consume(context.Background()) }()
	deadline := time.Now().Add(2 * time.Second)
	for r.State() != datasift.StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("receiver never started: %v", r.State())
		}
		time.Sleep(time.Millisecond)
	}
	return errs
}

func post(t *testing.T, r *http.Receiver, body string, header map[string]string) (int, string) {
	t.Helper()
	req, err := gohttp.NewRequest("POST", "http://"+r.Addr()+"/push", strings.NewReader(body))
	test.ErrNil(t, err, "building request")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	return do(t, req)
}

func do(t *testing.T, req *gohttp.Request) (int, string) {
	t.Helper()
	resp, err := gohttp.DefaultClient.Do(req)
	test.ErrNil(t, err, "posting")
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	test.ErrNil(t, err, "reading response")
	return resp.StatusCode, string(b)
}

func TestReceiverFormats(t *testing.T) {
	h := &mock.RecordingHandler{}
	r := newReceiver(t, h)
	defer r.Close(time.Second)
	errs := startConsuming(t, r)

	tests := []struct {
		name   string
		body   string
		header map[string]string
		hash   string
		ids    []string
	}{
		{
			name: "json_meta",
			body: `{"id":"d1","hash":"aaa","hash_type":"stream","count":2,"interactions":[
				{"interaction":{"id":"1"}},{"interaction":{"id":"2"}}]}`,
			hash: "aaa",
			ids:  []string{"1", "2"},
		},
		{
			name:   "json_array",
			body:   `[{"interaction":{"id":"3"}}]`,
			header: map[string]string{http.HeaderHash: "bbb"},
			hash:   "bbb",
			ids:    []string{"3"},
		},
		{
			name:   "json_new_line",
			body:   "{\"interaction\":{\"id\":\"4\"}}\n{\"interaction\":{\"id\":\"5\"}}\n",
			header: map[string]string{http.HeaderHash: "ccc"},
			hash:   "ccc",
			ids:    []string{"4", "5"},
		},
	}
	seen := 0
	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			code, body := post(t, r, tst.body, tst.header)
			test.MustBe(t, 200, code)
			test.MustBe(t, `{"success":true}`, body)
			got := h.Filter("interaction")[seen:]
			seen += len(got)
			if len(got) != len(tst.ids) {
				t.Fatalf("expected %d interactions, got %d", len(tst.ids), len(got))
			}
			for i, e := range got {
				test.MustBe(t, tst.hash, e.Hash)
				test.MustBe(t, tst.ids[i], e.Interaction.ID())
			}
		})
	}
	test.MustBe(t, []string{"aaa", "bbb", "ccc"}, r.Hashes())

	test.ErrNil(t, r.Stop(), "stopping")
	test.ErrNil(t, <-errs, "consume")
	stopped := h.Filter("stopped")
	test.MustBe(t, 1, len(stopped))
	test.MustBe(t, datasift.ReasonStopRequested, stopped[0].Message)
}

func TestReceiverRejects(t *testing.T) {
	h := &mock.RecordingHandler{}
	r := newReceiver(t, h)
	defer r.Close(time.Second)

	code, _ := post(t, r, `{"hash":"aaa","interactions":[{"interaction":{"id":"1"}}]}`, nil)
	test.MustBe(t, gohttp.StatusServiceUnavailable, code, "before consuming")

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- r.Consume(ctx) }()
	deadline := time.Now().Add(2 * time.Second)
	for r.State() != datasift.StateRunning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	code, _ = post(t, r, `[{"interaction":{"id":"1"}}]`, nil)
	test.MustBe(t, gohttp.StatusBadRequest, code, "no hash")
	code, _ = post(t, r, `{"hash":`, nil)
	test.MustBe(t, gohttp.StatusBadRequest, code, "bad json")
	code, _ = post(t, r, `{"id":"check","hash":"aaa","count":0,"interactions":[]}`, nil)
	test.MustBe(t, gohttp.StatusOK, code, "push check")
	test.MustBe(t, 0, len(h.Filter("interaction")))

	cancel()
	test.ErrNil(t, <-errs, "consume")
	test.MustBe(t, datasift.StateStopped, r.State())
}

func TestReceiverGzip(t *testing.T) {
	h := &mock.RecordingHandler{}
	r := newReceiver(t, h)
	defer r.Close(time.Second)
	errs := startConsuming(t, r)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(`{"hash":"aaa","interactions":[{"interaction":{"id":"1"}}]}`))
	test.ErrNil(t, err, "compressing")
	test.ErrNil(t, gz.Close(), "closing gzip")

	req, err := gohttp.NewRequest("POST", "http://"+r.Addr()+"/push", &buf)
	test.ErrNil(t, err, "building request")
	req.Header.Set("Content-Encoding", "gzip")
	code, _ := do(t, req)
	test.MustBe(t, 200, code)
	test.MustBe(t, 1, len(h.Filter("interaction")))

	test.ErrNil(t, r.Stop(), "stopping")
	test.ErrNil(t, <-errs, "consume")
}

func TestReceiverStopAfter(t *testing.T) {
	h := &mock.RecordingHandler{StopAfter: 1}
	r := newReceiver(t, h)
	defer r.Close(time.Second)
	errs := startConsuming(t, r)

	code, _ := post(t, r, `{"hash":"aaa","interactions":[{"interaction":{"id":"1"}}]}`, nil)
	test.MustBe(t, 200, code, "stopping on the last interaction completes the delivery")
	test.ErrNil(t, <-errs, "consume")
	test.MustBe(t, 1, len(h.Filter("interaction")))
	if err := r.Stop(); err == nil {
		t.Fatalf("expected error stopping a stopped receiver")
	}
}

func TestReceiverStopMidDeliveryRefuses(t *testing.T) {
	h := &mock.RecordingHandler{StopAfter: 1}
	r := newReceiver(t, h)
	defer r.Close(time.Second)
	errs := startConsuming(t, r)

	code, body := post(t, r, `{"hash":"aaa","interactions":[{"interaction":{"id":"1"}},{"interaction":{"id":"2"}},{"interaction":{"id":"3"}}]}`, nil)
	test.MustBe(t, gohttp.StatusServiceUnavailable, code, "incomplete delivery")
	if strings.Contains(body, "success") {
		t.Fatalf("incomplete delivery was acknowledged: %s", body)
	}
	test.ErrNil(t, <-errs, "consume")
	test.MustBe(t, 1, len(h.Filter("interaction")))
}

func TestReceiverStatus(t *testing.T) {
	r := newReceiver(t, &mock.RecordingHandler{})
	defer r.Close(time.Second)
	req, err := gohttp.NewRequest("GET", "http://"+r.Addr()+"/status", nil)
	test.ErrNil(t, err, "building request")
	code, body := do(t, req)
	test.MustBe(t, 200, code)
	test.MustBe(t, "{\"hashes\":[],\"state\":\"stopped\"}\n", body)
}
