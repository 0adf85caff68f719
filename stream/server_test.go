package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/datasift/datasift-go"
)

// fakeServer accepts stream connections on loopback and hands each one to a
// handler once its request has been read.
type fakeServer struct {
	ln       net.Listener
	handlers []func(w io.Writer)

	mu       sync.Mutex
	requests []*http.Request
	wg       sync.WaitGroup
}

// newFakeServer serves the i'th connection with handlers[i], and the last
// handler for any after that. Connections are held open until the client
// closes them.
func newFakeServer(t *testing.T, handlers ...func(w io.Writer)) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	s := &fakeServer{ln: ln, handlers: handlers}
	go s.serve()
	return s
}

func (s *fakeServer) serve() {
	for i := 0; ; i++ {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		h := s.handlers[len(s.handlers)-1]
		if i < len(s.handlers) {
			h = s.handlers[i]
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			req, err := http.ReadRequest(bufio.NewReader(conn))
			if err != nil {
				return
			}
			s.mu.Lock()
			s.requests = append(s.requests, req)
			s.mu.Unlock()
			h(conn)
		}()
	}
}

func (s *fakeServer) Requests() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Request(nil), s.requests...)
}

func (s *fakeServer) Close() {
	s.ln.Close()
}

func (s *fakeServer) User() *datasift.User {
	return &datasift.User{
		Username:   "someone",
		APIKey:     "secret",
		UserAgent:  "test-agent",
		StreamHost: s.ln.Addr().String(),
	}
}

// streaming returns a handler which starts a chunked 200 response, writes
// each of chunks as a chunk, and then either holds the connection open
// until the client goes away or, if hangup is set, closes it.
func streaming(hangup bool, chunks ...string) func(w io.Writer) {
	return func(w io.Writer) {
		io.WriteString(w, "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nTransfer-Encoding: chunked\r\n\r\n")
		for _, c := range chunks {
			fmt.Fprintf(w, "%x\r\n%s\r\n", len(c), c)
		}
		if hangup {
			return
		}
		if r, ok := w.(io.Reader); ok {
			io.Copy(ioutil.Discard, r)
		}
	}
}

// respond returns a handler which sends a complete non-streaming response.
func respond(status int, body string) func(w io.Writer) {
	return func(w io.Writer) {
		fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
			status, http.StatusText(status), len(body), body)
	}
}

// recordingSleeper records requested delays without waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func testOpts(extra ...ConsumerOption) []ConsumerOption {
	return append([]ConsumerOption{
		OptConnectTimeout(2 * time.Second),
		OptPollTimeout(20 * time.Millisecond),
		OptStreamTimeout(2 * time.Second),
	}, extra...)
}

// waitForState polls until c reaches s or the deadline passes.
func waitForState(t *testing.T, c *Consumer, s datasift.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.State() != s {
		if time.Now().After(deadline) {
			t.Fatalf("consumer never reached %v, still %v", s, c.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// consumeAsync runs Consume in a goroutine and returns a channel which will
// receive its result.
func consumeAsync(ctx context.Context, c *Consumer, autoReconnect bool) <-chan error {
	errs := make(chan error, 1)
	go func() {
		errs <- c.Consume(ctx, autoReconnect)
	}()
	return errs
}

func waitErr(t *testing.T, errs <-chan error) error {
	t.Helper()
	select {
	case err := <-errs:
		return err
	case <-time.After(10 * time.Second):
		t.Fatalf("Consume did not return")
	}
	return nil
}
