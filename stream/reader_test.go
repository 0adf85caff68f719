package stream

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/datasift/datasift-go/test"
)

func pipeReader(t *testing.T, maxLine int) (*frameReader, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	raw := bufio.NewReaderSize(client, maxLine)
	return newFrameReader(client, raw, false, -1, 20*time.Millisecond, time.Second, maxLine), server
}

// tcpPair connects two ends over loopback. Unlike net.Pipe, the client can
// still set deadlines once the server has hung up.
func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	test.ErrNil(t, err, "Listen")
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()
	client, err = net.Dial("tcp", ln.Addr().String())
	test.ErrNil(t, err, "Dial")
	server, ok := <-accepted
	if !ok {
		t.Fatalf("accept failed")
	}
	return client, server
}

// pollUntilReady polls r, failing if any single poll outlasts limit.
func pollUntilReady(t *testing.T, r *frameReader, limit time.Duration) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		start := time.Now()
		ready, err := r.poll()
		test.ErrNil(t, err, "poll")
		if took := time.Since(start); took > limit {
			t.Fatalf("poll blocked for %v", took)
		}
		if ready {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no line arrived")
		}
	}
}

func TestReaderPollTimesOutWithoutData(t *testing.T) {
	r, server := pipeReader(t, 1024)
	defer server.Close()

	ready, err := r.poll()
	test.ErrNil(t, err, "poll")
	if ready {
		t.Fatalf("poll reported data on an idle connection")
	}

	go io.WriteString(server, "{\"interaction\":{\"id\":\"1\"}}\n\n")
	deadline := time.Now().Add(5 * time.Second)
	for !ready {
		if time.Now().After(deadline) {
			t.Fatalf("poll missed data")
		}
		ready, err = r.poll()
		test.ErrNil(t, err, "poll")
	}

	line, err := r.next()
	test.ErrNil(t, err, "next")
	test.MustBe(t, `{"interaction":{"id":"1"}}`, string(line))

	ready, err = r.poll()
	test.ErrNil(t, err, "poll")
	if !ready {
		t.Fatalf("poll missed buffered data")
	}
	line, err = r.next()
	test.ErrNil(t, err, "next")
	test.MustBe(t, 0, len(line), "chunk boundary")
}

func TestReaderPollReportsClose(t *testing.T) {
	client, server := tcpPair(t)
	defer client.Close()
	r := newFrameReader(client, bufio.NewReader(client), false, -1, 20*time.Millisecond, time.Second, 1024)
	server.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		ready, err := r.poll()
		if err == io.EOF {
			return
		}
		test.ErrNil(t, err, "poll")
		if ready {
			t.Fatalf("poll reported data on a closed connection")
		}
		if time.Now().After(deadline) {
			t.Fatalf("close was never reported")
		}
	}
}

func TestReaderChunkedCloseIsUnexpected(t *testing.T) {
	client, server := tcpPair(t)
	defer client.Close()
	r := newFrameReader(client, bufio.NewReader(client), true, -1, 20*time.Millisecond, time.Second, 1024)

	io.WriteString(server, "1b\r\n{\"interaction\":{\"id\":\"1\"}}\n\r\n")
	server.Close()

	line, err := r.next()
	test.ErrNil(t, err, "next")
	test.MustBe(t, `{"interaction":{"id":"1"}}`, string(line))
	if _, err := r.next(); err != io.ErrUnexpectedEOF {
		t.Fatalf("expected unexpected EOF without a last chunk, got %v", err)
	}
}

func TestReaderChunkTrailerSplitAcrossWrites(t *testing.T) {
	client, server := tcpPair(t)
	defer client.Close()
	defer server.Close()
	r := newFrameReader(client, bufio.NewReader(client), true, -1, 20*time.Millisecond, 5*time.Second, 1024)

	io.WriteString(server, "1b\r\n{\"interaction\":{\"id\":\"1\"}}\n")
	pollUntilReady(t, r, time.Second)
	line, err := r.next()
	test.ErrNil(t, err, "next")
	test.MustBe(t, `{"interaction":{"id":"1"}}`, string(line))

	// the chunk's CRLF hasn't arrived, so there's nothing to hand out and
	// polling must keep returning promptly
	for i := 0; i < 5; i++ {
		start := time.Now()
		ready, err := r.poll()
		test.ErrNil(t, err, "poll")
		if ready {
			t.Fatalf("poll reported a line before one arrived")
		}
		if took := time.Since(start); took > time.Second {
			t.Fatalf("poll blocked for %v waiting on chunk framing", took)
		}
	}

	io.WriteString(server, "\r")
	time.Sleep(30 * time.Millisecond)
	io.WriteString(server, "\n9\r\n{\"ok\":")
	time.Sleep(30 * time.Millisecond)
	io.WriteString(server, "1}\n\r\n0\r\n\r\n")

	pollUntilReady(t, r, time.Second)
	line, err = r.next()
	test.ErrNil(t, err, "next")
	test.MustBe(t, `{"ok":1}`, string(line))
	deadline := time.Now().Add(5 * time.Second)
	for {
		ready, err := r.poll()
		if err == io.EOF {
			return
		}
		test.ErrNil(t, err, "poll")
		if ready || time.Now().After(deadline) {
			t.Fatalf("expected EOF after the last chunk")
		}
	}
}

func TestReaderMalformedChunk(t *testing.T) {
	client, server := tcpPair(t)
	defer client.Close()
	defer server.Close()
	r := newFrameReader(client, bufio.NewReader(client), true, -1, 20*time.Millisecond, time.Second, 1024)

	io.WriteString(server, "zz\r\nnope\r\n")
	if _, err := r.next(); err != errMalformedChunk {
		t.Fatalf("expected malformed chunk, got %v", err)
	}
}

func TestReaderContentLength(t *testing.T) {
	r, server := pipeReader(t, 1024)
	defer server.Close()
	r.remaining = 8

	go io.WriteString(server, "{\"a\":1}\nextra")
	line, err := r.next()
	test.ErrNil(t, err, "next")
	test.MustBe(t, `{"a":1}`, string(line))
	if _, err := r.next(); err != io.EOF {
		t.Fatalf("expected EOF at the end of the body, got %v", err)
	}
}

func TestReaderPollIdle(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	raw := bufio.NewReader(client)
	r := newFrameReader(client, raw, false, -1, 10*time.Millisecond, 50*time.Millisecond, 1024)

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := r.poll()
		if err == errStreamIdle {
			return
		}
		test.ErrNil(t, err, "poll")
		if time.Now().After(deadline) {
			t.Fatalf("idle stream was never reported")
		}
	}
}

func TestReaderLineTooLong(t *testing.T) {
	r, server := pipeReader(t, 32)
	defer server.Close()

	go io.WriteString(server, strings.Repeat("x", 100)+"\n{\"ok\":1}\n")

	if _, err := r.next(); err != errLineTooLong {
		t.Fatalf("expected line too long, got %v", err)
	}
	line, err := r.next()
	test.ErrNil(t, err, "next")
	test.MustBe(t, `{"ok":1}`, string(line))
}

func TestReaderChunkedBody(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go io.WriteString(server, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n"+
		"1c\r\n{\"interaction\":{\"id\":\"1\"}}\n\n\r\n"+
		"5\r\n{\"a\":\r\n"+
		"3\r\n1}\n\r\n")

	raw := bufio.NewReaderSize(client, 1024)
	resp, err := http.ReadResponse(raw, nil)
	test.ErrNil(t, err, "ReadResponse")
	test.MustBe(t, []string{"chunked"}, resp.TransferEncoding)
	r := newFrameReader(client, raw, true, resp.ContentLength, 20*time.Millisecond, time.Second, 1024)

	var lines []string
	for len(lines) < 3 {
		ready, err := r.poll()
		test.ErrNil(t, err, "poll")
		if !ready {
			continue
		}
		line, err := r.next()
		test.ErrNil(t, err, "next")
		lines = append(lines, string(line))
	}
	test.MustBe(t, []string{`{"interaction":{"id":"1"}}`, "", `{"a":1}`}, lines)
}
