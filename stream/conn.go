package stream

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/datasift/datasift-go"
	"github.com/pkg/errors"
)

// StatusEnhanceYourCalm is the status the streaming API uses for rate
// limiting. It is retried like a server error rather than treated as a
// rejection.
const StatusEnhanceYourCalm = 420

// maxErrorBody bounds how much of a rejection's body is read looking for an
// error message.
const maxErrorBody = 64 << 10

// connection is an established stream: the socket, and the response body
// layered over it.
type connection struct {
	net.Conn
	frames *frameReader
}

// networkError is a failure to connect or to get any response at all.
type networkError struct {
	err error
}

func (e *networkError) Error() string { return e.err.Error() }

// statusError is a response with a status other than 200.
type statusError struct {
	code    int
	status  string
	message string
}

func (e *statusError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("%s: %s", e.status, e.message)
	}
	return e.status
}

// retryable reports whether the response is worth trying again. Client
// errors are not, except for rate limiting.
func (e *statusError) retryable() bool {
	if e.code == StatusEnhanceYourCalm || e.code == http.StatusTooManyRequests {
		return true
	}
	return e.code < 400 || e.code >= 500
}

// path is the request target for this consumer's stream.
func (c *Consumer) path() string {
	if c.multi {
		return "/multi?statuses=true&hashes=" + strings.Join(c.hashes, ",")
	}
	return "/" + c.hash + "?statuses=true"
}

// request renders the HTTP request which opens the stream.
func (c *Consumer) request() string {
	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", c.path())
	fmt.Fprintf(&b, "Host: %s\r\n", c.host())
	fmt.Fprintf(&b, "User-Agent: %s\r\n", c.user.UserAgent)
	fmt.Fprintf(&b, "Auth: %s\r\n", c.user.AuthHeader())
	b.WriteString("Accept: */*\r\n")
	b.WriteString("\r\n")
	return b.String()
}

func (c *Consumer) host() string {
	if c.user.StreamHost == "" {
		return datasift.DefaultStreamHost
	}
	return c.user.StreamHost
}

// addr is the host with the default port for the scheme added if the host
// doesn't have one.
func (c *Consumer) addr() string {
	host := c.host()
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	if c.user.UseSSL {
		return net.JoinHostPort(host, "443")
	}
	return net.JoinHostPort(host, "80")
}

// connect establishes the stream, retrying as long as the backoff policy
// allows. On success the consumer is RUNNING. Errors are either a
// *datasift.StreamError or ctx.Err().
func (c *Consumer) connect(ctx context.Context) (*connection, error) {
	for {
		c.stats.Count("stream.connect.attempt", 1, 1)
		conn, err := c.handshake()
		if err == nil {
			c.backoff.reset()
			c.setState(datasift.StateRunning)
			c.log.Printf("connected to %s%s", c.addr(), c.path())
			return conn, nil
		}

		var delay time.Duration
		var ok bool
		switch e := err.(type) {
		case *statusError:
			if !e.retryable() {
				c.stats.Count("stream.connect.rejected", 1, 1)
				return nil, &datasift.StreamError{Op: "connect", StatusCode: e.code, Message: e.message}
			}
			delay, ok = c.backoff.httpFailure()
			if !ok {
				return nil, &datasift.StreamError{Op: "connect", StatusCode: e.code, Message: e.Error()}
			}
		case *networkError:
			delay, ok = c.backoff.networkFailure()
			if !ok {
				return nil, &datasift.StreamError{Op: "connect", Message: "connection failed due to a network error", Err: e.err}
			}
		default:
			return nil, &datasift.StreamError{Op: "connect", Err: err}
		}

		c.stats.Count("stream.connect.failure", 1, 1)
		c.log.Printf("connecting to %s failed: %v, retrying in %v", c.addr(), err, delay)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// handshake makes a single connection attempt.
func (c *Consumer) handshake() (*connection, error) {
	raw, err := c.dial("tcp", c.addr(), c.connectTimeout)
	if err != nil {
		return nil, &networkError{err: err}
	}
	conn := raw
	if c.user.UseSSL {
		conn = tls.Client(raw, c.tlsConfigFor(c.host()))
	}

	err = conn.SetDeadline(time.Now().Add(c.connectTimeout))
	if err != nil {
		conn.Close()
		return nil, &networkError{err: err}
	}
	if _, err := io.WriteString(conn, c.request()); err != nil {
		conn.Close()
		return nil, &networkError{err: errors.Wrap(err, "sending request")}
	}

	br := bufio.NewReaderSize(conn, c.maxLineLength)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		conn.Close()
		return nil, &networkError{err: errors.Wrap(err, "reading response")}
	}
	if resp.StatusCode != http.StatusOK {
		serr := &statusError{code: resp.StatusCode, status: resp.Status}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			serr.message = errorMessage(resp.Body)
		}
		conn.Close()
		return nil, serr
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, &networkError{err: err}
	}

	// The body is read straight off br rather than through resp.Body, whose
	// chunked decoder can't be interrupted part way through a chunk header.
	chunked := len(resp.TransferEncoding) > 0 && resp.TransferEncoding[0] == "chunked"
	return &connection{
		Conn:   conn,
		frames: newFrameReader(conn, br, chunked, resp.ContentLength, c.pollTimeout, c.streamTimeout, c.maxLineLength),
	}, nil
}

func (c *Consumer) tlsConfigFor(host string) *tls.Config {
	cfg := &tls.Config{}
	if c.tlsConfig != nil {
		cfg = c.tlsConfig.Clone()
	}
	if cfg.ServerName == "" {
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		cfg.ServerName = host
	}
	return cfg
}

// errorMessage pulls the message out of a JSON error body, or returns the
// body itself if it isn't JSON.
func errorMessage(body io.Reader) string {
	b, err := ioutil.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil && len(b) == 0 {
		return ""
	}
	var res struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(b, &res); err != nil {
		return strings.TrimSpace(string(b))
	}
	if res.Message != "" {
		return res.Message
	}
	return res.Error
}

// disconnect closes the current connection, if there is one. It is safe to
// call any number of times.
func (c *Consumer) disconnect() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.log.Debugf("closing stream connection: %v", err)
	}
	c.conn = nil
}
