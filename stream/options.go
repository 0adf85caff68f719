package stream

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/datasift/datasift-go"
)

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultPollTimeout    = 5 * time.Second
	DefaultStreamTimeout  = 61 * time.Second
	DefaultMaxLineLength  = 65536
)

// DialFunc opens the TCP connection to the streaming host. TLS, when the
// user asks for it, is layered on top of whatever DialFunc returns.
type DialFunc func(network, addr string, timeout time.Duration) (net.Conn, error)

// SleepFunc waits for d between connection attempts. It must return early
// with ctx.Err() if ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ConsumerOption is a functional option type for Consumer.
type ConsumerOption func(c *Consumer)

// OptConnectTimeout bounds dialing and the HTTP handshake.
func OptConnectTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.connectTimeout = d
	}
}

// OptPollTimeout sets how long the reader waits for data before checking
// whether it has been asked to stop. It is the upper bound on how long Stop
// takes to be noticed.
func OptPollTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.pollTimeout = d
	}
}

// OptStreamTimeout sets how long a single line may take to arrive once data
// has started arriving. It should be longer than the interval at which the
// API sends ticks, so that only a stalled connection trips it.
func OptStreamTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.streamTimeout = d
	}
}

// OptMaxLineLength sets the longest frame which will be accepted. Longer
// frames are skipped with a warning.
func OptMaxLineLength(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxLineLength = n
		}
	}
}

// OptDialer replaces net.DialTimeout.
func OptDialer(dial DialFunc) ConsumerOption {
	return func(c *Consumer) {
		c.dial = dial
	}
}

// OptSleeper replaces the function used to wait between connection
// attempts.
func OptSleeper(s SleepFunc) ConsumerOption {
	return func(c *Consumer) {
		c.sleep = s
	}
}

// OptTLSConfig sets the TLS configuration used when the user has SSL
// enabled. ServerName is filled in from the stream host if empty.
func OptTLSConfig(cfg *tls.Config) ConsumerOption {
	return func(c *Consumer) {
		c.tlsConfig = cfg
	}
}

func OptLogger(l datasift.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.log = l
	}
}

func OptStatter(s datasift.Statter) ConsumerOption {
	return func(c *Consumer) {
		c.stats = s
	}
}
