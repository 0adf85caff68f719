// Package statsd sends consumer metrics to a statsd or DogStatsD agent.
package statsd

import (
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/datasift/datasift-go"
	"github.com/pkg/errors"
)

// client is the part of *statsd.Client used here.
type client interface {
	Count(name string, value int64, tags []string, rate float64) error
	Gauge(name string, value float64, tags []string, rate float64) error
	Histogram(name string, value float64, tags []string, rate float64) error
	Set(name string, value string, tags []string, rate float64) error
	Timing(name string, value time.Duration, tags []string, rate float64) error
	Close() error
}

// Statter adapts a DogStatsD client to datasift.Statter. Send errors are
// logged at debug level and otherwise dropped.
type Statter struct {
	client client
	log    datasift.Logger
}

var _ datasift.Statter = &Statter{}

// NewStatter gets a Statter sending to the agent at addr (host:port). Every
// metric name is prefixed with namespace, which should end with a ".".
func NewStatter(addr, namespace string, l datasift.Logger, tags ...string) (*Statter, error) {
	c, err := statsd.New(addr)
	if err != nil {
		return nil, errors.Wrap(err, "creating statsd client")
	}
	c.Namespace = namespace
	c.Tags = tags
	return newStatter(c, l), nil
}

func newStatter(c client, l datasift.Logger) *Statter {
	if l == nil {
		l = datasift.NopLogger{}
	}
	return &Statter{client: c, log: l}
}

func (s *Statter) check(name string, err error) {
	if err != nil {
		s.log.Debugf("sending %s: %v", name, err)
	}
}

// Count implements datasift.Statter.
func (s *Statter) Count(name string, value int64, rate float64, tags ...string) {
	s.check(name, s.client.Count(name, value, tags, rate))
}

// Gauge implements datasift.Statter.
func (s *Statter) Gauge(name string, value float64, rate float64, tags ...string) {
	s.check(name, s.client.Gauge(name, value, tags, rate))
}

// Histogram implements datasift.Statter.
func (s *Statter) Histogram(name string, value float64, rate float64, tags ...string) {
	s.check(name, s.client.Histogram(name, value, tags, rate))
}

// Set implements datasift.Statter.
func (s *Statter) Set(name string, value string, rate float64, tags ...string) {
	s.check(name, s.client.Set(name, value, tags, rate))
}

// Timing implements datasift.Statter.
func (s *Statter) Timing(name string, value time.Duration, rate float64, tags ...string) {
	s.check(name, s.client.Timing(name, value, tags, rate))
}

// Close flushes and closes the underlying client.
func (s *Statter) Close() error {
	return errors.Wrap(s.client.Close(), "closing statsd client")
}
