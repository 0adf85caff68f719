package datasift

import (
	"log"
	"time"
)

// Statter is the metrics interface used throughout this module. Its shape
// follows the statsd family of clients; see the statsd and termstat packages
// for implementations.
type Statter interface {
	Count(name string, value int64, rate float64, tags ...string)
	Gauge(name string, value float64, rate float64, tags ...string)
	Histogram(name string, value float64, rate float64, tags ...string)
	Set(name string, value string, rate float64, tags ...string)
	Timing(name string, value time.Duration, rate float64, tags ...string)
}

type NopStatter struct{}

func (NopStatter) Count(name string, value int64, rate float64, tags ...string) {}

func (NopStatter) Gauge(name string, value float64, rate float64, tags ...string) {}

func (NopStatter) Histogram(name string, value float64, rate float64, tags ...string) {}

func (NopStatter) Set(name string, value string, rate float64, tags ...string) {}

func (NopStatter) Timing(name string, value time.Duration, rate float64, tags ...string) {}

// Logger is the logging interface used throughout this module. Printf is for
// things an operator wants to see; Debugf is for everything else.
type Logger interface {
	Printf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
}

type NopLogger struct{}

func (NopLogger) Printf(format string, v ...interface{}) {}

func (NopLogger) Debugf(format string, v ...interface{}) {}

// StdLogger logs Printf calls to the wrapped logger and drops Debugf.
type StdLogger struct {
	*log.Logger
}

func (s StdLogger) Printf(format string, v ...interface{}) {
	s.Logger.Printf(format, v...)
}

func (StdLogger) Debugf(format string, v ...interface{}) {}

// VerboseLogger logs everything to the wrapped logger.
type VerboseLogger struct {
	*log.Logger
}

func (s VerboseLogger) Printf(format string, v ...interface{}) {
	s.Logger.Printf(format, v...)
}

func (s VerboseLogger) Debugf(format string, v ...interface{}) {
	s.Logger.Printf("DEBUG "+format, v...)
}
