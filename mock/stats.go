package mock

import (
	"sync"
	"time"
)

// RecordingStatter is used for testing. It is safe for concurrent use, so
// it can be read while a consumer is still writing to it.
type RecordingStatter struct {
	mu     sync.Mutex
	counts map[string]int64
	tags   map[string][]string
}

// Count implements Count.
func (r *RecordingStatter) Count(name string, value int64, rate float64, tags ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int64)
		r.tags = make(map[string][]string)
	}
	r.counts[name] += value
	r.tags[name] = append(r.tags[name], tags...)
}

// Counts returns a copy of the totals recorded so far.
func (r *RecordingStatter) Counts() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make(map[string]int64, len(r.counts))
	for k, v := range r.counts {
		ret[k] = v
	}
	return ret
}

// Tags returns every tag passed with name, in order.
func (r *RecordingStatter) Tags(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tags[name]...)
}

// Gauge implements Gauge.
func (r *RecordingStatter) Gauge(name string, value float64, rate float64, tags ...string) {}

// Histogram implements Histogram.
func (r *RecordingStatter) Histogram(name string, value float64, rate float64, tags ...string) {}

// Set implements Set.
func (r *RecordingStatter) Set(name string, value string, rate float64, tags ...string) {}

// Timing implements Timing.
func (r *RecordingStatter) Timing(name string, value time.Duration, rate float64, tags ...string) {}
