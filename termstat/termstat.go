// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

// Package termstat provides a datasift.Statter which periodically writes
// counters and gauges to a terminal, for watching a consumer without running
// a collector. Histograms, sets and timings are dropped.
package termstat

import (
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"
)

// Collector collects stats and rewrites a single status line with them.
type Collector struct {
	lock    sync.Mutex
	counts  map[string]int64
	gauges  map[string]float64
	changed bool
	out     io.Writer

	done     chan struct{}
	stopOnce sync.Once
}

// NewCollector gets a Collector which writes to out every interval until
// Stop is called.
func NewCollector(out io.Writer, interval time.Duration) *Collector {
	ts := &Collector{
		counts: make(map[string]int64),
		gauges: make(map[string]float64),
		out:    out,
		done:   make(chan struct{}),
	}
	go func() {
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				ts.write()
			case <-ts.done:
				ts.write()
				return
			}
		}
	}()
	return ts
}

// Stop writes the final values and stops the writer goroutine.
func (t *Collector) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

// Count adds value to the named counter. With rate < 1 only that fraction of
// calls are counted.
func (t *Collector) Count(name string, value int64, rate float64, tags ...string) {
	if rate < 1 && rand.Float64() > rate {
		return
	}
	t.lock.Lock()
	t.counts[name] += value
	t.changed = true
	t.lock.Unlock()
}

// Gauge records the latest value of the named gauge.
func (t *Collector) Gauge(name string, value float64, rate float64, tags ...string) {
	t.lock.Lock()
	t.gauges[name] = value
	t.changed = true
	t.lock.Unlock()
}

// Line renders the current values, sorted by name.
func (t *Collector) Line() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.line()
}

func (t *Collector) line() string {
	parts := make([]string, 0, len(t.counts)+len(t.gauges))
	for name, v := range t.counts {
		parts = append(parts, fmt.Sprintf("%s: %d", name, v))
	}
	for name, v := range t.gauges {
		parts = append(parts, fmt.Sprintf("%s: %g", name, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func (t *Collector) write() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.changed {
		return
	}
	t.changed = false
	fmt.Fprint(t.out, "\r"+t.line())
}

// Histogram does nothing.
func (t *Collector) Histogram(name string, value float64, rate float64, tags ...string) {}

// Set does nothing.
func (t *Collector) Set(name string, value string, rate float64, tags ...string) {}

// Timing does nothing.
func (t *Collector) Timing(name string, value time.Duration, rate float64, tags ...string) {}
