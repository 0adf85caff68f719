package stream

import (
	"time"
)

// Connection retry timings. Network failures back off linearly, HTTP
// failures exponentially, and the two are tracked separately.
const (
	networkBackoffStep = time.Second
	networkBackoffMax  = 16 * time.Second
	httpBackoffInitial = 10 * time.Second
	httpBackoffMax     = 320 * time.Second
)

// backoff holds the delay applied after the most recent failure of each
// kind. The zero value is ready to use and is what a successful connection
// resets it to.
type backoff struct {
	network  time.Duration
	http     time.Duration
	attempts int
}

// networkFailure records a refused, timed out or empty connection and
// returns how long to wait before the next attempt. ok is false once the
// delay has reached its ceiling and the caller should give up.
func (b *backoff) networkFailure() (delay time.Duration, ok bool) {
	switch {
	case b.network == 0:
		b.network = networkBackoffStep
	case b.network < networkBackoffMax:
		b.network += networkBackoffStep
	default:
		return 0, false
	}
	b.attempts++
	return b.network, true
}

// httpFailure records a retryable non-200 response and returns how long to
// wait before the next attempt. ok is false once the delay has reached its
// ceiling.
func (b *backoff) httpFailure() (delay time.Duration, ok bool) {
	switch {
	case b.http == 0:
		b.http = httpBackoffInitial
	case b.http < httpBackoffMax:
		b.http *= 2
	default:
		return 0, false
	}
	b.attempts++
	return b.http, true
}

func (b *backoff) reset() {
	*b = backoff{}
}
