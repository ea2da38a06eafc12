// Package pressure implements the memory-pressure signaling contract
// between the host process and a sorter stage. The host's original
// notification mechanism (a JVM MemoryPoolMXBean threshold callback) has
// no Go equivalent, so the default Notifier here polls runtime memory
// statistics on a ticker instead of registering a true callback; the
// subscribe/unsubscribe contract and the requirement that I/O never run on
// the notifying goroutine are preserved exactly.
package pressure

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// Notifier is the host-supplied memory-notification service a Stage
// subscribes to at construction and unsubscribes from before tearing down.
// Threshold-exceeded is the only event produced: Subscribe returns a
// channel that receives a value (non-blocking, so bursts collapse into a
// single pending notification) whenever the notifier finds usage at or
// above fraction of its ceiling.
type Notifier interface {
	Subscribe(fraction float64) (<-chan struct{}, error)
	Unsubscribe()
}

// HeapPoller is the default Notifier. It samples runtime.MemStats on an
// interval and compares HeapAlloc against a ceiling, which is either
// supplied explicitly or read from runtime/debug's process-wide soft
// memory limit.
type HeapPoller struct {
	ceiling  uint64
	interval time.Duration

	mu     sync.Mutex
	ch     chan struct{}
	done   chan struct{}
	closed bool
}

// NewHeapPoller constructs a HeapPoller. ceiling is the byte ceiling
// fraction is measured against; if ceiling is zero, NewHeapPoller asks
// runtime/debug.SetMemoryLimit for the process's current soft memory
// limit. If neither is available, NewHeapPoller returns an error: the host
// provides no compatible memory-notification facility, and a Stage must
// fail fast at construction in that case rather than run with no pressure
// signal at all.
func NewHeapPoller(ceiling uint64, interval time.Duration) (*HeapPoller, error) {
	if ceiling == 0 {
		limit := debug.SetMemoryLimit(-1)
		if limit <= 0 || limit == int64(^uint64(0)>>1) {
			return nil, errNoMemoryFacility
		}
		ceiling = uint64(limit)
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &HeapPoller{ceiling: ceiling, interval: interval}, nil
}

// Subscribe starts the polling goroutine. Later calls start no second
// goroutine: they return the channel of the first call and their fraction
// is ignored.
func (p *HeapPoller) Subscribe(fraction float64) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		return p.ch, nil
	}
	threshold := uint64(float64(p.ceiling) * fraction)
	ch := make(chan struct{}, 1)
	done := make(chan struct{})
	p.ch = ch
	p.done = done

	go p.poll(threshold, done)
	return ch, nil
}

// poll's send and Unsubscribe's close are both taken under p.mu so that a
// send can never race a close of the same channel: Unsubscribe sets
// p.closed and closes p.ch in one critical section, and poll checks
// p.closed in the same critical section as its send, so no send is ever
// attempted once the channel is closed.
func (p *HeapPoller) poll(threshold uint64, done chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	var stats runtime.MemStats
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			runtime.ReadMemStats(&stats)
			if stats.HeapAlloc < threshold {
				continue
			}
			p.mu.Lock()
			if !p.closed {
				select {
				case p.ch <- struct{}{}:
				default:
					// a notification is already pending; the spill it
					// will trigger hasn't been picked up yet, so this
					// one is redundant.
				}
			}
			p.mu.Unlock()
		}
	}
}

// Unsubscribe stops the polling goroutine and closes the notification
// channel. Any notification already sent and not yet received remains
// readable; no further notifications are sent afterward.
func (p *HeapPoller) Unsubscribe() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.done == nil {
		return
	}
	p.closed = true
	close(p.done)
	close(p.ch)
}

type memoryFacilityError struct{}

func (memoryFacilityError) Error() string {
	return "pressure: no compatible memory-notification facility: supply a ceiling or set runtime/debug.SetMemoryLimit"
}

var errNoMemoryFacility error = memoryFacilityError{}
