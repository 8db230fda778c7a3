// Package ringchan provides a bounded event channel that overwrites the oldest
// data when full while never losing control messages.
package ringchan

import (
	"errors"
	"sync"
	"sync/atomic"

	list "github.com/bahlo/generic-list-go"
)

// ErrClosed is returned by sends on a closed RingChannel.
var ErrClosed = errors.New("ringchan: closed")

// RingChannel is a bounded channel-like buffer.
//
// High-rate data is written with ForceSend. When more than capacity data
// elements are waiting, the oldest data element is discarded so producers
// never stall. Low-rate control messages are written with Send; they keep
// their place in the order and are never discarded, so they do not count
// against capacity.
//
//	rc := ringchan.New[Event](64)
//
//	rc.ForceSend(sample) // may drop the oldest sample
//	_ = rc.Send(ready)   // always delivered
//
//	for ev := range rc.C() {
//	    handle(ev)
//	}
//
// Readers use C() for a normal <-chan T, or Receive()/TryReceive() for metric tracking.
type RingChannel[T any] struct {
	out    chan T
	notify chan struct{}

	mu       sync.Mutex
	queue    *list.List[entry[T]]
	data     int // queued elements that may be overwritten
	capacity int
	closed   bool

	metrics Metrics // lock-free metrics tracking
}

type entry[T any] struct {
	value T
	keep  bool
}

// New creates a RingChannel holding up to capacity data elements.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	rc := &RingChannel[T]{
		out:      make(chan T),
		notify:   make(chan struct{}, 1),
		queue:    list.New[entry[T]](),
		capacity: capacity,
	}
	go rc.pump()
	return rc
}

// C returns the receive-only channel. It is closed once Close was called and
// every queued element has been delivered.
//
// WARNING: Reading from the returned channel bypasses metrics tracking.
// Use Receive() or TryReceive() if you need metrics tracking.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.out
}

// Send queues v behind everything already queued. It never blocks and v is
// never overwritten.
func (rc *RingChannel[T]) Send(v T) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		rc.metrics.addError()
		return ErrClosed
	}
	rc.queue.PushBack(entry[T]{value: v, keep: true})
	rc.metrics.addWritten(1)
	rc.wake()
	return nil
}

// TrySend queues v as data only if there is room.
// Returns true if successful, false if the buffer is full or closed.
func (rc *RingChannel[T]) TrySend(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed || rc.data >= rc.capacity {
		return false
	}
	rc.pushData(v)
	return true
}

// ForceSend always succeeds immediately, discarding the oldest data element
// if needed. It reports whether an element was dropped. Sends on a closed
// channel are counted as errors and dropped.
func (rc *RingChannel[T]) ForceSend(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		rc.metrics.addError()
		return true
	}

	dropped := false
	if rc.data >= rc.capacity {
		for e := rc.queue.Front(); e != nil; e = e.Next() {
			if !e.Value.keep {
				rc.queue.Remove(e)
				rc.data--
				rc.metrics.addOverwritten(1)
				dropped = true
				break
			}
		}
	}
	rc.pushData(v)
	return dropped
}

// pushData must be called with mu held.
func (rc *RingChannel[T]) pushData(v T) {
	rc.queue.PushBack(entry[T]{value: v})
	rc.data++
	rc.metrics.addWritten(1)
	rc.wake()
}

func (rc *RingChannel[T]) wake() {
	select {
	case rc.notify <- struct{}{}:
	default:
	}
}

// pump offers the head of the queue on out. The head stays queued, and so
// stays subject to overwriting, until a reader takes it.
func (rc *RingChannel[T]) pump() {
	defer close(rc.out)

	for {
		rc.mu.Lock()
		head := rc.queue.Front()
		closed := rc.closed
		rc.mu.Unlock()

		if head == nil {
			if closed {
				return
			}
			<-rc.notify
			continue
		}

		select {
		case rc.out <- head.Value.value:
			rc.mu.Lock()
			if rc.queue.Front() == head {
				rc.queue.Remove(head)
				if !head.Value.keep {
					rc.data--
				}
			} else {
				// Overwritten while being offered; it was delivered after all.
				atomic.AddInt64(&rc.metrics.Overwritten, -1)
			}
			rc.mu.Unlock()
		case <-rc.notify:
		}
	}
}

// Receive blocks until a value is available or the channel is closed.
// The ok result is false if the channel is closed and drained.
func (rc *RingChannel[T]) Receive() (v T, ok bool) {
	v, ok = <-rc.out
	if ok {
		rc.metrics.addProcessed(1)
	}
	return
}

// TryReceive returns the next value if one is queued.
// Returns (zero, false) if nothing is queued.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	if rc.Len() == 0 {
		var zero T
		return zero, false
	}
	return rc.Receive()
}

// Len returns the number of queued elements.
func (rc *RingChannel[T]) Len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.queue.Len()
}

// Cap returns how many data elements are kept before overwriting.
func (rc *RingChannel[T]) Cap() int {
	return rc.capacity
}

// Close stops accepting sends. Queued elements stay readable and C is closed
// once they are drained. Safe to call more than once.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return
	}
	rc.closed = true
	rc.wake()
}

// GetMetrics returns a snapshot of current metrics values.
// All reads are atomic and thread-safe.
//
// Note: The Processed counter is only incremented by Receive() and TryReceive().
// Reads via C() bypass metrics and will not be counted.
func (rc *RingChannel[T]) GetMetrics() Metrics {
	return Metrics{
		Processed:   atomic.LoadInt64(&rc.metrics.Processed),
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
		Errors:      atomic.LoadInt64(&rc.metrics.Errors),
	}
}

// Metrics provides lock-free metrics tracking for RingChannel.
//
// All fields use atomic operations for thread-safe access
type Metrics struct {
	Processed   int64
	Written     int64
	Overwritten int64
	Errors      int64
}

func (m *Metrics) addProcessed(n int) {
	atomic.AddInt64(&m.Processed, int64(n))
}

func (m *Metrics) addWritten(n int) {
	atomic.AddInt64(&m.Written, int64(n))
}

func (m *Metrics) addOverwritten(n int) {
	atomic.AddInt64(&m.Overwritten, int64(n))
}

func (m *Metrics) addError() {
	atomic.AddInt64(&m.Errors, 1)
}
