package kbd

import "sync/atomic"

// RingCapacity is the bounded event queue's fixed size (spec.md §4.5).
const RingCapacity = 256

// Event is one decoded keyboard event (spec.md §3).
type Event struct {
	Scancode byte
	Char     byte
	Pressed  bool
	Shift    bool
	Ctrl     bool
	Alt      bool
}

// EventRing is a single-producer (the IRQ-1 handler), single-consumer
// (a reading task) circular buffer. count and the statistics counters
// are updated with atomics rather than a mutex, and head and tail are
// plain fields owned by the producer and the consumer respectively:
// spec.md §5 requires the ISR side never block, and readers "MUST
// tolerate concurrent update of these counters by the ISR."
type EventRing struct {
	buf [RingCapacity]Event

	head uint32 // next write index, producer-owned
	tail uint32 // next read index, consumer-owned

	count int32 // atomic

	pressedCount  uint64 // atomic
	releasedCount uint64 // atomic
	overflowCount uint64 // atomic
}

// push enqueues from IRQ context. On overflow the event is dropped and
// overflowCount increments, per spec.md §4.5.
func (r *EventRing) push(e Event) {
	if atomic.LoadInt32(&r.count) >= RingCapacity {
		atomic.AddUint64(&r.overflowCount, 1)

		return
	}

	r.buf[r.head] = e
	r.head = (r.head + 1) % RingCapacity
	atomic.AddInt32(&r.count, 1)

	if e.Pressed {
		atomic.AddUint64(&r.pressedCount, 1)
	} else {
		atomic.AddUint64(&r.releasedCount, 1)
	}
}

// pop dequeues from task context; ok is false when the ring is empty.
func (r *EventRing) pop() (Event, bool) {
	if atomic.LoadInt32(&r.count) <= 0 {
		return Event{}, false
	}

	e := r.buf[r.tail]
	r.tail = (r.tail + 1) % RingCapacity
	atomic.AddInt32(&r.count, -1)

	return e, true
}

// Len reports the number of queued, undelivered events.
func (r *EventRing) Len() int {
	return int(atomic.LoadInt32(&r.count))
}

// Stats mirrors the ring's bookkeeping counters.
type Stats struct {
	Pressed  uint64
	Released uint64
	Overflow uint64
	Queued   int
}

func (r *EventRing) stats() Stats {
	return Stats{
		Pressed:  atomic.LoadUint64(&r.pressedCount),
		Released: atomic.LoadUint64(&r.releasedCount),
		Overflow: atomic.LoadUint64(&r.overflowCount),
		Queued:   r.Len(),
	}
}
