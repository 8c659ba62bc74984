// Package ring implements a lock-free, bounded, multi-producer/multi-consumer
// queue using per-slot sequence numbers (the Vyukov ticket-queue design).
//
// Each cell carries an atomic sequence counter instead of relying on a CAS
// over the payload itself: a producer claims a ticket by advancing
// enqueuePos, writes its value into that cell, and then publishes the write
// by storing sequence = ticket+1 with release semantics. A consumer claims
// the cell only once an acquire load observes that release, and reports the
// ring empty instead of waiting when it does not. This gives per-slot happens-before from
// publish to consume without ever locking or CASing the value itself.
package ring

import "sync/atomic"

// cell holds one queue slot: a sequence counter used to hand the slot off
// between producer and consumer, plus the payload itself.
type cell[T any] struct {
	sequence atomic.Uint64
	value    T
}

// Ring is a bounded MPMC queue of a fixed power-of-two capacity.
type Ring[T any] struct {
	mask       uint64
	buffer     []cell[T]
	enqueuePos atomic.Uint64
	dequeuePos atomic.Uint64
}

// New creates a Ring whose capacity is size rounded up to the next power of
// two (minimum 1).
func New[T any](size int) *Ring[T] {
	capacity := roundUpToPowerOfTwo(size)
	r := &Ring[T]{
		mask:   uint64(capacity - 1),
		buffer: make([]cell[T], capacity),
	}
	for i := range r.buffer {
		r.buffer[i].sequence.Store(uint64(i))
	}
	return r
}

func roundUpToPowerOfTwo(v int) int {
	if v <= 1 {
		return 1
	}
	n := 1
	for n < v {
		n <<= 1
	}
	return n
}

// Capacity returns the ring's fixed capacity.
func (r *Ring[T]) Capacity() int { return int(r.mask) + 1 }

// Push attempts to enqueue value without blocking. It returns false if the
// ring is full.
func (r *Ring[T]) Push(value T) bool {
	pos := r.enqueuePos.Load()
	for {
		c := &r.buffer[pos&r.mask]
		seq := c.sequence.Load()

		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if r.enqueuePos.CompareAndSwap(pos, pos+1) {
				c.value = value
				c.sequence.Store(pos + 1)
				return true
			}
			pos = r.enqueuePos.Load()
		case diff < 0:
			return false
		default:
			pos = r.enqueuePos.Load()
		}
	}
}

// Pop attempts to dequeue a value without blocking. It returns the zero
// value and false if the ring is empty.
func (r *Ring[T]) Pop() (T, bool) {
	pos := r.dequeuePos.Load()
	for {
		c := &r.buffer[pos&r.mask]
		seq := c.sequence.Load()

		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			if r.dequeuePos.CompareAndSwap(pos, pos+1) {
				value := c.value
				var zero T
				c.value = zero
				c.sequence.Store(pos + uint64(r.Capacity()))
				return value, true
			}
			pos = r.dequeuePos.Load()
		case diff < 0:
			var zero T
			return zero, false
		default:
			pos = r.dequeuePos.Load()
		}
	}
}

// Empty reports whether the ring currently has no items to dequeue. It is
// approximate under concurrent access: a producer may publish immediately
// after this check observes emptiness.
func (r *Ring[T]) Empty() bool {
	return r.enqueuePos.Load() == r.dequeuePos.Load()
}
