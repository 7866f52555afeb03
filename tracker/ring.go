package tracker

import (
	"math/bits"
	"sync/atomic"
)

// Ring is a bounded single-producer single-consumer queue. Push and Pop never
// block and never allocate, so the audio thread can use either end. One
// goroutine may push and another pop concurrently; more than one producer or
// consumer needs outside synchronization.
type Ring[T any] struct {
	buf  []T
	mask uint64
	_    [56]byte
	head atomic.Uint64 // next slot to pop
	_    [56]byte
	tail atomic.Uint64 // next slot to push
}

// NewRing creates a ring holding at least capacity values, rounded up to a
// power of two.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 2 {
		capacity = 2
	}
	size := uint64(1) << bits.Len64(uint64(capacity-1))
	return &Ring[T]{buf: make([]T, size), mask: size - 1}
}

// Push appends v to the ring. It returns false, dropping v, if the ring is
// full.
func (r *Ring[T]) Push(v T) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() == uint64(len(r.buf)) {
		return false
	}
	r.buf[tail&r.mask] = v
	r.tail.Store(tail + 1)
	return true
}

// Pop removes the oldest value from the ring. ok is false if the ring is
// empty.
func (r *Ring[T]) Pop() (v T, ok bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return v, false
	}
	i := head & r.mask
	v = r.buf[i]
	var zero T
	r.buf[i] = zero
	r.head.Store(head + 1)
	return v, true
}

// Len returns the number of values in the ring.
func (r *Ring[T]) Len() int { return int(r.tail.Load() - r.head.Load()) }

// Cap returns the number of values the ring can hold.
func (r *Ring[T]) Cap() int { return len(r.buf) }
