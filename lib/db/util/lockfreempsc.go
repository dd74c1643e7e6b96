// Package util
//
// This file provides a lock-free Multi-Producer Single-Consumer (MPSC) queue.
//
// Features and Guarantees:
//
//   - Lock-Free producers: Push only uses atomic operations, so it can be called from hot paths
//   - Unbounded Size: the queue grows as needed, limited only by available memory
//   - Channel delivery: a single internal goroutine moves items to the Recv() channel so the
//     consumer can select on it together with timers and stop signals
//   - No Strict FIFO Guarantee across producers: concurrent pushes are ordered by which producer
//     links its node first. Pushes from one goroutine are delivered in order.
package util

import (
	"runtime"
	"sync/atomic"
)

// mpscNode is a single element of the queue
type mpscNode[T any] struct {
	value T
	next  atomic.Pointer[mpscNode[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue.
// Items are stored in a linked list (Michael-Scott style with a sentinel head) and handed to the
// consumer through an unbuffered channel.
type LockFreeMPSC[T any] struct {
	head   *mpscNode[T] // only touched by the pump goroutine
	tail   atomic.Pointer[mpscNode[T]]
	size   atomic.Int64
	out    chan T
	wake   chan struct{}
	closed atomic.Bool
}

// NewLockFreeMPSC creates a new queue and starts its delivery goroutine.
// The goroutine exits after Close once every pushed item was received.
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &mpscNode[T]{}

	q := &LockFreeMPSC[T]{
		head: sentinel,
		out:  make(chan T),
		wake: make(chan struct{}, 1),
	}
	q.tail.Store(sentinel)

	go q.pump()

	return q
}

// Push adds an item to the queue.
// Returns false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	n := &mpscNode[T]{value: value}

	for spins := 0; ; spins++ {
		tail := q.tail.Load()
		next := tail.next.Load()

		if next != nil {
			// another producer linked a node but did not swing the tail yet, help it
			q.tail.CompareAndSwap(tail, next)
			continue
		}

		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			q.size.Add(1)
			q.signal()
			return true
		}

		if spins > 8 {
			runtime.Gosched()
		}
	}
}

// signal wakes the pump goroutine without blocking
func (q *LockFreeMPSC[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pump moves items from the linked list to the output channel
func (q *LockFreeMPSC[T]) pump() {
	defer close(q.out)

	var zero T
	for {
		for next := q.head.next.Load(); next != nil; next = q.head.next.Load() {
			q.out <- next.value
			next.value = zero // the node becomes the new sentinel, drop its payload
			q.head = next
			q.size.Add(-1)
		}

		if q.closed.Load() && q.head.next.Load() == nil {
			return
		}

		<-q.wake
	}
}

// Recv returns a receive-only channel for consuming from the queue.
// The channel is closed after Close once all items were delivered.
func (q *LockFreeMPSC[T]) Recv() <-chan T {
	return q.out
}

// Close prevents further pushes.
// Items already in the queue are still delivered to the consumer.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
	q.signal()
}

// IsClosed returns true if the queue is closed.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of items pushed but not yet received.
// An item that is currently waiting in the channel send counts as queued.
func (q *LockFreeMPSC[T]) Len() int {
	return int(q.size.Load())
}
