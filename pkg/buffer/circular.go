package buffer

import (
	"fmt"
	"sync"

	"github.com/c360/obdstream/errors"
)

// circularBuffer is a thread-safe circular buffer that overwrites its oldest item.
type circularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	opts     *bufferOptions[T]
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("capacity must be positive, got %d", capacity),
			"buffer", "newCircularBuffer", "validate capacity")
	}

	return &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    &Statistics{},
		opts:     opts,
	}, nil
}

// Write adds an item, dropping the oldest one when the buffer is full.
func (cb *circularBuffer[T]) Write(item T) {
	cb.mu.Lock()

	var (
		dropped    T
		hasDropped bool
	)

	if cb.size == cb.capacity {
		cb.stats.recordOverflow()
		dropped, hasDropped = cb.items[cb.tail], true
		cb.tail = (cb.tail + 1) % cb.capacity
		cb.size--
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++

	cb.stats.recordWrite()
	cb.stats.observeSize(cb.size)
	cb.mu.Unlock()

	if hasDropped && cb.opts.dropCallback != nil {
		cb.opts.dropCallback(dropped)
	}
}

// Read retrieves and removes one item from the buffer.
func (cb *circularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T
	if cb.size == 0 {
		return zero, false
	}

	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero // Clear for GC
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--

	cb.stats.recordRead()
	cb.stats.observeSize(cb.size)

	return item, true
}

// Peek retrieves one item without removing it from the buffer.
func (cb *circularBuffer[T]) Peek() (T, bool) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	var zero T
	if cb.size == 0 {
		return zero, false
	}
	return cb.items[cb.tail], true
}

// Snapshot copies the buffered items, oldest first.
func (cb *circularBuffer[T]) Snapshot() []T {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	out := make([]T, cb.size)
	for i := 0; i < cb.size; i++ {
		out[i] = cb.items[(cb.tail+i)%cb.capacity]
	}
	return out
}

// Size returns the current number of items in the buffer.
func (cb *circularBuffer[T]) Size() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity // immutable
}

// Clear removes all items from the buffer. Dropped items are not reported to
// the drop callback; clearing is not an overflow.
func (cb *circularBuffer[T]) Clear() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	removed := cb.size
	var zero T
	for i := range cb.items {
		cb.items[i] = zero
	}
	cb.head = 0
	cb.tail = 0
	cb.size = 0

	cb.stats.observeSize(0)
	return removed
}

// Stats returns buffer statistics.
func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}
