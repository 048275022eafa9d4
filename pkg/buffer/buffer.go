// Package buffer provides a generic, thread-safe circular buffer that drops
// the oldest item on overflow.
//
// Statistics are always collected. The buffer backs per-channel sample series,
// so it supports front eviction (Peek + Read) and ordered snapshots in addition
// to FIFO reads.
package buffer

// Buffer represents a generic bounded FIFO buffer.
type Buffer[T any] interface {
	// Write adds an item to the buffer. When the buffer is full the oldest
	// item is dropped to make room.
	Write(item T)

	// Read retrieves and removes the oldest item.
	// Returns the zero value and false if the buffer is empty.
	Read() (T, bool)

	// Peek returns the oldest item without removing it.
	Peek() (T, bool)

	// Snapshot returns a copy of all items, oldest first. The returned slice
	// never aliases buffer storage.
	Snapshot() []T

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// Clear removes all items and returns how many were removed.
	Clear() int

	// Stats returns buffer statistics.
	Stats() *Statistics
}

// DropCallback is called with each item dropped on overflow.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a new circular buffer with the specified capacity
// and options. Capacity must be positive.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
