package buffer

// Option configures buffer behavior using the functional options pattern.
type Option[T any] func(*bufferOptions[T])

type bufferOptions[T any] struct {
	dropCallback DropCallback[T]
}

// WithDropCallback sets a callback function that is called when items are
// dropped on overflow. It runs after the buffer lock is released.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *bufferOptions[T]) {
		opts.dropCallback = callback
	}
}

func applyOptions[T any](options ...Option[T]) *bufferOptions[T] {
	opts := &bufferOptions[T]{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
