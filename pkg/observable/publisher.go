// Package observable provides a typed publish/subscribe primitive with
// synchronous, registration-ordered delivery.
package observable

import "sync"

// Publisher fans a value out to subscribed listeners. Listeners run on the
// publishing goroutine, outside the publisher's lock, so a listener may
// subscribe, unsubscribe or read state that publishes.
type Publisher[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []subscription[T]
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it. The returned
// function is idempotent.
func (p *Publisher[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners = append(p.listeners, subscription[T]{id: id, fn: fn})
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { p.remove(id) })
	}
}

// Publish delivers v to every listener registered at the time of the call.
func (p *Publisher[T]) Publish(v T) {
	p.mu.Lock()
	snapshot := make([]subscription[T], len(p.listeners))
	copy(snapshot, p.listeners)
	p.mu.Unlock()

	for _, s := range snapshot {
		s.fn(v)
	}
}

// Len returns the number of registered listeners.
func (p *Publisher[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

func (p *Publisher[T]) remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.listeners {
		if s.id == id {
			p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
			return
		}
	}
}
