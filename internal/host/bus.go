package host

import (
	"sync"
)

// Handler receives the arguments of a bus event.
type Handler func(args ...any)

// AnyHandler receives every bus event with its name.
type AnyHandler func(name string, args ...any)

type subscription struct {
	id   int
	fn   Handler
	once bool
}

// Bus is a named-event emitter. Handlers run synchronously on the emitting
// goroutine, in registration order. A panicking handler is logged and does
// not stop the others.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	subs     map[string][]subscription
	catchAll []anySubscription
}

type anySubscription struct {
	id int
	fn AnyHandler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// On registers fn for name.
func (b *Bus) On(name string, fn Handler) (off func()) {
	return b.add(name, fn, false)
}

// Once registers fn for the next emission of name only.
func (b *Bus) Once(name string, fn Handler) (off func()) {
	return b.add(name, fn, true)
}

// OnAny registers fn for every event.
func (b *Bus) OnAny(fn AnyHandler) (off func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.catchAll = append(b.catchAll, anySubscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.catchAll {
			if s.id == id {
				b.catchAll = append(b.catchAll[:i], b.catchAll[i+1:]...)
				return
			}
		}
	}
}

// Has reports whether name has at least one handler.
func (b *Bus) Has(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name]) > 0
}

// Emit calls the handlers for name, then the catch-all handlers. It returns
// the number of handlers called.
func (b *Bus) Emit(name string, args ...any) int {
	b.mu.Lock()
	subs := b.subs[name]
	var keep []subscription
	for _, s := range subs {
		if !s.once {
			keep = append(keep, s)
		}
	}
	if len(keep) != len(subs) {
		if len(keep) == 0 {
			delete(b.subs, name)
		} else {
			b.subs[name] = keep
		}
	}
	anys := make([]anySubscription, len(b.catchAll))
	copy(anys, b.catchAll)
	b.mu.Unlock()

	for _, s := range subs {
		call(name, func() { s.fn(args...) })
	}
	for _, s := range anys {
		call(name, func() { s.fn(name, args...) })
	}
	return len(subs) + len(anys)
}

func (b *Bus) add(name string, fn Handler, once bool) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, fn: fn, once: once})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[name]
		for i, s := range subs {
			if s.id == id {
				b.subs[name] = append(subs[:i:i], subs[i+1:]...)
				if len(b.subs[name]) == 0 {
					delete(b.subs, name)
				}
				return
			}
		}
	}
}

func call(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("handler for %q panicked: %v", name, r)
		}
	}()
	fn()
}
