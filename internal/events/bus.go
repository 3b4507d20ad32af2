package events

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

// Subscription is one consumer's interest in an event kind.
type Subscription struct {
	id   uuid.UUID
	kind Kind
	name string // domain event filter, empty matches all
	fn   func(Event)
	bus  *Bus
}

// ID returns the subscription identifier.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Kind returns the kind the subscription listens to.
func (s *Subscription) Kind() Kind { return s.kind }

// Unsubscribe removes the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.Off(s)
}

// Active reports whether the subscription is still registered.
func (s *Subscription) Active() bool {
	if s == nil || s.bus == nil {
		return false
	}
	return s.bus.has(s)
}

// Bus is an in-process publish/subscribe registry.
//
// Publish dispatches to a snapshot of the subscriber list, so callbacks may
// subscribe, unsubscribe or publish without affecting the dispatch in
// progress. A panicking callback is logged and skipped.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[Kind][]*Subscription
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[Kind][]*Subscription),
	}
}

// Subscribe registers fn for the event variant E. E must be one of the
// concrete event structs of this package.
func Subscribe[E Event](b *Bus, fn func(E)) *Subscription {
	var zero E
	return b.add(zero.Kind(), "", func(ev Event) {
		if e, ok := ev.(E); ok {
			fn(e)
		}
	})
}

// SubscribeDomain registers fn for server events called name.
func SubscribeDomain(b *Bus, name string, fn func(Domain)) *Subscription {
	return b.add(KindDomain, name, func(ev Event) {
		if e, ok := ev.(Domain); ok {
			fn(e)
		}
	})
}

// Register subscribes every non-nil handler in h. The returned function
// removes all of them.
func (b *Bus) Register(h Handlers) (unsubscribe func()) {
	kinds := h.kinds()
	subs := make([]*Subscription, 0, len(kinds))
	for _, k := range kinds {
		subs = append(subs, b.add(k, "", func(ev Event) { h.Dispatch(ev) }))
	}
	return func() {
		for _, s := range subs {
			b.Off(s)
		}
	}
}

// Off removes a subscription.
func (b *Bus) Off(s *Subscription) {
	if s == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[s.kind]
	for i, cur := range list {
		if cur == s {
			next := make([]*Subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(b.subs, s.kind)
			} else {
				b.subs[s.kind] = next
			}
			return
		}
	}
}

// Publish delivers each event to the subscribers of its kind.
func (b *Bus) Publish(evs ...Event) {
	for _, ev := range evs {
		b.publish(ev)
	}
}

// Clear removes every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	n := 0
	for _, list := range b.subs {
		n += len(list)
	}
	b.subs = make(map[Kind][]*Subscription)
	b.mu.Unlock()

	b.logger.Debug("event bus cleared", "subscriptions", n)
}

// Count returns the number of subscriptions for kind.
func (b *Bus) Count(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}

func (b *Bus) add(kind Kind, name string, fn func(Event)) *Subscription {
	s := &Subscription{
		id:   uuid.New(),
		kind: kind,
		name: name,
		fn:   fn,
		bus:  b,
	}

	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], s)
	b.mu.Unlock()

	return s
}

func (b *Bus) has(s *Subscription) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, cur := range b.subs[s.kind] {
		if cur == s {
			return true
		}
	}
	return false
}

func (b *Bus) publish(ev Event) {
	if ev == nil {
		return
	}

	b.mu.RLock()
	snapshot := append([]*Subscription(nil), b.subs[ev.Kind()]...)
	b.mu.RUnlock()

	name := ""
	if d, ok := ev.(Domain); ok {
		name = d.Name
	}

	for _, s := range snapshot {
		if s.name != "" && s.name != name {
			continue
		}
		b.invoke(s, ev)
	}
}

func (b *Bus) invoke(s *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				"kind", ev.Kind(),
				"subscription", s.id,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	s.fn(ev)
}
