package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Publisher is what the workflow services depend on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Handler consumes one event.
type Handler func(ctx context.Context, ev Event) error

// Dispatcher delivers events synchronously to the handlers subscribed to
// the event name, and to catch-all handlers.  Every handler runs even if
// an earlier one fails; the failures are joined into the returned error.
type Dispatcher struct {
	mu     sync.RWMutex
	byName map[string][]Handler
	all    []Handler
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{byName: make(map[string][]Handler)}
}

// Subscribe registers h for the given event names.
func (d *Dispatcher) Subscribe(h Handler, names ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range names {
		d.byName[n] = append(d.byName[n], h)
	}
}

// SubscribeAll registers h for every event.
func (d *Dispatcher) SubscribeAll(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = append(d.all, h)
}

// Publish implements Publisher.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) error {
	d.mu.RLock()
	handlers := make([]Handler, 0, len(d.byName[ev.Name()])+len(d.all))
	handlers = append(handlers, d.byName[ev.Name()]...)
	handlers = append(handlers, d.all...)
	d.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ev.Name(), err))
		}
	}
	return errors.Join(errs...)
}
