package uistate

import "sync"

// Handler receives dispatched actions.
type Handler func(Action)

type registration struct {
	id      int
	handler Handler
}

// Dispatcher routes actions to registered handlers. Handlers registered
// for every action run before kind-scoped ones, so the store has
// reduced by the time effects observe an action. Actions dispatched
// from inside a handler are queued and run after the current action
// finishes, in order.
type Dispatcher struct {
	mu       sync.Mutex
	all      []registration
	byKind   map[string][]registration
	nextID   int
	queue    []Action
	draining bool
}

// NewDispatcher builds an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{byKind: map[string][]registration{}}
}

// OnAll registers a handler for every action. Returns an unregister
// func.
func (d *Dispatcher) OnAll(h Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.all = append(d.all, registration{id: id, handler: h})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.all = removeRegistration(d.all, id)
	}
}

// On registers a handler for one action kind. Returns an unregister
// func.
func (d *Dispatcher) On(kind string, h Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.byKind[kind] = append(d.byKind[kind], registration{id: id, handler: h})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.byKind[kind] = removeRegistration(d.byKind[kind], id)
	}
}

// Dispatch delivers an action to all matching handlers. Safe to call
// from inside a handler; nested dispatches run after the current one.
func (d *Dispatcher) Dispatch(action Action) {
	if action == nil {
		return
	}
	d.mu.Lock()
	d.queue = append(d.queue, action)
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		handlers := make([]registration, 0, len(d.all)+len(d.byKind[next.Kind()]))
		handlers = append(handlers, d.all...)
		handlers = append(handlers, d.byKind[next.Kind()]...)
		d.mu.Unlock()
		for _, r := range handlers {
			r.handler(next)
		}
		d.mu.Lock()
	}
	d.draining = false
	d.mu.Unlock()
}

func removeRegistration(regs []registration, id int) []registration {
	for i, r := range regs {
		if r.id == id {
			return append(regs[:i:i], regs[i+1:]...)
		}
	}
	return regs
}
