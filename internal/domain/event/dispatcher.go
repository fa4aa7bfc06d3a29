package event

import (
	"sync"
)

// EventHandler handles domain events
type EventHandler interface {
	// Handle processes the event
	Handle(event DomainEvent) error
	// HandledEvents returns the event names this handler handles
	HandledEvents() []string
}

// EventDispatcher dispatches domain events to registered handlers
type EventDispatcher interface {
	// Dispatch sends an event to all registered handlers
	Dispatch(event DomainEvent)
	// DispatchAll dispatches multiple events
	DispatchAll(events []DomainEvent)
	// Subscribe registers a handler for events
	Subscribe(handler EventHandler)
	// Unsubscribe removes a handler
	Unsubscribe(handler EventHandler)
}

// InMemoryDispatcher is an in-memory implementation of EventDispatcher.
//
// In queued mode Dispatch never blocks and never runs a handler on the
// caller's goroutine: events go into an unbounded FIFO drained by a single
// goroutine, so handlers observe events in dispatch order and may call back
// into the engine without deadlocking.
type InMemoryDispatcher struct {
	handlers map[string][]EventHandler
	mu       sync.RWMutex
	queued   bool

	qmu     sync.Mutex
	cond    *sync.Cond
	pending []DomainEvent
	closed  bool
	drained chan struct{}
}

// NewInMemoryDispatcher creates a new InMemoryDispatcher
func NewInMemoryDispatcher(queued bool) *InMemoryDispatcher {
	d := &InMemoryDispatcher{
		handlers: make(map[string][]EventHandler),
		queued:   queued,
		drained:  make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.qmu)
	if queued {
		go d.loop()
	} else {
		close(d.drained)
	}
	return d
}

// Dispatch sends an event to all registered handlers
func (d *InMemoryDispatcher) Dispatch(event DomainEvent) {
	if !d.queued {
		d.deliver(event)
		return
	}

	d.qmu.Lock()
	if d.closed {
		d.qmu.Unlock()
		return
	}
	d.pending = append(d.pending, event)
	d.qmu.Unlock()
	d.cond.Signal()
}

// DispatchAll dispatches multiple events
func (d *InMemoryDispatcher) DispatchAll(events []DomainEvent) {
	for _, event := range events {
		d.Dispatch(event)
	}
}

// Close stops accepting events and waits until queued ones are delivered
func (d *InMemoryDispatcher) Close() {
	d.qmu.Lock()
	d.closed = true
	d.qmu.Unlock()
	d.cond.Broadcast()
	<-d.drained
}

func (d *InMemoryDispatcher) loop() {
	defer close(d.drained)
	for {
		d.qmu.Lock()
		for len(d.pending) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.pending) == 0 && d.closed {
			d.qmu.Unlock()
			return
		}
		batch := d.pending
		d.pending = nil
		d.qmu.Unlock()

		for _, event := range batch {
			d.deliver(event)
		}
	}
}

func (d *InMemoryDispatcher) deliver(event DomainEvent) {
	d.mu.RLock()
	handlers := d.handlers[event.EventName()]
	// Also get handlers registered for all events
	allHandlers := d.handlers["*"]
	combined := make([]EventHandler, 0, len(handlers)+len(allHandlers))
	combined = append(combined, handlers...)
	combined = append(combined, allHandlers...)
	d.mu.RUnlock()

	for _, handler := range combined {
		_ = handler.Handle(event)
	}
}

// Subscribe registers a handler for events
func (d *InMemoryDispatcher) Subscribe(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, eventName := range handler.HandledEvents() {
		d.handlers[eventName] = append(d.handlers[eventName], handler)
	}
}

// Unsubscribe removes a handler
func (d *InMemoryDispatcher) Unsubscribe(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, eventName := range handler.HandledEvents() {
		handlers := d.handlers[eventName]
		for i, h := range handlers {
			if h == handler {
				d.handlers[eventName] = append(handlers[:i:i], handlers[i+1:]...)
				break
			}
		}
	}
}

// NullDispatcher is a no-op dispatcher for when events are not needed
type NullDispatcher struct{}

// NewNullDispatcher creates a new NullDispatcher
func NewNullDispatcher() *NullDispatcher {
	return &NullDispatcher{}
}

// Dispatch does nothing
func (d *NullDispatcher) Dispatch(event DomainEvent) {}

// DispatchAll does nothing
func (d *NullDispatcher) DispatchAll(events []DomainEvent) {}

// Subscribe does nothing
func (d *NullDispatcher) Subscribe(handler EventHandler) {}

// Unsubscribe does nothing
func (d *NullDispatcher) Unsubscribe(handler EventHandler) {}
