// Package notify delivers endpoint change events to registered listeners.
package notify

import (
	"sync"
	"time"

	"qrgate/pkg/models"

	"github.com/google/uuid"
)

// Listener receives router events. Calls are synchronous; a slow listener
// delays the caller that triggered the event.
type Listener interface {
	OnEndpointChanged(event models.Event)
	OnAllDown(event models.Event)
}

// Subscription identifies a registered listener.
type Subscription uint64

type registration struct {
	id       Subscription
	listener Listener
}

// Notifier fans events out to listeners in registration order. Past events
// are not retained.
type Notifier struct {
	mu        sync.RWMutex
	nextID    Subscription
	listeners []registration
	now       func() time.Time
}

// New creates a notifier without listeners.
func New() *Notifier {
	return &Notifier{now: time.Now}
}

// Register adds a listener and returns its subscription handle.
func (n *Notifier) Register(listener Listener) Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	n.listeners = append(n.listeners, registration{id: n.nextID, listener: listener})
	return n.nextID
}

// Unregister removes a listener. It reports whether the subscription existed.
func (n *Notifier) Unregister(id Subscription) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, reg := range n.listeners {
		if reg.id == id {
			n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// OnEndpointChanged registers a function for endpoint-changed events only.
func (n *Notifier) OnEndpointChanged(fn func(models.Event)) Subscription {
	return n.Register(Funcs{EndpointChanged: fn})
}

// OnAllDown registers a function for all-backends-down events only.
func (n *Notifier) OnAllDown(fn func(models.Event)) Subscription {
	return n.Register(Funcs{AllDown: fn})
}

// Len returns the number of registered listeners.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

// EndpointChanged publishes an endpoint-changed event.
func (n *Notifier) EndpointChanged(endpointID, previousID string) models.Event {
	event := n.newEvent(models.EventEndpointChanged)
	event.EndpointID = endpointID
	event.Previous = previousID
	n.Publish(event)
	return event
}

// AllDown publishes an all-backends-down event.
func (n *Notifier) AllDown() models.Event {
	event := n.newEvent(models.EventAllDown)
	n.Publish(event)
	return event
}

// Publish delivers event to every listener. The listener list is copied
// first so listeners may register or unregister during delivery.
func (n *Notifier) Publish(event models.Event) {
	n.mu.RLock()
	listeners := make([]registration, len(n.listeners))
	copy(listeners, n.listeners)
	n.mu.RUnlock()

	for _, reg := range listeners {
		switch event.Type {
		case models.EventEndpointChanged:
			reg.listener.OnEndpointChanged(event)
		case models.EventAllDown:
			reg.listener.OnAllDown(event)
		}
	}
}

func (n *Notifier) newEvent(eventType models.EventType) models.Event {
	return models.Event{
		ID:   uuid.NewString(),
		Type: eventType,
		At:   n.now(),
	}
}

// Funcs adapts plain functions to Listener. Nil fields are skipped.
type Funcs struct {
	EndpointChanged func(models.Event)
	AllDown         func(models.Event)
}

func (f Funcs) OnEndpointChanged(event models.Event) {
	if f.EndpointChanged != nil {
		f.EndpointChanged(event)
	}
}

func (f Funcs) OnAllDown(event models.Event) {
	if f.AllDown != nil {
		f.AllDown(event)
	}
}

// Channel is a Listener that forwards events into a buffered channel and
// drops them when the buffer is full.
type Channel struct {
	C chan models.Event
}

// NewChannel creates a channel listener with the given buffer size.
func NewChannel(size int) *Channel {
	return &Channel{C: make(chan models.Event, size)}
}

func (c *Channel) OnEndpointChanged(event models.Event) { c.offer(event) }

func (c *Channel) OnAllDown(event models.Event) { c.offer(event) }

func (c *Channel) offer(event models.Event) {
	select {
	case c.C <- event:
	default:
	}
}
