package hub

import (
	"fmt"

	"climatesync/internal/climate"
)

// Kind identifies a notification.
type Kind int

const (
	KindConnected Kind = iota
	KindDisconnected
	KindError
	KindEntityAdded
	KindEntityChanged
	KindEntityRemoved
)

func (k Kind) String() string {
	switch k {
	case KindConnected:
		return "connected"
	case KindDisconnected:
		return "disconnected"
	case KindError:
		return "error"
	case KindEntityAdded:
		return "entity_added"
	case KindEntityChanged:
		return "entity_changed"
	case KindEntityRemoved:
		return "entity_removed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Notification is delivered to every subscribed Handler. EntityID and State
// are set for entity notifications (State is nil for removals), Message for
// errors. State is a private copy in caller-facing mode vocabulary.
type Notification struct {
	Kind     Kind
	EntityID string
	State    *climate.State
	Message  string
}

func (n Notification) String() string {
	switch n.Kind {
	case KindError:
		return fmt.Sprintf("%s: %s", n.Kind, n.Message)
	case KindEntityAdded, KindEntityChanged, KindEntityRemoved:
		return fmt.Sprintf("%s: %s", n.Kind, n.EntityID)
	default:
		return n.Kind.String()
	}
}

// Handler receives notifications. Handlers run on the hub's connection
// goroutines and must return quickly.
type Handler func(Notification)

// Subscription is returned by Subscribe.
type Subscription struct {
	hub *Hub
	id  uint64
}

// Unsubscribe stops delivery to the handler. Safe to call more than once.
func (s Subscription) Unsubscribe() {
	if s.hub == nil {
		return
	}
	s.hub.subMu.Lock()
	delete(s.hub.subs, s.id)
	s.hub.subMu.Unlock()
}
