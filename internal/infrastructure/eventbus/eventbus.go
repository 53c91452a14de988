// Package eventbus carries typed notifications between the chat components
// that would otherwise share ambient global signals.
package eventbus

import (
	"sync"

	"marketchat/internal/domain/entity"
)

// Topic is a synchronous, typed publish/subscribe channel. Handlers run on the
// publisher's goroutine in subscription order.
type Topic[T any] struct {
	mu       sync.RWMutex
	nextID   int
	order    []int
	handlers map[int]func(T)
}

// Subscribe registers fn and returns a func that removes it.
func (t *Topic[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handlers == nil {
		t.handlers = make(map[int]func(T))
	}
	id := t.nextID
	t.nextID++
	t.handlers[id] = fn
	t.order = append(t.order, id)

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.handlers[id]; !ok {
			return
		}
		delete(t.handlers, id)
		for i, existing := range t.order {
			if existing == id {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers value to every current subscriber.
func (t *Topic[T]) Publish(value T) {
	t.mu.RLock()
	handlers := make([]func(T), 0, len(t.order))
	for _, id := range t.order {
		handlers = append(handlers, t.handlers[id])
	}
	t.mu.RUnlock()

	for _, fn := range handlers {
		fn(value)
	}
}

// Len returns the number of subscribers.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is a transient user-facing message, e.g. a failed send.
type Notification struct {
	Level Level
	Text  string
	Err   error
}

// OpenChatRequest asks the widget to open a conversation with a seller about a product.
type OpenChatRequest struct {
	SellerID   int64
	SellerName string
	Product    *entity.ProductContext
}

// SessionChange reports login/logout of the viewer.
type SessionChange struct {
	Viewer   entity.Viewer
	LoggedIn bool
}

// Bus groups every topic the chat subsystem uses.
type Bus struct {
	ConnectionChanged    Topic[bool]
	MessageReceived      Topic[*entity.Message]
	ConversationsChanged Topic[[]entity.Conversation]
	Notifications        Topic[Notification]
	OpenChat             Topic[OpenChatRequest]
	Session              Topic[SessionChange]
}

func New() *Bus {
	return &Bus{}
}
