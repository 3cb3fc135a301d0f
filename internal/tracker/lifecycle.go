package tracker

import "sync"

// Visibility is the host's foreground state.
type Visibility int

const (
	VisibilityVisible Visibility = iota
	VisibilityHidden
)

func (v Visibility) String() string {
	if v == VisibilityHidden {
		return "hidden"
	}
	return "visible"
}

// Listener receives host lifecycle notifications. Nil callbacks are skipped.
type Listener struct {
	VisibilityChanged func(Visibility)
	BeforeUnload      func()
}

// Lifecycle is the process-wide source of visibility and teardown notifications.
// Subscribe must not invoke the listener before it returns.
type Lifecycle interface {
	Subscribe(Listener) (unsubscribe func())
}

// Hub is a Lifecycle driven by explicit calls from the host.
type Hub struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{listeners: make(map[int]Listener)}
}

// Subscribe registers l until the returned function is called.
func (h *Hub) Subscribe(l Listener) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// SetVisibility notifies every listener of a visibility change.
func (h *Hub) SetVisibility(v Visibility) {
	for _, l := range h.snapshot() {
		if l.VisibilityChanged != nil {
			l.VisibilityChanged(v)
		}
	}
}

// Unload notifies every listener that the host is about to terminate.
func (h *Hub) Unload() {
	for _, l := range h.snapshot() {
		if l.BeforeUnload != nil {
			l.BeforeUnload()
		}
	}
}

// Len reports the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

func (h *Hub) snapshot() []Listener {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		out = append(out, l)
	}
	return out
}
