package store

import "sync"

// EventType names a notification delivered to listeners.
type EventType string

const (
	// Open request events.
	EventBlocked       EventType = "blocked"
	EventUpgradeNeeded EventType = "upgradeneeded"
	EventSuccess       EventType = "success"

	// EventError is delivered to open requests, transactions and (bubbled) connections.
	EventError EventType = "error"

	// Connection events.
	EventVersionChange EventType = "versionchange"
	EventClose         EventType = "close"

	// Transaction events. EventAbort also bubbles to the connection.
	EventComplete EventType = "complete"
	EventAbort    EventType = "abort"
)

// Event is the payload handed to a Listener. Only the fields relevant to Type
// are set.
type Event struct {
	Type EventType

	// OldVersion and NewVersion are set for blocked, upgradeneeded and
	// versionchange events.
	OldVersion int64
	NewVersion int64

	// Conn is set for success.
	Conn *Conn

	// Tx is set for upgradeneeded (the version-change transaction) and for
	// transaction events bubbled to a connection.
	Tx *Tx

	// Err is set for error and abort events.
	Err error
}

// Listener receives events. Listeners run synchronously on the goroutine
// that produced the event and must not block on the emitter.
type Listener func(Event)

// emitter is the listener registry shared by requests, connections and
// transactions.
type emitter struct {
	mu        sync.Mutex
	listeners map[EventType][]Listener
}

// On registers fn for events of type t.
func (e *emitter) On(t EventType, fn Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[EventType][]Listener)
	}
	e.listeners[t] = append(e.listeners[t], fn)
}

func (e *emitter) emit(ev Event) {
	for _, fn := range e.listenersFor(ev.Type) {
		fn(ev)
	}
}

func (e *emitter) listenersFor(t EventType) []Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Listener(nil), e.listeners[t]...)
}
