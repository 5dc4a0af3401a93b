package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

// createTestFactory creates a factory in a fresh temporary directory.
func createTestFactory(t *testing.T) *Factory {
	t.Helper()
	f, err := NewFactory(t.TempDir())
	require.NoError(t, err)
	return f
}

// eventLog collects events from any number of listeners.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	notify chan Event
}

func newEventLog() *eventLog {
	return &eventLog{notify: make(chan Event, 64)}
}

func (l *eventLog) listener() Listener {
	return func(ev Event) {
		l.mu.Lock()
		l.events = append(l.events, ev)
		l.mu.Unlock()
		l.notify <- ev
	}
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	types := make([]EventType, len(l.events))
	for i, ev := range l.events {
		types[i] = ev.Type
	}
	return types
}

// waitFor blocks until an event of type t has been recorded.
func (l *eventLog) waitFor(tb testing.TB, t EventType) Event {
	tb.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case ev := <-l.notify:
			if ev.Type == t {
				return ev
			}
		case <-deadline:
			tb.Fatalf("timed out waiting for %s event; saw %v", t, l.types())
			return Event{}
		}
	}
}

// watch registers the log on every event type of a request.
func (l *eventLog) watch(r *OpenRequest) {
	for _, t := range []EventType{EventBlocked, EventUpgradeNeeded, EventSuccess, EventError} {
		r.On(t, l.listener())
	}
}

// openTestConn opens name at version, creating containers during the upgrade.
func openTestConn(t *testing.T, f *Factory, name string, version int64, containers ...string) *Conn {
	t.Helper()

	req := f.Open(name, version)
	req.On(EventUpgradeNeeded, func(ev Event) {
		for _, c := range containers {
			if err := ev.Tx.CreateContainer(c); err != nil {
				ev.Tx.Abort()
				return
			}
		}
	})
	log := newEventLog()
	req.On(EventSuccess, log.listener())
	req.On(EventError, log.listener())
	req.Submit()

	select {
	case ev := <-log.notify:
		require.Equal(t, EventSuccess, ev.Type, "open failed: %v", ev.Err)
		return ev.Conn
	case <-time.After(testTimeout):
		t.Fatalf("timed out opening %s at version %d", name, version)
		return nil
	}
}

// closeAndWait closes c and waits until it has fully shut down.
func closeAndWait(t *testing.T, c *Conn) {
	t.Helper()
	c.Close()
	select {
	case <-c.Done():
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for connection to close")
	}
}
