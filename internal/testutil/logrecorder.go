package testutil

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is one recorded log record, flattened.
//
// Session and Event are lifted out of the attributes because they form the
// correlation key; everything else stays in Attrs.
type Entry struct {
	Level   slog.Level
	Message string
	Session string
	Event   string
	Attrs   map[string]any
}

// LogRecorder is a slog.Handler that keeps every record in memory.
//
// It records at all levels, so debug-level events are visible to tests and
// scenario traces.
//
// Thread-safety: LogRecorder is safe for concurrent use; loggers derived via
// With share the same sink.
type LogRecorder struct {
	sink  *sink
	attrs []slog.Attr
}

type sink struct {
	mu      sync.Mutex
	entries []Entry
	changed chan struct{}
}

// NewLogRecorder creates an empty recorder.
func NewLogRecorder() *LogRecorder {
	return &LogRecorder{sink: &sink{changed: make(chan struct{})}}
}

// Logger returns a logger writing to the recorder.
func (r *LogRecorder) Logger() *slog.Logger {
	return slog.New(r)
}

// Enabled implements slog.Handler.
func (r *LogRecorder) Enabled(context.Context, slog.Level) bool {
	return true
}

// Handle implements slog.Handler.
func (r *LogRecorder) Handle(_ context.Context, rec slog.Record) error {
	e := Entry{
		Level:   rec.Level,
		Message: rec.Message,
		Attrs:   make(map[string]any),
	}
	add := func(a slog.Attr) bool {
		switch a.Key {
		case "session":
			e.Session = a.Value.String()
		case "event":
			e.Event = a.Value.String()
		default:
			e.Attrs[a.Key] = attrValue(a.Value)
		}
		return true
	}
	for _, a := range r.attrs {
		add(a)
	}
	rec.Attrs(add)

	r.sink.mu.Lock()
	r.sink.entries = append(r.sink.entries, e)
	close(r.sink.changed)
	r.sink.changed = make(chan struct{})
	r.sink.mu.Unlock()
	return nil
}

// WithAttrs implements slog.Handler.
func (r *LogRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(r.attrs)+len(attrs))
	merged = append(merged, r.attrs...)
	merged = append(merged, attrs...)
	return &LogRecorder{sink: r.sink, attrs: merged}
}

// WithGroup implements slog.Handler. Groups are flattened.
func (r *LogRecorder) WithGroup(string) slog.Handler {
	return r
}

// Entries returns a copy of everything recorded so far.
func (r *LogRecorder) Entries() []Entry {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	return append([]Entry(nil), r.sink.entries...)
}

// SessionEntries returns the entries for one session, in order.
func (r *LogRecorder) SessionEntries(session string) []Entry {
	var out []Entry
	for _, e := range r.Entries() {
		if e.Session == session {
			out = append(out, e)
		}
	}
	return out
}

// Events returns the event names logged for one session, in order.
func (r *LogRecorder) Events(session string) []string {
	entries := r.SessionEntries(session)
	events := make([]string, len(entries))
	for i, e := range entries {
		events[i] = e.Event
	}
	return events
}

// Count returns how many times session logged event.
func (r *LogRecorder) Count(session, event string) int {
	n := 0
	for _, e := range r.SessionEntries(session) {
		if e.Event == event {
			n++
		}
	}
	return n
}

// WaitFor blocks until session has logged event or timeout elapses, and
// reports whether the event was seen.
func (r *LogRecorder) WaitFor(session, event string, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		r.sink.mu.Lock()
		for _, e := range r.sink.entries {
			if e.Session == session && e.Event == event {
				r.sink.mu.Unlock()
				return true
			}
		}
		changed := r.sink.changed
		r.sink.mu.Unlock()

		select {
		case <-changed:
		case <-deadline.C:
			return false
		}
	}
}

func attrValue(v slog.Value) any {
	v = v.Resolve()
	if v.Kind() != slog.KindAny {
		return v.Any()
	}
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	return v.Any()
}
