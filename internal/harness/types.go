package harness

// TraceEvent is one session log line, reduced to what the trace compares.
type TraceEvent struct {
	Event string         `json:"event"`
	Level string         `json:"level"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step and assertion succeeded.
	Pass bool `json:"pass"`

	// Trace holds each session's events in order, keyed by session label.
	Trace map[string][]TraceEvent `json:"trace"`

	// Errors contains step and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  make(map[string][]TraceEvent),
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Events returns the event names of one session, in order.
func (r *Result) Events(session string) []string {
	trace := r.Trace[session]
	names := make([]string, len(trace))
	for i, ev := range trace {
		names[i] = ev.Event
	}
	return names
}
