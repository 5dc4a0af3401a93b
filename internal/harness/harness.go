package harness

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/roach88/idbharness/internal/ids"
	"github.com/roach88/idbharness/internal/session"
	"github.com/roach88/idbharness/internal/store"
	"github.com/roach88/idbharness/internal/testutil"
)

// StepTimeout bounds every blocking step (open, await, wait).
var StepTimeout = 5 * time.Second

type openOutcome struct {
	session *session.Session
	err     error
}

// runner holds the state of one scenario run.
type runner struct {
	factory   *store.Factory
	recorder  *testutil.LogRecorder
	storeName string
	logger    *slog.Logger

	sessions map[string]*session.Session
	pending  map[string]chan openOutcome
	initial  map[string]int64
	labels   []string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh store directory that is removed
// afterwards. Sessions are named by their step labels, so the trace is
// reproducible from run to run.
//
// Execution flow:
//  1. Create a temporary store directory
//  2. Execute steps in order
//  3. Evaluate assertions against the trace and final state
//  4. Close whatever the scenario left open
//
// An error is returned only when the run could not be set up; step and
// assertion failures are reported through Result.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "idbharness-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	defer os.RemoveAll(dir)

	factory, err := store.NewFactory(dir)
	if err != nil {
		return nil, err
	}

	storeName := scenario.Store
	if storeName == "" {
		storeName = session.DefaultStore
	}

	recorder := testutil.NewLogRecorder()
	r := &runner{
		factory:   factory,
		recorder:  recorder,
		storeName: storeName,
		logger:    recorder.Logger(),
		sessions:  make(map[string]*session.Session),
		pending:   make(map[string]chan openOutcome),
		initial:   make(map[string]int64),
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := r.execute(step); err != nil {
			result.AddError(fmt.Sprintf("step %d: %v", i, err))
			break
		}
	}

	// Snapshot before cleanup so the trace only shows what the scenario did.
	for _, label := range r.labels {
		result.Trace[label] = r.trace(label)
	}

	for _, msg := range evaluateAssertions(r, scenario.Assertions) {
		result.AddError(msg)
	}

	r.cleanup()
	return result, nil
}

func (r *runner) execute(step Step) error {
	switch {
	case step.Open != "":
		r.start(step.Open, step.Version)
		return r.settle(step.Open, step.Expect)
	case step.OpenAsync != "":
		r.start(step.OpenAsync, step.Version)
		return nil
	case step.Await != "":
		if !r.recorder.WaitFor(step.Session, step.Await, StepTimeout) {
			return fmt.Errorf("session %s did not log %s within %v", step.Session, step.Await, StepTimeout)
		}
		return nil
	case step.Wait != "":
		return r.settle(step.Wait, step.Expect)
	case step.Close != "":
		s, ok := r.sessions[step.Close]
		if !ok {
			return fmt.Errorf("session %s is not open", step.Close)
		}
		s.Close()
		return nil
	default:
		return fmt.Errorf("step has no action")
	}
}

// start begins opening a session in the background.
func (r *runner) start(label string, version int64) {
	r.labels = append(r.labels, label)
	done := make(chan openOutcome, 1)
	r.pending[label] = done

	cfg := session.Config{
		Store:   r.storeName,
		Version: version,
		IDs:     ids.NewFixedGenerator(label),
		Logger:  r.logger,
	}
	go func() {
		s, err := session.Open(r.factory, cfg)
		done <- openOutcome{session: s, err: err}
	}()
}

// settle waits for a pending open and checks its outcome.
func (r *runner) settle(label, expect string) error {
	done, ok := r.pending[label]
	if !ok {
		return fmt.Errorf("session %s has no pending open", label)
	}

	var out openOutcome
	select {
	case out = <-done:
	case <-time.After(StepTimeout):
		return fmt.Errorf("open of session %s did not resolve within %v", label, StepTimeout)
	}
	delete(r.pending, label)

	if out.err == nil {
		r.sessions[label] = out.session
		if v, ok := out.session.InitialVersion(); ok {
			r.initial[label] = v
		}
	}

	if expect == "" {
		expect = ExpectSuccess
	}
	switch {
	case expect == ExpectSuccess && out.err != nil:
		return fmt.Errorf("open of session %s failed: %v", label, out.err)
	case expect == ExpectError && out.err == nil:
		return fmt.Errorf("open of session %s succeeded, expected an error", label)
	}
	return nil
}

func (r *runner) trace(label string) []TraceEvent {
	entries := r.recorder.SessionEntries(label)
	trace := make([]TraceEvent, len(entries))
	for i, e := range entries {
		ev := TraceEvent{Event: e.Event, Level: e.Level.String()}
		if len(e.Attrs) > 0 {
			ev.Attrs = e.Attrs
		}
		trace[i] = ev
	}
	return trace
}

// containers returns the containers of the scenario's store, or nil when the
// store was never created.
func (r *runner) containers() ([]string, error) {
	infos, err := r.factory.Databases()
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Name == r.storeName {
			return info.Containers, nil
		}
	}
	return nil, nil
}

// cleanup closes opened sessions, which also unblocks pending opens, then
// closes any session those opens produce.
func (r *runner) cleanup() {
	for _, s := range r.sessions {
		s.Close()
	}
	for _, done := range r.pending {
		select {
		case out := <-done:
			if out.session != nil {
				out.session.Close()
			}
		case <-time.After(StepTimeout):
		}
	}
}
