// Package harness runs scripted session scenarios against a throwaway store
// and checks the resulting event trace.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	store: harness            # optional, defaults to session.DefaultStore
//	steps:
//	  - open: a               # open session "a" and wait for the outcome
//	    version: 66
//	    expect: success       # or error; defaults to success
//	  - open_async: b         # start opening "b" without waiting
//	    version: 67
//	  - await: blocked        # wait until session b logs an event
//	    session: b
//	  - close: a
//	  - wait: b               # wait for b's open to resolve
//	    expect: success
//	assertions:
//	  - type: trace_order
//	    session: b
//	    events: [blocked, upgradeneeded, success]
//	  - type: container_exists
//	    container: records_v67
//
// The label of each open step is used as the session id, so every log line
// in the trace can be attributed to a label.
//
// # Trace
//
// The trace is the session log itself, captured through an in-memory
// slog.Handler and grouped by session. Events of one session are totally
// ordered; no order is implied between sessions, so golden files compare the
// per-session sequences.
//
// # Assertion Types
//
//   - trace_contains: session logged event at least once
//   - trace_count: session logged event exactly count times
//   - trace_order: session logged events in this relative order
//   - container_exists: the store holds container after the run
//   - initial_version: session opened at version
//   - state: session is opened or closed at the end of the run
package harness
