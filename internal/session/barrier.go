package session

import (
	"log/slog"

	"github.com/roach88/idbharness/internal/store"
)

// drain closes conn behind a read-only transaction on container and returns
// once that transaction has ended. A native close on its own does not wait
// for pending work; the transaction's terminal signal does.
//
// Closing can make the transaction abort instead of complete, so complete,
// error and abort all count as drained; the first one wins. Failures are
// logged, never returned.
func drain(conn connection, container string, log *slog.Logger) {
	log.Debug("close barrier started", "event", "barrier.begin", "container", container)

	tx, err := conn.Begin([]string{container}, store.ReadOnly)
	if err != nil {
		log.Warn("close barrier unavailable, closing without drain", "event", "barrier.unavailable",
			"container", container, "error", err)
		conn.Close()
		return
	}

	drained := newFuture[store.Event]()
	for _, t := range []store.EventType{store.EventComplete, store.EventError, store.EventAbort} {
		tx.On(t, func(ev store.Event) {
			if !drained.resolve(ev) {
				log.Debug("late barrier signal ignored", "event", "barrier.late", "signal", string(ev.Type))
			}
		})
	}

	conn.Close()

	ev := drained.wait()
	if ev.Type == store.EventComplete {
		log.Info("close barrier drained", "event", "barrier.complete")
		return
	}
	log.Warn("close barrier drained without completing", "event", "barrier."+string(ev.Type), "error", ev.Err)
}
