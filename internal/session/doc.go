// Package session manages the lifecycle of one connection to a versioned
// embedded store.
//
// A Session is created by Open and is either opened or closed; the only
// transition is Close, which happens once. Open drives the store's open
// request to its terminal signal, creating the version's container when an
// upgrade is needed. Close runs a barrier: a read-only transaction on the
// session's container is started, the native close is issued, and the
// session only counts as closed once that transaction has reached complete,
// error or abort, whichever comes first.
//
// Failures after a successful open are logged and never returned. Every log
// line carries the session id and an event name:
//
//	open.request, blocked, upgradeneeded, container.create, success, error
//	conn.versionchange, conn.close, conn.abort, conn.error
//	close.request, barrier.begin, barrier.complete|barrier.error|barrier.abort,
//	closed, close.noop
//
// There is no timeout: an open blocked by another connection waits until it
// closes. Callers that need a bound must add it themselves.
package session
