// Package store provides a local, versioned, transactional embedded store on
// top of SQLite, with an asynchronous event contract modelled on browser
// object databases.
//
// A Factory owns a directory; each store name maps to one SQLite file whose
// PRAGMA user_version is the store's schema version. Records live in named
// containers, created only inside the version-change transaction of an
// upgrade.
//
// # Open Protocol
//
// Factory.Open returns an inert OpenRequest. After listeners are registered
// and Submit is called, the request joins the store's connection queue and
// produces:
//
//	versionchange  → every other live connection (upgrade only)
//	blocked        → the request, if some of them did not close (at most once)
//	upgradeneeded  → the request, with the version-change Tx (upgrade only)
//	success|error  → the request, exactly one
//
// # Closing
//
// Conn.Close returns immediately. Outstanding transactions are committed in
// the background before the SQLite handle is released, so callers that need
// to know when work has drained must watch a transaction's terminal events
// (complete, error, abort) or Conn.Done.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
