package store

import (
	"database/sql"
	"fmt"
	"math"
	"sync"
)

// OpenRequest is one in-flight attempt to open a store at a target version.
//
// Listeners observe, in order: blocked (at most once, when other connections
// hold the store at a lower version and have not closed after being sent
// versionchange), upgradeneeded (at most once, when the on-disk version is
// lower than the target), then exactly one of success or error.
type OpenRequest struct {
	emitter

	factory *Factory
	name    string
	version int64
	submit  sync.Once
}

// Name returns the store name as given to Factory.Open.
func (r *OpenRequest) Name() string { return r.name }

// Version returns the requested version.
func (r *OpenRequest) Version() int64 { return r.version }

// MaxVersion is the highest version a store can record. The version lives in
// SQLite's user_version header field, a signed 32-bit integer.
const MaxVersion = math.MaxInt32

// Submit places the request in the store's connection queue. Events are
// delivered from another goroutine. Only the first call has an effect.
func (r *OpenRequest) Submit() {
	r.submit.Do(func() {
		if r.version < 1 || r.version > MaxVersion {
			go r.fail(newError(ErrCodeInvalidVersion, r.name,
				fmt.Sprintf("version %d is outside 1..%d", r.version, MaxVersion), nil))
			return
		}
		name, err := normalizeName(r.name)
		if err != nil {
			go r.fail(err)
			return
		}
		r.factory.database(name).enqueue(r)
	})
}

func (r *OpenRequest) fail(err error) {
	r.emit(Event{Type: EventError, Err: err})
}

func (r *OpenRequest) run(db *database) {
	sqlDB, err := openSQLite(db.path)
	if err != nil {
		r.fail(newError(ErrCodeUnknown, db.name, "open store", err))
		return
	}

	current, err := readVersion(sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		r.fail(newError(ErrCodeUnknown, db.name, "open store", err))
		return
	}

	if r.version < current {
		_ = sqlDB.Close()
		r.fail(newError(ErrCodeVersion, db.name,
			fmt.Sprintf("requested version %d is less than the existing version %d", r.version, current), nil))
		return
	}

	conn := newConn(db, sqlDB, current)
	if r.version > current {
		if err := r.upgrade(db, conn, current); err != nil {
			_ = sqlDB.Close()
			r.fail(err)
			return
		}
	}

	db.register(conn)
	r.emit(Event{Type: EventSuccess, Conn: conn})
}

// upgrade asks every other connection to step aside, waits until they have
// closed, and runs the version-change transaction.
func (r *OpenRequest) upgrade(db *database, conn *Conn, current int64) error {
	for _, other := range db.live() {
		other.emit(Event{Type: EventVersionChange, OldVersion: other.Version(), NewVersion: r.version})
	}
	if db.blocking() {
		r.emit(Event{Type: EventBlocked, OldVersion: current, NewVersion: r.version})
	}
	db.waitUntilFree()

	tx, err := conn.beginVersionChange(r.version)
	if err != nil {
		return err
	}

	r.emit(Event{Type: EventUpgradeNeeded, OldVersion: current, NewVersion: r.version, Tx: tx})

	if conn.isClosePending() {
		tx.abort(newError(ErrCodeAborted, db.name, "connection closed during upgrade", nil))
	}
	if err := tx.commit(func(sqlTx *sql.Tx) error { return writeVersion(sqlTx, r.version) }); err != nil {
		return newError(ErrCodeAborted, db.name, "upgrade transaction did not commit", err)
	}
	return nil
}
