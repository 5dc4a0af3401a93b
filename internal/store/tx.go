package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// TxMode is the access mode of a transaction.
type TxMode int

const (
	// ReadOnly transactions may only read records.
	ReadOnly TxMode = iota
	// ReadWrite transactions may read and write records.
	ReadWrite
	// VersionChange is the upgrade transaction handed to upgradeneeded
	// listeners. It is the only mode that may create or delete containers.
	VersionChange
)

func (m TxMode) String() string {
	switch m {
	case ReadOnly:
		return "readonly"
	case ReadWrite:
		return "readwrite"
	case VersionChange:
		return "versionchange"
	default:
		return fmt.Sprintf("TxMode(%d)", int(m))
	}
}

// Tx is a unit of work scoped to a set of containers on one connection.
//
// A transaction ends exactly once: with complete after a successful commit,
// or with abort (preceded by error when the commit itself failed).
// Transactions left open when their connection closes are committed by the
// close; a forced close aborts them instead.
type Tx struct {
	emitter

	conn  *Conn
	mode  TxMode
	scope []string

	mu    sync.Mutex
	sqlTx *sql.Tx
	done  bool
	err   error

	// delivered holds the events already emitted; guarded by mu.
	delivered []Event
}

// On registers fn for events of type t. Events of that type the transaction
// already delivered are replayed to fn, so a listener registered after the
// transaction ended still sees how it ended.
func (t *Tx) On(et EventType, fn Listener) {
	t.mu.Lock()
	t.emitter.On(et, fn)
	var replay []Event
	for _, ev := range t.delivered {
		if ev.Type == et {
			replay = append(replay, ev)
		}
	}
	t.mu.Unlock()

	for _, ev := range replay {
		fn(ev)
	}
}

// deliver records ev and emits it to the listeners registered so far.
// Recording and the listener snapshot happen under mu, so a concurrent On
// either sees ev in delivered or is in the snapshot, never both.
func (t *Tx) deliver(ev Event) {
	t.mu.Lock()
	t.delivered = append(t.delivered, ev)
	fns := t.emitter.listenersFor(ev.Type)
	t.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Mode returns the transaction's access mode.
func (t *Tx) Mode() TxMode { return t.mode }

// Scope returns the containers the transaction may touch. A version-change
// transaction reports an empty scope: it may touch every container.
func (t *Tx) Scope() []string { return append([]string(nil), t.scope...) }

// Conn returns the connection the transaction runs on.
func (t *Tx) Conn() *Conn { return t.conn }

// Err returns the reason the transaction aborted, or nil.
func (t *Tx) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Put stores value under key in container, replacing any existing record.
func (t *Tx) Put(container, key string, value []byte) error {
	return t.exec(container, true, `INSERT INTO `+recordTable(container)+` (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
}

// Delete removes the record stored under key. Deleting a missing key is not an error.
func (t *Tx) Delete(container, key string) error {
	return t.exec(container, true, `DELETE FROM `+recordTable(container)+` WHERE key = ?`, key)
}

// Get returns the record stored under key, or an ErrCodeNotFound error.
func (t *Tx) Get(container, key string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkLocked(container, false); err != nil {
		return nil, err
	}

	var value []byte
	err := t.sqlTx.QueryRow(`SELECT value FROM `+recordTable(container)+` WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(ErrCodeNotFound, t.conn.Name(), fmt.Sprintf("no record %q in container %q", key, container), nil)
	}
	if err != nil {
		return nil, newError(ErrCodeUnknown, t.conn.Name(), "get record", err)
	}
	return value, nil
}

// Count returns the number of records in container.
func (t *Tx) Count(container string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkLocked(container, false); err != nil {
		return 0, err
	}

	var n int
	if err := t.sqlTx.QueryRow(`SELECT COUNT(*) FROM ` + recordTable(container)).Scan(&n); err != nil {
		return 0, newError(ErrCodeUnknown, t.conn.Name(), "count records", err)
	}
	return n, nil
}

// CreateContainer adds a container. Only valid inside a version-change transaction.
func (t *Tx) CreateContainer(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkUpgradeLocked(); err != nil {
		return err
	}
	if name == "" {
		return newError(ErrCodeInvalidName, t.conn.Name(), "container name is empty", nil)
	}

	var existing int
	if err := t.sqlTx.QueryRow(`SELECT COUNT(*) FROM _containers WHERE name = ?`, name).Scan(&existing); err != nil {
		return newError(ErrCodeUnknown, t.conn.Name(), "create container", err)
	}
	if existing > 0 {
		return newError(ErrCodeInvalidName, t.conn.Name(), fmt.Sprintf("container %q already exists", name), nil)
	}

	if _, err := t.sqlTx.Exec(`INSERT INTO _containers (name, created_version) VALUES (?, ?)`, name, t.conn.Version()); err != nil {
		return newError(ErrCodeUnknown, t.conn.Name(), "create container", err)
	}
	if _, err := t.sqlTx.Exec(`CREATE TABLE ` + recordTable(name) + ` (key TEXT PRIMARY KEY, value BLOB NOT NULL)`); err != nil {
		return newError(ErrCodeUnknown, t.conn.Name(), "create container", err)
	}
	return nil
}

// DeleteContainer drops a container and its records. Only valid inside a
// version-change transaction.
func (t *Tx) DeleteContainer(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkUpgradeLocked(); err != nil {
		return err
	}

	res, err := t.sqlTx.Exec(`DELETE FROM _containers WHERE name = ?`, name)
	if err != nil {
		return newError(ErrCodeUnknown, t.conn.Name(), "delete container", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return newError(ErrCodeNotFound, t.conn.Name(), fmt.Sprintf("no container %q", name), nil)
	}
	if _, err := t.sqlTx.Exec(`DROP TABLE IF EXISTS ` + recordTable(name)); err != nil {
		return newError(ErrCodeUnknown, t.conn.Name(), "delete container", err)
	}
	return nil
}

// Commit ends the transaction. On success complete is delivered; if SQLite
// refuses the commit, error and then abort are delivered and the failure is
// returned.
func (t *Tx) Commit() error {
	if t.mode == VersionChange {
		return newError(ErrCodeInvalidState, t.conn.Name(), "version-change transaction commits when the upgrade handler returns", nil)
	}
	return t.commit(nil)
}

// Abort rolls the transaction back and delivers abort. Aborting a finished
// transaction is a no-op.
func (t *Tx) Abort() {
	t.abort(newError(ErrCodeAborted, t.conn.Name(), "transaction aborted", nil))
}

// commit finishes the transaction, running before inside the SQL transaction
// first when set.
func (t *Tx) commit(before func(*sql.Tx) error) error {
	t.mu.Lock()
	if t.done {
		err := t.err
		t.mu.Unlock()
		if err != nil {
			return err
		}
		return newError(ErrCodeInvalidState, t.conn.Name(), "transaction already finished", nil)
	}
	t.done = true

	var err error
	if before != nil {
		err = before(t.sqlTx)
	}
	if err == nil {
		err = t.sqlTx.Commit()
	}
	if err != nil {
		_ = t.sqlTx.Rollback()
		t.err = newError(ErrCodeAborted, t.conn.Name(), "commit failed", err)
	}
	failure := t.err
	t.mu.Unlock()

	t.conn.forget(t)
	if failure != nil {
		t.deliver(Event{Type: EventError, Tx: t, Err: failure})
		t.conn.emit(Event{Type: EventError, Tx: t, Err: failure})
		t.finishAborted(failure)
		return failure
	}
	t.deliver(Event{Type: EventComplete, Tx: t})
	return nil
}

func (t *Tx) abort(reason error) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.err = reason
	_ = t.sqlTx.Rollback()
	t.mu.Unlock()

	t.conn.forget(t)
	t.finishAborted(reason)
}

func (t *Tx) finishAborted(reason error) {
	t.deliver(Event{Type: EventAbort, Tx: t, Err: reason})
	t.conn.emit(Event{Type: EventAbort, Tx: t, Err: reason})
}

func (t *Tx) exec(container string, write bool, query string, args ...any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkLocked(container, write); err != nil {
		return err
	}
	if _, err := t.sqlTx.Exec(query, args...); err != nil {
		return newError(ErrCodeUnknown, t.conn.Name(), "write record", err)
	}
	return nil
}

func (t *Tx) checkLocked(container string, write bool) error {
	if t.done {
		return newError(ErrCodeInvalidState, t.conn.Name(), "transaction already finished", nil)
	}
	if write && t.mode == ReadOnly {
		return newError(ErrCodeReadOnly, t.conn.Name(), "write in a read-only transaction", nil)
	}
	if t.mode == VersionChange {
		return nil
	}
	i := sort.SearchStrings(t.scope, container)
	if i == len(t.scope) || t.scope[i] != container {
		return newError(ErrCodeNotFound, t.conn.Name(), fmt.Sprintf("container %q is not in the transaction scope", container), nil)
	}
	return nil
}

func (t *Tx) checkUpgradeLocked() error {
	if t.done {
		return newError(ErrCodeInvalidState, t.conn.Name(), "transaction already finished", nil)
	}
	if t.mode != VersionChange {
		return newError(ErrCodeInvalidState, t.conn.Name(), "containers can only change in a version-change transaction", nil)
	}
	return nil
}

func beginTx(conn *Conn, mode TxMode, scope []string) (*Tx, error) {
	sqlTx, err := conn.sqlDB.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, newError(ErrCodeUnknown, conn.Name(), "begin transaction", err)
	}
	sorted := append([]string(nil), scope...)
	sort.Strings(sorted)
	return &Tx{conn: conn, mode: mode, scope: sorted, sqlTx: sqlTx}, nil
}
