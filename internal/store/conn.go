package store

import (
	"database/sql"
	"fmt"
	"sync"
)

// Conn is one open connection to a named store at a fixed version.
//
// Connection-level listeners receive versionchange (another request wants a
// higher version), close (the store closed the connection on its own, for
// example because the store was deleted), and abort and error bubbled up
// from the connection's transactions.
type Conn struct {
	emitter

	db    *database
	sqlDB *sql.DB

	mu           sync.Mutex
	version      int64
	txs          map[*Tx]struct{}
	closePending bool
	closed       chan struct{}
}

func newConn(db *database, sqlDB *sql.DB, version int64) *Conn {
	return &Conn{
		db:      db,
		sqlDB:   sqlDB,
		version: version,
		txs:     make(map[*Tx]struct{}),
		closed:  make(chan struct{}),
	}
}

// Name returns the store name.
func (c *Conn) Name() string { return c.db.name }

// Version returns the schema version the connection was opened at.
func (c *Conn) Version() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Containers lists the containers present in the store.
func (c *Conn) Containers() ([]string, error) {
	select {
	case <-c.closed:
		return nil, newError(ErrCodeInvalidState, c.Name(), "connection is closed", nil)
	default:
	}
	names, err := listContainers(c.sqlDB)
	if err != nil {
		return nil, newError(ErrCodeUnknown, c.Name(), "list containers", err)
	}
	return names, nil
}

// Transaction starts a transaction over the named containers. It fails once
// Close has been called.
func (c *Conn) Transaction(containers []string, mode TxMode) (*Tx, error) {
	if mode == VersionChange {
		return nil, newError(ErrCodeInvalidState, c.Name(), "version-change transactions are only created by open requests", nil)
	}
	if len(containers) == 0 {
		return nil, newError(ErrCodeInvalidName, c.Name(), "transaction scope is empty", nil)
	}
	if c.isClosePending() {
		return nil, newError(ErrCodeInvalidState, c.Name(), "connection is closing", nil)
	}

	existing, err := c.Containers()
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, name := range existing {
		known[name] = true
	}
	for _, name := range containers {
		if !known[name] {
			return nil, newError(ErrCodeNotFound, c.Name(), fmt.Sprintf("no container %q", name), nil)
		}
	}

	tx, err := beginTx(c, mode, containers)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closePending {
		c.mu.Unlock()
		_ = tx.sqlTx.Rollback()
		return nil, newError(ErrCodeInvalidState, c.Name(), "connection is closing", nil)
	}
	c.txs[tx] = struct{}{}
	c.mu.Unlock()

	return tx, nil
}

// Close detaches the connection. It returns immediately; transactions still
// open are committed in the background, after which the SQLite handle is
// released and queued open requests may proceed. Done reports when that has
// happened. Calling Close more than once is a no-op.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closePending {
		c.mu.Unlock()
		return
	}
	c.closePending = true
	c.mu.Unlock()

	go c.settle(false)
}

// Done is closed once the connection has fully shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// forceClose shuts the connection down synchronously, aborting open
// transactions, and delivers close. A connection already closing is left to
// finish on its own.
func (c *Conn) forceClose() {
	c.mu.Lock()
	if c.closePending {
		c.mu.Unlock()
		return
	}
	c.closePending = true
	c.mu.Unlock()

	c.settle(true)
	c.emit(Event{Type: EventClose})
}

func (c *Conn) settle(force bool) {
	for _, tx := range c.openTxs() {
		if force {
			tx.abort(newError(ErrCodeAborted, c.Name(), "connection was closed", nil))
			continue
		}
		// A failed commit is reported through the transaction's own events.
		_ = tx.commit(nil)
	}

	_ = c.sqlDB.Close()
	close(c.closed)
	c.db.release(c)
}

func (c *Conn) openTxs() []*Tx {
	c.mu.Lock()
	defer c.mu.Unlock()

	txs := make([]*Tx, 0, len(c.txs))
	for tx := range c.txs {
		txs = append(txs, tx)
	}
	return txs
}

func (c *Conn) forget(tx *Tx) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.txs, tx)
}

func (c *Conn) isClosePending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closePending
}

// beginVersionChange starts the upgrade transaction and moves the connection
// to version.
func (c *Conn) beginVersionChange(version int64) (*Tx, error) {
	tx, err := beginTx(c, VersionChange, nil)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.version = version
	c.mu.Unlock()
	return tx, nil
}
