package session

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/roach88/idbharness/internal/ids"
	"github.com/roach88/idbharness/internal/store"
)

// DefaultStore is the store name used when Config.Store is empty.
const DefaultStore = "harness"

// ContainerPrefix is the fixed part of every container name.
const ContainerPrefix = "records_v"

// ContainerName returns the container for a schema version.
func ContainerName(version int64) string {
	return ContainerPrefix + strconv.FormatInt(version, 10)
}

// Opener issues open requests against a store. *store.Factory implements it.
type Opener interface {
	Open(name string, version int64) *store.OpenRequest
}

// Config configures Open.
type Config struct {
	// Store is the store name. Defaults to DefaultStore.
	Store string

	// Version is the target schema version; it must be positive.
	Version int64

	// ContainerName maps a version to its container. Defaults to ContainerName.
	ContainerName func(version int64) string

	// IDs generates the session id. Defaults to ids.RandomGenerator.
	IDs ids.Generator

	// Logger receives every session event. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Store == "" {
		c.Store = DefaultStore
	}
	if c.ContainerName == nil {
		c.ContainerName = ContainerName
	}
	if c.IDs == nil {
		c.IDs = ids.RandomGenerator{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// State is the observable lifecycle state of a Session.
type State int

const (
	StateOpened State = iota + 1
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is one logical connection to a store.
//
// Thread-safety: all methods are safe for concurrent use. Concurrent Close
// calls are serialized; the ones that lose return once the winner is done.
type Session struct {
	id            string
	log           *slog.Logger
	containerName func(int64) string

	closeMu sync.Mutex
	mu      sync.Mutex
	state   state
}

// state is either opened or closed. Only opened holds a connection.
type state interface {
	isState()
}

type opened struct {
	conn           connection
	initialVersion int64
}

type closed struct{}

func (opened) isState() {}
func (closed) isState() {}

// connection is the part of *store.Conn a session needs.
type connection interface {
	Version() int64
	On(store.EventType, store.Listener)
	Begin(containers []string, mode store.TxMode) (transaction, error)
	Close()
}

// transaction is the part of *store.Tx the close barrier needs.
type transaction interface {
	On(store.EventType, store.Listener)
}

// storeConn adapts *store.Conn to connection.
type storeConn struct {
	*store.Conn
}

func (c storeConn) Begin(containers []string, mode store.TxMode) (transaction, error) {
	tx, err := c.Transaction(containers, mode)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// newSession wraps an open connection and starts observing its unsolicited
// events.
func newSession(id string, conn connection, initialVersion int64, containerName func(int64) string, log *slog.Logger) *Session {
	s := &Session{
		id:            id,
		log:           log,
		containerName: containerName,
		state:         opened{conn: conn, initialVersion: initialVersion},
	}

	conn.On(store.EventVersionChange, func(ev store.Event) {
		log.Warn("another connection requested a newer version", "event", "conn.versionchange",
			"old_version", ev.OldVersion, "new_version", ev.NewVersion)
	})
	conn.On(store.EventClose, func(store.Event) {
		log.Warn("connection closed by the store", "event", "conn.close")
	})
	conn.On(store.EventAbort, func(ev store.Event) {
		log.Warn("transaction aborted on connection", "event", "conn.abort", "error", ev.Err)
	})
	conn.On(store.EventError, func(ev store.Event) {
		log.Error("connection error", "event", "conn.error", "error", ev.Err)
	})

	return s
}

// ID returns the session's correlation id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	switch s.current().(type) {
	case opened:
		return StateOpened
	case closed:
		return StateClosed
	default:
		return 0
	}
}

// InitialVersion returns the version the store reported when the session
// opened. ok is false once the session is closed.
func (s *Session) InitialVersion() (version int64, ok bool) {
	if st, isOpen := s.current().(opened); isOpen {
		return st.initialVersion, true
	}
	return 0, false
}

// Container returns the name of the session's container.
func (s *Session) Container() (string, bool) {
	v, ok := s.InitialVersion()
	if !ok {
		return "", false
	}
	return s.containerName(v), true
}

// Close closes the session. It returns once the close barrier has drained;
// it never fails. Closing a closed session is a no-op.
//
// Close panics on a Session that did not come from a successful Open.
func (s *Session) Close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	switch st := s.current().(type) {
	case opened:
		s.log.Info("close requested", "event", "close.request")
		drain(st.conn, s.containerName(st.initialVersion), s.log)
		s.setState(closed{})
		s.log.Info("session closed", "event", "closed")
	case closed:
		s.log.Debug("session already closed", "event", "close.noop")
	default:
		panic("session: Close called on a session that was never opened")
	}
}

func (s *Session) current() state {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st state) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}
