package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_FreshStoreRunsUpgrade(t *testing.T) {
	f := createTestFactory(t)

	log := newEventLog()
	req := f.Open("harness", 3)
	log.watch(req)
	req.On(EventUpgradeNeeded, func(ev Event) {
		assert.Equal(t, int64(0), ev.OldVersion)
		assert.Equal(t, int64(3), ev.NewVersion)
		assert.Equal(t, VersionChange, ev.Tx.Mode())
		assert.NoError(t, ev.Tx.CreateContainer("records_v3"))
	})
	req.Submit()

	ev := log.waitFor(t, EventSuccess)
	defer closeAndWait(t, ev.Conn)

	assert.Equal(t, []EventType{EventUpgradeNeeded, EventSuccess}, log.types())
	assert.Equal(t, int64(3), ev.Conn.Version())
	assert.Equal(t, "harness", ev.Conn.Name())

	containers, err := ev.Conn.Containers()
	require.NoError(t, err)
	assert.Equal(t, []string{"records_v3"}, containers)

	_, err = os.Stat(filepath.Join(f.Dir(), "harness.sqlite"))
	assert.NoError(t, err, "store file should exist")
}

func TestOpen_SameVersionSkipsUpgrade(t *testing.T) {
	f := createTestFactory(t)
	closeAndWait(t, openTestConn(t, f, "harness", 1, "records_v1"))

	log := newEventLog()
	req := f.Open("harness", 1)
	log.watch(req)
	req.Submit()

	ev := log.waitFor(t, EventSuccess)
	defer closeAndWait(t, ev.Conn)

	assert.Equal(t, []EventType{EventSuccess}, log.types())
	assert.Equal(t, int64(1), ev.Conn.Version())
}

func TestOpen_LowerVersionFails(t *testing.T) {
	f := createTestFactory(t)
	closeAndWait(t, openTestConn(t, f, "harness", 2, "records_v2"))

	log := newEventLog()
	req := f.Open("harness", 1)
	log.watch(req)
	req.Submit()

	ev := log.waitFor(t, EventError)
	assert.True(t, IsVersionError(ev.Err), "expected version error, got %v", ev.Err)
	assert.Equal(t, []EventType{EventError}, log.types())
}

func TestOpen_InvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		storeName string
		version   int64
		code      ErrorCode
	}{
		{"zero version", "harness", 0, ErrCodeInvalidVersion},
		{"negative version", "harness", -4, ErrCodeInvalidVersion},
		{"version above header range", "harness", MaxVersion + 1, ErrCodeInvalidVersion},
		{"version far above header range", "harness", 3_000_000_000, ErrCodeInvalidVersion},
		{"empty name", "", 1, ErrCodeInvalidName},
		{"path separator", "a/b", 1, ErrCodeInvalidName},
		{"parent dir", "..", 1, ErrCodeInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := createTestFactory(t)
			log := newEventLog()
			req := f.Open(tt.storeName, tt.version)
			log.watch(req)
			req.Submit()

			ev := log.waitFor(t, EventError)
			assert.Equal(t, tt.code, CodeOf(ev.Err))
		})
	}
}

func TestOpen_MaxVersionPersists(t *testing.T) {
	f := createTestFactory(t)
	closeAndWait(t, openTestConn(t, f, "harness", MaxVersion, "records_max"))

	// Reopening at the same version must not run the upgrade again.
	req := f.Open("harness", MaxVersion)
	log := newEventLog()
	log.watch(req)
	req.Submit()
	ev := log.waitFor(t, EventSuccess)
	defer closeAndWait(t, ev.Conn)

	assert.Equal(t, int64(MaxVersion), ev.Conn.Version())
	assert.NotContains(t, log.types(), EventUpgradeNeeded)

	infos, err := f.Databases()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, int64(MaxVersion), infos[0].Version)
}

func TestOpen_SubmitTwiceIsNoop(t *testing.T) {
	f := createTestFactory(t)

	log := newEventLog()
	req := f.Open("harness", 1)
	log.watch(req)
	req.Submit()
	req.Submit()

	ev := log.waitFor(t, EventSuccess)
	closeAndWait(t, ev.Conn)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []EventType{EventUpgradeNeeded, EventSuccess}, log.types())
}

func TestOpen_BlockedUntilOtherConnectionCloses(t *testing.T) {
	f := createTestFactory(t)
	first := openTestConn(t, f, "harness", 1, "records_v1")

	connLog := newEventLog()
	first.On(EventVersionChange, connLog.listener())

	log := newEventLog()
	req := f.Open("harness", 2)
	log.watch(req)
	req.On(EventUpgradeNeeded, func(ev Event) {
		assert.NoError(t, ev.Tx.CreateContainer("records_v2"))
	})
	req.Submit()

	vc := connLog.waitFor(t, EventVersionChange)
	assert.Equal(t, int64(1), vc.OldVersion)
	assert.Equal(t, int64(2), vc.NewVersion)

	blocked := log.waitFor(t, EventBlocked)
	assert.Equal(t, int64(1), blocked.OldVersion)
	assert.Equal(t, int64(2), blocked.NewVersion)

	// Still waiting on the first connection.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []EventType{EventBlocked}, log.types())

	first.Close()

	ev := log.waitFor(t, EventSuccess)
	defer closeAndWait(t, ev.Conn)

	assert.Equal(t, []EventType{EventBlocked, EventUpgradeNeeded, EventSuccess}, log.types())
	containers, err := ev.Conn.Containers()
	require.NoError(t, err)
	assert.Equal(t, []string{"records_v1", "records_v2"}, containers)
}

func TestOpen_NotBlockedWhenOtherClosesOnVersionChange(t *testing.T) {
	f := createTestFactory(t)
	first := openTestConn(t, f, "harness", 1, "records_v1")
	first.On(EventVersionChange, func(Event) { first.Close() })

	log := newEventLog()
	req := f.Open("harness", 2)
	log.watch(req)
	req.Submit()

	ev := log.waitFor(t, EventSuccess)
	defer closeAndWait(t, ev.Conn)

	assert.Equal(t, []EventType{EventUpgradeNeeded, EventSuccess}, log.types())
}

func TestOpen_AbortedUpgradeFails(t *testing.T) {
	f := createTestFactory(t)

	log := newEventLog()
	req := f.Open("harness", 5)
	log.watch(req)
	req.On(EventUpgradeNeeded, func(ev Event) {
		require.NoError(t, ev.Tx.CreateContainer("records_v5"))
		ev.Tx.Abort()
	})
	req.Submit()

	ev := log.waitFor(t, EventError)
	assert.True(t, IsAborted(ev.Err), "expected abort, got %v", ev.Err)

	infos, err := f.Databases()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, int64(0), infos[0].Version, "aborted upgrade must not change the version")
	assert.Empty(t, infos[0].Containers)
}

func TestOpen_NormalizesName(t *testing.T) {
	f := createTestFactory(t)

	// "é" written as e + combining acute accent.
	c := openTestConn(t, f, "cafe\u0301", 1)
	defer closeAndWait(t, c)

	_, err := os.Stat(filepath.Join(f.Dir(), "caf\u00e9.sqlite"))
	assert.NoError(t, err)
}

func TestConn_CloseCommitsOpenTransaction(t *testing.T) {
	f := createTestFactory(t)
	c := openTestConn(t, f, "harness", 1, "records_v1")

	tx, err := c.Transaction([]string{"records_v1"}, ReadOnly)
	require.NoError(t, err)

	log := newEventLog()
	tx.On(EventComplete, log.listener())
	tx.On(EventAbort, log.listener())

	c.Close()

	log.waitFor(t, EventComplete)
	select {
	case <-c.Done():
	case <-time.After(testTimeout):
		t.Fatal("connection did not finish closing")
	}
	assert.Equal(t, []EventType{EventComplete}, log.types())
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	f := createTestFactory(t)
	c := openTestConn(t, f, "harness", 1)

	c.Close()
	c.Close()
	closeAndWait(t, c)
}

func TestConn_TransactionAfterCloseFails(t *testing.T) {
	f := createTestFactory(t)
	c := openTestConn(t, f, "harness", 1, "records_v1")
	c.Close()

	_, err := c.Transaction([]string{"records_v1"}, ReadOnly)
	assert.True(t, IsInvalidState(err), "expected invalid state, got %v", err)
}

func TestConn_TransactionValidation(t *testing.T) {
	f := createTestFactory(t)
	c := openTestConn(t, f, "harness", 1, "records_v1")
	defer closeAndWait(t, c)

	_, err := c.Transaction(nil, ReadOnly)
	assert.Equal(t, ErrCodeInvalidName, CodeOf(err))

	_, err = c.Transaction([]string{"missing"}, ReadOnly)
	assert.True(t, IsNotFound(err))

	_, err = c.Transaction([]string{"records_v1"}, VersionChange)
	assert.True(t, IsInvalidState(err))
}

func TestFactory_DeleteForceClosesConnections(t *testing.T) {
	f := createTestFactory(t)
	c := openTestConn(t, f, "harness", 1, "records_v1")

	tx, err := c.Transaction([]string{"records_v1"}, ReadWrite)
	require.NoError(t, err)

	txLog := newEventLog()
	tx.On(EventComplete, txLog.listener())
	tx.On(EventAbort, txLog.listener())

	connLog := newEventLog()
	c.On(EventClose, connLog.listener())
	c.On(EventAbort, connLog.listener())

	require.NoError(t, f.Delete("harness"))

	assert.Equal(t, []EventType{EventAbort}, txLog.types())
	assert.Equal(t, []EventType{EventAbort, EventClose}, connLog.types())
	assert.True(t, IsAborted(tx.Err()))

	_, err = os.Stat(filepath.Join(f.Dir(), "harness.sqlite"))
	assert.True(t, os.IsNotExist(err), "store file should be removed")
}

func TestTx_ListenerAfterForcedAbortSeesTerminalEvent(t *testing.T) {
	f := createTestFactory(t)
	c := openTestConn(t, f, "harness", 1, "records_v1")

	tx, err := c.Transaction([]string{"records_v1"}, ReadOnly)
	require.NoError(t, err)
	assert.Same(t, c, tx.Conn())
	assert.Equal(t, ReadOnly, tx.Mode())

	// The transaction ends before anyone listens.
	require.NoError(t, f.Delete("harness"))
	require.True(t, IsAborted(tx.Err()))

	log := newEventLog()
	tx.On(EventComplete, log.listener())
	tx.On(EventError, log.listener())
	tx.On(EventAbort, log.listener())

	ev := log.waitFor(t, EventAbort)
	assert.True(t, IsAborted(ev.Err))
	assert.Equal(t, []EventType{EventAbort}, log.types())

	c.Close()
	select {
	case <-c.Done():
	case <-time.After(testTimeout):
		t.Fatal("forced-closed connection never reported done")
	}
}

func TestFactory_DeleteMissingStore(t *testing.T) {
	f := createTestFactory(t)
	assert.NoError(t, f.Delete("nothing-here"))
}

func TestFactory_Databases(t *testing.T) {
	f := createTestFactory(t)
	closeAndWait(t, openTestConn(t, f, "beta", 2, "records_v2"))
	closeAndWait(t, openTestConn(t, f, "alpha", 1, "records_v1"))

	infos, err := f.Databases()
	require.NoError(t, err)
	assert.Equal(t, []Info{
		{Name: "alpha", Version: 1, Containers: []string{"records_v1"}},
		{Name: "beta", Version: 2, Containers: []string{"records_v2"}},
	}, infos)
}

func TestError_Format(t *testing.T) {
	err := newError(ErrCodeVersion, "harness", "requested version 1 is less than the existing version 2", nil)
	assert.Equal(t, "VERSION: requested version 1 is less than the existing version 2 (store=harness)", err.Error())
	assert.Equal(t, ErrCodeVersion, CodeOf(err))
	assert.Equal(t, ErrorCode(""), CodeOf(os.ErrNotExist))
}
