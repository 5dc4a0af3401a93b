package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/eapache/queue"
	"golang.org/x/text/unicode/norm"
)

// fileExt is the extension of store files inside a factory directory.
const fileExt = ".sqlite"

// Factory hands out connections to the named stores kept in one directory.
// Each store name maps to one SQLite file.
//
// Thread-safety: Factory is safe for concurrent use. Requests against the
// same store name are processed one at a time, in submission order.
type Factory struct {
	dir string

	mu  sync.Mutex
	dbs map[string]*database
}

// Info describes a store on disk.
type Info struct {
	Name       string   `json:"name"`
	Version    int64    `json:"version"`
	Containers []string `json:"containers"`
}

// NewFactory creates a factory rooted at dir, creating the directory if needed.
func NewFactory(dir string) (*Factory, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Factory{dir: dir, dbs: make(map[string]*database)}, nil
}

// Dir returns the directory the factory stores files in.
func (f *Factory) Dir() string { return f.dir }

// Open creates a request to open store name at version. The request does
// nothing until Submit is called, so listeners can be registered first.
func (f *Factory) Open(name string, version int64) *OpenRequest {
	return &OpenRequest{factory: f, name: name, version: version}
}

// Delete force-closes every connection to store name, aborting their open
// transactions and delivering close to each, then removes the store's files.
// Deleting a store that does not exist is not an error.
func (f *Factory) Delete(name string) error {
	normalized, err := normalizeName(name)
	if err != nil {
		return err
	}
	job := &deleteJob{done: make(chan error, 1)}
	f.database(normalized).enqueue(job)
	return <-job.done
}

// Databases describes every store in the factory directory, sorted by name.
func (f *Factory) Databases() ([]Info, error) {
	matches, err := filepath.Glob(filepath.Join(f.dir, "*"+fileExt))
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	sort.Strings(matches)

	infos := make([]Info, 0, len(matches))
	for _, path := range matches {
		info, err := describe(path)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func describe(path string) (Info, error) {
	name := strings.TrimSuffix(filepath.Base(path), fileExt)

	db, err := openSQLite(path)
	if err != nil {
		return Info{}, newError(ErrCodeUnknown, name, "describe store", err)
	}
	defer db.Close()

	version, err := readVersion(db)
	if err != nil {
		return Info{}, newError(ErrCodeUnknown, name, "describe store", err)
	}
	containers, err := listContainers(db)
	if err != nil {
		return Info{}, newError(ErrCodeUnknown, name, "describe store", err)
	}
	return Info{Name: name, Version: version, Containers: containers}, nil
}

func (f *Factory) database(name string) *database {
	f.mu.Lock()
	defer f.mu.Unlock()

	db, ok := f.dbs[name]
	if !ok {
		db = &database{
			name:    name,
			path:    filepath.Join(f.dir, name+fileExt),
			conns:   make(map[*Conn]struct{}),
			pending: queue.New(),
		}
		db.cond = sync.NewCond(&db.mu)
		f.dbs[name] = db
	}
	return db
}

// normalizeName maps a store name to its canonical NFC form and rejects names
// that cannot be used as a file name.
func normalizeName(name string) (string, error) {
	normalized := norm.NFC.String(name)
	switch {
	case normalized == "", normalized == ".", normalized == "..":
		return "", newError(ErrCodeInvalidName, name, "store name is empty or reserved", nil)
	case strings.ContainsAny(normalized, `/\`+"\x00"):
		return "", newError(ErrCodeInvalidName, name, "store name contains a path separator", nil)
	}
	return normalized, nil
}

// job is one unit of work in a database's connection queue.
type job interface {
	run(db *database)
}

// database tracks the live connections and the connection queue of one store.
type database struct {
	name string
	path string

	mu      sync.Mutex
	cond    *sync.Cond
	conns   map[*Conn]struct{}
	pending *queue.Queue
	running bool
}

// enqueue appends j to the connection queue, starting the worker if idle.
func (db *database) enqueue(j job) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.pending.Add(j)
	if !db.running {
		db.running = true
		go db.work()
	}
}

func (db *database) work() {
	for {
		db.mu.Lock()
		if db.pending.Length() == 0 {
			db.running = false
			db.mu.Unlock()
			return
		}
		j := db.pending.Remove().(job)
		db.mu.Unlock()

		j.run(db)
	}
}

func (db *database) register(c *Conn) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.conns[c] = struct{}{}
}

// release drops a fully closed connection and wakes anyone waiting for the
// store to become free.
func (db *database) release(c *Conn) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.conns, c)
	db.cond.Broadcast()
}

func (db *database) live() []*Conn {
	db.mu.Lock()
	defer db.mu.Unlock()

	conns := make([]*Conn, 0, len(db.conns))
	for c := range db.conns {
		conns = append(conns, c)
	}
	return conns
}

// blocking reports whether any live connection has not yet asked to close.
func (db *database) blocking() bool {
	for _, c := range db.live() {
		if !c.isClosePending() {
			return true
		}
	}
	return false
}

// waitUntilFree blocks until every live connection has fully closed.
func (db *database) waitUntilFree() {
	db.mu.Lock()
	defer db.mu.Unlock()
	for len(db.conns) > 0 {
		db.cond.Wait()
	}
}

type deleteJob struct {
	done chan error
}

func (j *deleteJob) run(db *database) {
	for _, c := range db.live() {
		c.forceClose()
	}
	db.waitUntilFree()

	var errs []error
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(db.path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		j.done <- newError(ErrCodeUnknown, db.name, "delete store", err)
		return
	}
	j.done <- nil
}
