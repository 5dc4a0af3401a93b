package session

import "github.com/roach88/idbharness/internal/store"

type openResult struct {
	session *Session
	err     error
}

// Open opens a session on cfg.Store at cfg.Version and waits for the open
// request to succeed or fail.
//
// When the store is older than cfg.Version, the container for cfg.Version is
// created during the upgrade. When other connections hold the store open at
// a lower version, Open waits (indefinitely) for them to close. The store's
// error is returned unchanged when the request fails.
func Open(opener Opener, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	id := cfg.IDs.Generate()
	log := cfg.Logger.With("session", id)

	log.Info("open requested", "event", "open.request", "store", cfg.Store, "version", cfg.Version)

	result := newFuture[openResult]()
	req := opener.Open(cfg.Store, cfg.Version)

	req.On(store.EventBlocked, func(ev store.Event) {
		log.Info("open blocked by another connection", "event", "blocked",
			"old_version", ev.OldVersion, "new_version", ev.NewVersion)
	})

	req.On(store.EventUpgradeNeeded, func(ev store.Event) {
		log.Info("upgrade needed", "event", "upgradeneeded",
			"old_version", ev.OldVersion, "new_version", ev.NewVersion)

		name := cfg.ContainerName(ev.NewVersion)
		if err := ev.Tx.CreateContainer(name); err != nil {
			log.Error("container creation failed", "event", "container.error", "container", name, "error", err)
			ev.Tx.Abort()
			return
		}
		log.Info("container created", "event", "container.create", "container", name)
	})

	// The session is built inside the listener so that its connection
	// listeners are in place before the store processes the next request.
	req.On(store.EventSuccess, func(ev store.Event) {
		version := ev.Conn.Version()
		s := newSession(id, storeConn{ev.Conn}, version, cfg.ContainerName, log)
		log.Info("session opened", "event", "success", "version", version)
		result.resolve(openResult{session: s})
	})

	req.On(store.EventError, func(ev store.Event) {
		log.Error("open failed", "event", "error", "error", ev.Err)
		result.resolve(openResult{err: ev.Err})
	})

	req.Submit()

	r := result.wait()
	if r.err != nil {
		return nil, r.err
	}
	return r.session, nil
}
