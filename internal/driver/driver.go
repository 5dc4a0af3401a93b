// Package driver runs the end-to-end exercise: open a session, hold it until
// the caller cancels, then close it.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/idbharness/internal/session"
)

// Options configures Run.
type Options struct {
	// Session configures the session to open.
	Session session.Config

	// OpenTimeout bounds the wait for the open to resolve. Zero waits
	// indefinitely, including while blocked by other connections.
	OpenTimeout time.Duration

	// Logger receives driver progress. Defaults to slog.Default().
	Logger *slog.Logger
}

// Report describes a completed run.
type Report struct {
	SessionID      string        `json:"session_id"`
	Store          string        `json:"store"`
	InitialVersion int64         `json:"initial_version"`
	Container      string        `json:"container"`
	Held           time.Duration `json:"held_ns"`
}

// Run opens a session, holds it until ctx is done, and closes it. Close
// always completes; only a failed (or timed out) open is returned as an error.
func Run(ctx context.Context, opener session.Opener, opts Options) (*Report, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Session.Logger == nil {
		opts.Session.Logger = log
	}

	s, err := open(ctx, opener, opts, log)
	if err != nil {
		return nil, err
	}

	version, _ := s.InitialVersion()
	container, _ := s.Container()
	report := &Report{
		SessionID:      s.ID(),
		Store:          storeName(opts.Session),
		InitialVersion: version,
		Container:      container,
	}

	log.Info("holding session until cancelled", "session_id", s.ID())
	start := time.Now()
	<-ctx.Done()
	report.Held = time.Since(start)

	log.Info("cancellation received, closing session", "session_id", s.ID(), "cause", context.Cause(ctx))
	s.Close()

	return report, nil
}

type openResult struct {
	s   *session.Session
	err error
}

// open waits for session.Open. Cancelling ctx does not abandon the open: the
// wait continues until the open resolves, and a session it produces is
// closed before returning, so the close barrier always runs. Only
// OpenTimeout abandons the open; a session that arrives later is closed in
// the background.
func open(ctx context.Context, opener session.Opener, opts Options, log *slog.Logger) (*session.Session, error) {
	results := make(chan openResult, 1)
	go func() {
		s, err := session.Open(opener, opts.Session)
		results <- openResult{s: s, err: err}
	}()

	var timeout <-chan time.Time
	if opts.OpenTimeout > 0 {
		timer := time.NewTimer(opts.OpenTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-results:
		if r.err != nil {
			return nil, fmt.Errorf("open session: %w", r.err)
		}
		return r.s, nil
	case <-ctx.Done():
		log.Info("cancelled while opening, waiting for the open to resolve", "cause", context.Cause(ctx))
		if r := <-results; r.s != nil {
			log.Info("closing session that opened after cancellation", "session_id", r.s.ID())
			r.s.Close()
		}
		return nil, fmt.Errorf("open session: %w", ctx.Err())
	case <-timeout:
		go func() {
			r := <-results
			if r.s != nil {
				log.Info("closing session that opened after the wait was abandoned", "session_id", r.s.ID())
				r.s.Close()
			}
		}()
		return nil, fmt.Errorf("open session: %w", context.DeadlineExceeded)
	}
}

func storeName(cfg session.Config) string {
	if cfg.Store == "" {
		return session.DefaultStore
	}
	return cfg.Store
}
