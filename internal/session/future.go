package session

import "sync"

// future is a value that is resolved exactly once. The first resolve wins;
// later calls are ignored.
type future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
}

func newFuture[T any]() *future[T] {
	return &future[T]{done: make(chan struct{})}
}

// resolve settles the future with v and reports whether this call won.
func (f *future[T]) resolve(v T) bool {
	won := false
	f.once.Do(func() {
		f.value = v
		won = true
		close(f.done)
	})
	return won
}

// wait blocks until the future is resolved and returns its value.
func (f *future[T]) wait() T {
	<-f.done
	return f.value
}
