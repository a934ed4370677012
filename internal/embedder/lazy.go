package embedder

import (
	"sync"
	"sync/atomic"
)

// Lazy defers building an Embedder until the first call to Get. The factory
// runs at most once; its result, error included, is memoized.
type Lazy struct {
	once    sync.Once
	factory func() (Embedder, error)
	emb     Embedder
	err     error
	loaded  atomic.Bool
}

// NewLazy returns an accessor that calls factory on first use
func NewLazy(factory func() (Embedder, error)) *Lazy {
	return &Lazy{factory: factory}
}

// Get returns the memoized embedder, building it on the first call
func (l *Lazy) Get() (Embedder, error) {
	l.once.Do(func() {
		l.emb, l.err = l.factory()
		l.loaded.Store(true)
	})
	return l.emb, l.err
}

// Loaded reports whether the factory has run
func (l *Lazy) Loaded() bool {
	return l.loaded.Load()
}

// Close releases the embedder if it was built
func (l *Lazy) Close() error {
	if !l.Loaded() || l.emb == nil {
		return nil
	}
	return l.emb.Close()
}
