package indexer

import "sync/atomic"

// IndexLock guards against two passes running in the same process. It never
// blocks: a caller that loses the race gets ErrIndexInProgress.
type IndexLock struct {
	state atomic.Int32 // 0 = idle, 1 = pass running
}

// TryAcquire takes the lock if it is free
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release frees the lock. Only the holder may call it.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Held reports whether a pass is running
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}

// Running reports whether a pass is in progress
func (idx *Indexer) Running() bool {
	return idx.lock.Held()
}
