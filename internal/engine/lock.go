package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrLocked is returned when another process holds the index lock
var ErrLocked = errors.New("index is locked by another process")

// A lock whose file has not been touched for staleLockAge is assumed to
// belong to a crashed process and is broken.
const (
	staleLockAge   = 10 * time.Minute
	lockHeartbeat  = time.Minute
	lockRetryCount = 2
)

// FileLock is an advisory cross-process lock: a file created with O_EXCL
// holding the owner's pid. The holder refreshes its mtime while it runs.
type FileLock struct {
	path string
	stop chan struct{}
	done sync.WaitGroup
	once sync.Once
}

// AcquireLock creates the lock file at path or fails with ErrLocked
func AcquireLock(path string, log *slog.Logger) (*FileLock, error) {
	for attempt := 0; attempt < lockRetryCount; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write lock file: %w", errors.Join(werr, cerr))
			}
			l := &FileLock{path: path, stop: make(chan struct{})}
			l.done.Add(1)
			go l.heartbeat()
			return l, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		info, statErr := os.Stat(path)
		if errors.Is(statErr, os.ErrNotExist) {
			continue
		}
		if statErr != nil {
			return nil, fmt.Errorf("stat lock file: %w", statErr)
		}
		age := time.Since(info.ModTime())
		if age < staleLockAge {
			return nil, fmt.Errorf("%w (pid %s, held for %s)", ErrLocked, lockOwner(path), age.Round(time.Second))
		}
		log.Warn("breaking stale index lock", "path", path, "owner", lockOwner(path), "age", age.Round(time.Second))
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}
	return nil, ErrLocked
}

func (l *FileLock) heartbeat() {
	defer l.done.Done()
	ticker := time.NewTicker(lockHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			_ = os.Chtimes(l.path, now, now)
		}
	}
}

// Release stops the heartbeat and removes the lock file. It is safe to call
// more than once.
func (l *FileLock) Release() error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		l.done.Wait()
		if rerr := os.Remove(l.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = rerr
		}
	})
	return err
}

func lockOwner(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	if pid := strings.TrimSpace(string(data)); pid != "" {
		return pid
	}
	return "unknown"
}

// lockHeld reports whether a live, non-stale lock file exists at path
func lockHeld(path string) bool {
	info, err := os.Stat(path)
	return err == nil && time.Since(info.ModTime()) < staleLockAge
}
