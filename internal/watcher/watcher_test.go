package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDebounce = 100 * time.Millisecond

type runningWatcher struct {
	w      *Watcher
	calls  *atomic.Int64
	cancel context.CancelFunc
	done   chan error
}

func startWatcher(t *testing.T, root string, update UpdateFunc) *runningWatcher {
	t.Helper()
	calls := &atomic.Int64{}
	w, err := New(Options{
		Root:     root,
		Exclude:  []string{".codeindex/**", "node_modules/**"},
		Debounce: testDebounce,
	}, func(ctx context.Context) error {
		calls.Add(1)
		if update != nil {
			return update(ctx)
		}
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rw := &runningWatcher{w: w, calls: calls, cancel: cancel, done: make(chan error, 1)}
	go func() { rw.done <- w.Run(ctx) }()
	t.Cleanup(rw.stop)

	// let Run register its watches before the test touches the tree
	time.Sleep(50 * time.Millisecond)
	return rw
}

func (rw *runningWatcher) stop() {
	rw.cancel()
	select {
	case <-rw.done:
	case <-time.After(5 * time.Second):
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{}, nil)
	assert.Error(t, err)

	_, err = New(Options{Root: t.TempDir(), Exclude: []string{"{a"}}, nil)
	assert.Error(t, err)

	w, err := New(Options{Root: t.TempDir()}, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, DefaultDebounce, w.opts.Debounce)
	require.NoError(t, w.fs.Close())
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	root := t.TempDir()
	rw := startWatcher(t, root, nil)

	for _, name := range []string{"a.py", "b.py", "c.py"} {
		writeFile(t, filepath.Join(root, name), "x = 1\n")
	}

	require.Eventually(t, func() bool { return rw.calls.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(3 * testDebounce)
	assert.Equal(t, int64(1), rw.calls.Load())

	stats := rw.w.Stats()
	assert.GreaterOrEqual(t, stats.Events, int64(3))
	assert.Equal(t, int64(1), stats.Updates)
	assert.False(t, stats.LastUpdate.IsZero())
}

func TestWatcher_IgnoresExcluded(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".codeindex"), 0o755))
	rw := startWatcher(t, root, nil)

	writeFile(t, filepath.Join(root, ".codeindex", "index.db"), "data")
	writeFile(t, filepath.Join(root, "node_modules", "lib", "x.js"), "var x = 1")

	assert.Never(t, func() bool { return rw.calls.Load() > 0 }, 5*testDebounce, 20*time.Millisecond)
}

func TestWatcher_NewDirectory(t *testing.T) {
	root := t.TempDir()
	rw := startWatcher(t, root, nil)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg", "sub"), 0o755))
	time.Sleep(3 * testDebounce)
	assert.Equal(t, int64(0), rw.calls.Load(), "empty directories do not trigger updates")

	writeFile(t, filepath.Join(root, "pkg", "sub", "m.py"), "def f():\n    pass\n")
	require.Eventually(t, func() bool { return rw.calls.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestWatcher_CountsFailures(t *testing.T) {
	root := t.TempDir()
	rw := startWatcher(t, root, func(context.Context) error { return errors.New("index is locked") })

	writeFile(t, filepath.Join(root, "a.py"), "x = 1\n")
	require.Eventually(t, func() bool { return rw.w.Stats().Failures == 1 }, 3*time.Second, 10*time.Millisecond)

	// the loop keeps running after a failed update
	writeFile(t, filepath.Join(root, "a.py"), "x = 2\n")
	require.Eventually(t, func() bool { return rw.w.Stats().Updates == 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	w, err := New(Options{Root: t.TempDir(), Debounce: testDebounce}, func(context.Context) error { return nil })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_Excluded(t *testing.T) {
	w := &Watcher{opts: Options{Exclude: []string{".git/**", "**/*.min.js"}}}
	assert.True(t, w.excluded(".git"))
	assert.True(t, w.excluded(".git/objects/ab"))
	assert.True(t, w.excluded("web/app.min.js"))
	assert.False(t, w.excluded("web/app.js"))
	assert.False(t, w.excluded(".github/workflows"))
}
